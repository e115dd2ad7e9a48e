package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockNowAndSince(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	m := NewMock(start)
	m.Advance(90 * time.Second)

	assert.Equal(t, start.Add(90*time.Second), m.Now())
	assert.Equal(t, 90*time.Second, m.Since(start))
}

func TestMockAfterFiresOnAdvance(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	ch := m.After(time.Second)

	m.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	m.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		assert.Equal(t, time.Unix(1, 0), got)
	default:
		t.Fatal("did not fire at deadline")
	}
}

func TestMockTickerStop(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	tk := m.NewTicker(10 * time.Millisecond)

	m.Advance(10 * time.Millisecond)
	require.Len(t, tk.C(), 1)
	<-tk.C()

	tk.Stop()
	m.Advance(10 * time.Millisecond)
	assert.Len(t, tk.C(), 0)
}

func TestRealClockAfter(t *testing.T) {
	select {
	case <-Real{}.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("real After did not fire")
	}
}
