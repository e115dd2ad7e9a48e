package ble

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForGlove(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCentral(logger, LeftHand)
	s := NewScanner(c, DefaultScanConfig(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.False(t, s.WaitForGlove(ctx), "no glove before the deadline")

	done := make(chan bool, 1)
	go func() { done <- s.WaitForGlove(context.Background()) }()
	c.mu.Lock()
	c.gloves[LeftHand] = &glove{hand: LeftHand}
	c.mu.Unlock()

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("glove connection not noticed")
	}
	assert.True(t, c.IsConnected(LeftHand))
}
