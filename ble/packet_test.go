package ble

import (
	"encoding/binary"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(ax, ay, az int16, seq uint16, battery, flags uint8) []byte {
	b := make([]byte, PacketSize)
	binary.LittleEndian.PutUint16(b[0:], uint16(ax))
	binary.LittleEndian.PutUint16(b[2:], uint16(ay))
	binary.LittleEndian.PutUint16(b[4:], uint16(az))
	gx := int16(-15)
	binary.LittleEndian.PutUint16(b[6:], uint16(gx))
	binary.LittleEndian.PutUint32(b[12:], 123456)
	binary.LittleEndian.PutUint16(b[16:], seq)
	b[18] = battery
	b[19] = flags
	return b
}

func TestParsePacket(t *testing.T) {
	p, err := ParsePacket(encode(300, -400, 0, 7, 88, FlagCalibrated))
	require.NoError(t, err)

	x, y, z := p.Accel()
	assert.Equal(t, 3.0, x)
	assert.Equal(t, -4.0, y)
	assert.Equal(t, 0.0, z)
	assert.InDelta(t, 5.0, p.Magnitude(), 1e-12)
	assert.Equal(t, int16(-15), p.Gyro[0])
	assert.Equal(t, uint32(123456), p.Timestamp)
	assert.Equal(t, uint16(7), p.Sequence)
	assert.Equal(t, uint8(88), p.Battery)
	assert.True(t, p.Calibrated())
	assert.False(t, p.Charging())
}

func TestParsePacketSize(t *testing.T) {
	_, err := ParsePacket(make([]byte, 19))
	assert.ErrorIs(t, err, ErrInvalidPacketSize)
}

func TestLossTracker(t *testing.T) {
	var l lossTracker
	for _, seq := range []uint16{1, 2, 3, 6, 7} {
		l.observe(seq)
	}
	assert.InDelta(t, 2.0/7.0, l.ratio(), 1e-12)

	var wrap lossTracker
	wrap.observe(65535)
	wrap.observe(0)
	assert.Zero(t, wrap.ratio(), "sequence wraps without loss")
}

func TestParseHand(t *testing.T) {
	h, err := ParseHand("Right")
	require.NoError(t, err)
	assert.Equal(t, RightHand, h)
	_, err = ParseHand("both")
	assert.Error(t, err)
}

func TestChildWithUUID(t *testing.T) {
	dev := "/org/bluez/hci0/dev_AA_BB"
	managed := managedObjects{
		dbus.ObjectPath(dev + "/service0010"): {
			"org.bluez.GattService1": {"UUID": dbus.MakeVariant("0000180f-0000-1000-8000-00805f9b34fb")},
		},
		dbus.ObjectPath(dev + "/service0028"): {
			"org.bluez.GattService1": {"UUID": dbus.MakeVariant(serviceUUID)},
		},
		dbus.ObjectPath(dev + "/service0028/char0029"): {
			"org.bluez.GattCharacteristic1": {"UUID": dbus.MakeVariant(sensorCharUUID)},
		},
	}

	svc, ok := childWithUUID(managed, dev, "service", "org.bluez.GattService1", serviceUUID)
	require.True(t, ok)
	assert.Equal(t, dev+"/service0028", svc)

	char, ok := childWithUUID(managed, svc, "char", "org.bluez.GattCharacteristic1", "00001235-0000-1000-8000-00805F9B34FB")
	require.True(t, ok)
	assert.Equal(t, dev+"/service0028/char0029", char)

	_, ok = childWithUUID(managed, dev, "char", "org.bluez.GattCharacteristic1", sensorCharUUID)
	assert.False(t, ok, "grandchildren are not direct children")
}

func TestServicesResolvedSignal(t *testing.T) {
	sig := &dbus.Signal{Body: []any{
		"org.bluez.Device1",
		map[string]dbus.Variant{"ServicesResolved": dbus.MakeVariant(true)},
	}}
	assert.True(t, servicesResolved(sig))

	sig.Body[0] = "org.bluez.Adapter1"
	assert.False(t, servicesResolved(sig))
	assert.False(t, servicesResolved(&dbus.Signal{}))
}
