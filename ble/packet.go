// Package ble connects to the punch glove over Bluetooth LE and decodes its
// sensor notifications.
package ble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// PacketSize is the length of one sensor notification.
const PacketSize = 20

// Packet is one glove notification. Multi-byte fields are little-endian on the
// wire.
//
//	0..5   acc x,y,z   int16, centi-m/s²
//	6..11  gyro x,y,z  int16, deci-°/s
//	12..15 timestamp   uint32, ms since boot
//	16..17 sequence    uint16
//	18     battery     uint8, percent
//	19     flags       uint8
type Packet struct {
	Acc       [3]int16
	Gyro      [3]int16
	Timestamp uint32
	Sequence  uint16
	Battery   uint8
	Flags     uint8
}

const (
	FlagCharging   uint8 = 1 << 0
	FlagCalibrated uint8 = 1 << 1
)

// ErrInvalidPacketSize is returned for notifications that are not PacketSize long.
var ErrInvalidPacketSize = errors.New("invalid packet size")

// ParsePacket decodes a notification.
func ParsePacket(data []byte) (Packet, error) {
	if len(data) != PacketSize {
		return Packet{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPacketSize, PacketSize, len(data))
	}
	var p Packet
	for i := 0; i < 3; i++ {
		p.Acc[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
		p.Gyro[i] = int16(binary.LittleEndian.Uint16(data[6+2*i:]))
	}
	p.Timestamp = binary.LittleEndian.Uint32(data[12:16])
	p.Sequence = binary.LittleEndian.Uint16(data[16:18])
	p.Battery = data[18]
	p.Flags = data[19]
	return p, nil
}

// Accel returns the acceleration in m/s².
func (p Packet) Accel() (x, y, z float64) {
	return float64(p.Acc[0]) / 100, float64(p.Acc[1]) / 100, float64(p.Acc[2]) / 100
}

// Magnitude returns the acceleration magnitude in m/s².
func (p Packet) Magnitude() float64 {
	x, y, z := p.Accel()
	return math.Sqrt(x*x + y*y + z*z)
}

// Charging reports the charging flag.
func (p Packet) Charging() bool { return p.Flags&FlagCharging != 0 }

// Calibrated reports whether the glove IMU finished its own calibration.
func (p Packet) Calibrated() bool { return p.Flags&FlagCalibrated != 0 }

func (p Packet) String() string {
	x, y, z := p.Accel()
	return fmt.Sprintf("acc=(%.2f,%.2f,%.2f) seq=%d bat=%d%% flags=%#02x", x, y, z, p.Sequence, p.Battery, p.Flags)
}

// lossTracker estimates packet loss from sequence gaps.
type lossTracker struct {
	last     uint16
	seen     bool
	received uint64
	missed   uint64
}

func (l *lossTracker) observe(seq uint16) {
	l.received++
	if l.seen {
		// uint16 arithmetic wraps with the counter
		if gap := seq - l.last - 1; gap > 0 && gap < 1000 {
			l.missed += uint64(gap)
		}
	}
	l.last = seq
	l.seen = true
}

// ratio returns the fraction of packets lost so far.
func (l *lossTracker) ratio() float64 {
	total := l.received + l.missed
	if total == 0 {
		return 0
	}
	return float64(l.missed) / float64(total)
}
