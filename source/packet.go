package source

import (
	"encoding/json"
	"fmt"
)

// Packet is the JSON frame sent by the glove firmware over UDP and serial.
type Packet struct {
	Type string  `json:"type"` // "data" | "discover" | "session_reset_ack"
	AX   float64 `json:"ax"`
	AY   float64 `json:"ay"`
	AZ   float64 `json:"az"`
	TS   int64   `json:"ts"` // device millis
	// PCM optionally carries the microphone frame captured since the last packet.
	PCM []float64 `json:"pcm,omitempty"`
	// NoAcc marks a frame whose accelerometer read failed.
	NoAcc bool `json:"no_acc,omitempty"`
}

const (
	packetData     = "data"
	packetDiscover = "discover"
	packetResetAck = "session_reset_ack"
)

func decodePacket(b []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("decode packet: %w", err)
	}
	if p.Type == "" {
		p.Type = packetData
	}
	return p, nil
}

// reading converts a data packet.
func (p Packet) reading() Reading {
	if p.NoAcc {
		return Reading{}
	}
	return Reading{Acceleration: Magnitude(p.AX, p.AY, p.AZ), OK: true}
}

// PCMSink receives raw microphone frames.
type PCMSink interface {
	Feed(pcm []float64)
}
