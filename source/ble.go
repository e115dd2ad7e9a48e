package source

import (
	"context"
	"log/slog"

	"punch-power/ble"
)

var _ Connector = (*BLE)(nil)

// BLE streams the acceleration magnitude of one glove.
type BLE struct {
	hand    ble.Hand
	central *ble.Central
	scanner *ble.Scanner
	logger  *slog.Logger
}

// NewBLE connects to the glove on hand.
func NewBLE(hand ble.Hand, cfg ble.ScanConfig, logger *slog.Logger) *BLE {
	central := ble.NewCentral(logger, hand)
	return &BLE{
		hand:    hand,
		central: central,
		scanner: ble.NewScanner(central, cfg, logger),
		logger:  logger.With("component", "ble-source", "hand", hand),
	}
}

func (b *BLE) Name() string             { return "ble " + b.hand.String() }
func (b *BLE) HasHardwareSensor() bool { return true }

// Run enables the adapter and forwards notifications until ctx is done.
func (b *BLE) Run(ctx context.Context, out chan<- Reading) error {
	if err := b.central.Enable(); err != nil {
		return err
	}
	b.central.SetPacketHandler(func(hand ble.Hand, p ble.Packet) {
		if hand != b.hand {
			return
		}
		// the notification goroutine must not outlive ctx
		send(ctx, out, Reading{Acceleration: p.Magnitude(), OK: true, Time: timeNow()})
	})
	defer b.central.DisconnectAll()

	b.scanner.Run(ctx)
	return ctx.Err()
}

// WaitConnected blocks until the glove is connected or ctx is done.
func (b *BLE) WaitConnected(ctx context.Context) bool {
	if !b.scanner.WaitForGlove(ctx) {
		return false
	}
	b.logger.Info("glove connected")
	return true
}

// PacketLoss reports the estimated loss ratio and battery of the glove.
func (b *BLE) PacketLoss() (loss float64, battery uint8, ok bool) {
	return b.central.PacketLoss(b.hand)
}
