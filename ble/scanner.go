package ble

import (
	"context"
	"log/slog"
	"time"
)

// ScanConfig controls reconnection.
type ScanConfig struct {
	// Interval between checks for missing gloves.
	Interval time.Duration
	// AutoReconnect rescans as soon as a glove drops.
	AutoReconnect bool
}

// DefaultScanConfig checks every two seconds and reconnects on drop.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{Interval: 2 * time.Second, AutoReconnect: true}
}

// Scanner keeps the managed gloves connected.
type Scanner struct {
	central *Central
	config  ScanConfig
	logger  *slog.Logger
	kick    chan struct{}
}

// NewScanner creates a Scanner for central.
func NewScanner(central *Central, config ScanConfig, logger *slog.Logger) *Scanner {
	if config.Interval <= 0 {
		config.Interval = DefaultScanConfig().Interval
	}
	return &Scanner{
		central: central,
		config:  config,
		logger:  logger.With("component", "ble-scanner"),
		kick:    make(chan struct{}, 1),
	}
}

// Run scans for missing gloves until ctx is done.
func (s *Scanner) Run(ctx context.Context) {
	if s.config.AutoReconnect {
		s.central.SetDisconnectHandler(func(hand Hand) {
			s.logger.Info("glove dropped, rescanning", "hand", hand)
			select {
			case s.kick <- struct{}{}:
			default:
			}
		})
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	defer s.central.StopScanning()

	s.check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		s.check()
	}
}

func (s *Scanner) check() {
	missing := s.central.Missing()
	if len(missing) == 0 {
		return
	}
	s.logger.Debug("scanning", "missing", missing)
	if err := s.central.StartScanning(); err != nil {
		s.logger.Warn("start scan", "error", err)
	}
}

// WaitForGlove blocks until any managed glove is connected or ctx is done.
func (s *Scanner) WaitForGlove(ctx context.Context) bool {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(s.central.Missing()) < len(s.central.hands) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
