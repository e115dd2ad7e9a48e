package source

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.bug.st/serial"
)

// PortOptions are the serial line settings.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Mode validates the options, fills defaults and converts them for go.bug.st/serial.
func (o PortOptions) Mode() (*serial.Mode, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = 115200
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return nil, fmt.Errorf("invalid data bits %d", o.DataBits)
	}

	var stop serial.StopBits
	switch o.StopBits {
	case 0, 1:
		stop = serial.OneStopBit
	case 2:
		stop = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d", o.StopBits)
	}

	var parity serial.Parity
	switch strings.ToUpper(strings.TrimSpace(o.Parity)) {
	case "", "N", "NONE":
		parity = serial.NoParity
	case "E", "EVEN":
		parity = serial.EvenParity
	case "O", "ODD":
		parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", o.Parity)
	}

	return &serial.Mode{BaudRate: o.BaudRate, DataBits: o.DataBits, StopBits: stop, Parity: parity}, nil
}

// opener abstracts serial.Open for tests.
type opener func(path string, mode *serial.Mode) (serial.Port, error)

// Serial reads newline-delimited glove packets from a serial port.
type Serial struct {
	path   string
	opts   PortOptions
	pcm    PCMSink
	logger *slog.Logger
	open   opener
}

// NewSerial reads from the port at path. pcm may be nil.
func NewSerial(path string, opts PortOptions, pcm PCMSink, logger *slog.Logger) *Serial {
	return &Serial{
		path:   path,
		opts:   opts,
		pcm:    pcm,
		logger: logger.With("component", "serial", "port", path),
		open:   serial.Open,
	}
}

func (s *Serial) Name() string             { return "serial " + s.path }
func (s *Serial) HasHardwareSensor() bool { return true }

// Run reads lines until ctx is done or the port fails.
func (s *Serial) Run(ctx context.Context, out chan<- Reading) error {
	mode, err := s.opts.Mode()
	if err != nil {
		return fmt.Errorf("serial %s: %w", s.path, err)
	}
	port, err := s.open(s.path, mode)
	if err != nil {
		return fmt.Errorf("serial open %s: %w", s.path, err)
	}
	s.logger.Info("port open", "baud", mode.BaudRate)

	go func() {
		<-ctx.Done()
		port.Close()
	}()

	scanner := bufio.NewScanner(port)
	scanner.Buffer(make([]byte, 4096), 64*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		pkt, err := decodePacket([]byte(line))
		if err != nil {
			s.logger.Warn("bad line", "error", err)
			continue
		}
		if pkt.Type != packetData {
			s.logger.Debug("non-data packet", "type", pkt.Type)
			continue
		}
		if s.pcm != nil {
			s.pcm.Feed(pkt.PCM)
		}
		r := pkt.reading()
		r.Time = timeNow()
		if !send(ctx, out, r) {
			return ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serial read %s: %w", s.path, err)
	}
	return fmt.Errorf("serial %s: port closed", s.path)
}
