package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

const udpBufferSize = 8192

// UDP receives glove packets on a UDP socket. The first data sender becomes the
// device that commands are sent back to.
type UDP struct {
	addr   string
	pcm    PCMSink
	logger *slog.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	device *net.UDPAddr
}

// NewUDP listens on addr (e.g. ":4210") once Run is called. pcm may be nil.
func NewUDP(addr string, pcm PCMSink, logger *slog.Logger) *UDP {
	return &UDP{addr: addr, pcm: pcm, logger: logger.With("component", "udp")}
}

// LocalAddr returns the bound address, or nil before Run has started listening.
func (u *UDP) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

func (u *UDP) Name() string             { return "udp " + u.addr }
func (u *UDP) HasHardwareSensor() bool { return true }

// Run reads packets until ctx is done.
func (u *UDP) Run(ctx context.Context, out chan<- Reading) error {
	laddr, err := net.ResolveUDPAddr("udp4", u.addr)
	if err != nil {
		return fmt.Errorf("udp resolve %s: %w", u.addr, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("udp listen %s: %w", u.addr, err)
	}
	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()
	u.logger.Info("listening", "addr", conn.LocalAddr().String())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, udpBufferSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			u.logger.Warn("read", "error", err)
			continue
		}
		if !u.handle(ctx, buf[:n], src, out) {
			return ctx.Err()
		}
	}
}

// handle processes one datagram. It returns false once ctx is done.
func (u *UDP) handle(ctx context.Context, b []byte, src *net.UDPAddr, out chan<- Reading) bool {
	pkt, err := decodePacket(b)
	if err != nil {
		u.logger.Warn("bad packet", "from", src.String(), "error", err)
		return true
	}

	switch pkt.Type {
	case packetDiscover:
		u.reply(src, `{"type":"ack"}`)
		u.logger.Info("discovery ack", "to", src.String())
	case packetData:
		u.lockOn(src)
		if u.pcm != nil {
			u.pcm.Feed(pkt.PCM)
		}
		r := pkt.reading()
		r.Time = timeNow()
		return send(ctx, out, r)
	case packetResetAck:
		u.logger.Info("device acknowledged reset")
	default:
		u.logger.Warn("unknown packet type", "type", pkt.Type)
	}
	return true
}

func (u *UDP) lockOn(src *net.UDPAddr) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.device == nil {
		u.device = src
		u.logger.Info("device streaming", "from", src.String())
	}
}

func (u *UDP) reply(to *net.UDPAddr, msg string) {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.WriteToUDP([]byte(msg), to); err != nil {
		u.logger.Warn("send", "to", to.String(), "error", err)
	}
}

// SendCommand sends {"type":cmd} to the streaming device, if any.
func (u *UDP) SendCommand(cmd string) error {
	u.mu.Lock()
	device := u.device
	u.mu.Unlock()
	if device == nil {
		return fmt.Errorf("udp: no device connected")
	}
	u.reply(device, fmt.Sprintf(`{"type":%q}`, cmd))
	return nil
}
