// Package probe sends ICMP echo requests. The demo uses it as a delay
// source for barrier workers: a worker waits for one round trip before
// arriving.
//
// Results come back in two styles: a future (PingAsync) and a callback
// (PingWithEvent).
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/gythreading/rally/internal/config"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// ErrNilHandler is returned by PingWithEvent when no handler is given.
var ErrNilHandler = errors.New("probe: nil event handler")

// Reply is a received echo reply.
type Reply struct {
	Addr net.Addr
	Seq  int
	RTT  time.Duration
}

// Result pairs the probed target with its reply. Reply is nil when the
// probe failed.
type Result struct {
	Target string
	Reply  *Reply
}

// Handler receives the outcome of PingWithEvent.
type Handler func(Result, error)

// exchangeFunc sends one echo to dst and waits for its reply.
type exchangeFunc func(ctx context.Context, dst *net.IPAddr, seq int) (*Reply, error)

// Pinger sends ICMP echo requests. A Pinger is safe for concurrent use:
// every request gets its own socket.
type Pinger struct {
	timeout time.Duration
	ttl     int
	payload []byte

	seq      atomic.Uint32
	resolve  func(ctx context.Context, target string) (*net.IPAddr, error)
	exchange exchangeFunc
}

// Option configures a Pinger.
type Option func(*Pinger)

// WithTimeout bounds a single probe. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(p *Pinger) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTTL sets the hop limit of outgoing echoes.
func WithTTL(ttl int) Option {
	return func(p *Pinger) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithPayload replaces the echo body.
func WithPayload(b []byte) Option {
	return func(p *Pinger) {
		p.payload = append([]byte(nil), b...)
	}
}

// New returns a Pinger using unprivileged ICMP ("udp4") sockets.
func New(opts ...Option) *Pinger {
	p := &Pinger{
		timeout: config.PingTimeout,
		ttl:     config.PingTTL,
		payload: bytes.Repeat([]byte{'a'}, config.PingPayloadSize),
	}
	p.resolve = resolveIPv4
	p.exchange = p.icmpExchange
	for _, o := range opts {
		o(p)
	}
	return p
}

// Ping probes target once and blocks for the reply.
func (p *Pinger) Ping(ctx context.Context, target string) (Result, error) {
	res := Result{Target: target}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dst, err := p.resolve(ctx, target)
	if err != nil {
		return res, fmt.Errorf("probe: resolve %q: %w", target, err)
	}
	seq := int(uint16(p.seq.Add(1)))
	reply, err := p.exchange(ctx, dst, seq)
	if err != nil {
		return res, fmt.Errorf("probe: ping %q: %w", target, err)
	}
	res.Reply = reply
	return res, nil
}

// PingAsync probes target in the background. The returned channel yields
// exactly one Result; Reply is nil if the probe failed.
func (p *Pinger) PingAsync(ctx context.Context, target string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		res, _ := p.Ping(ctx, target)
		out <- res
	}()
	return out
}

// PingWithEvent probes target in the background and reports the outcome
// to h.
func (p *Pinger) PingWithEvent(ctx context.Context, target string, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	go func() {
		h(p.Ping(ctx, target))
	}()
	return nil
}

func resolveIPv4(ctx context.Context, target string) (*net.IPAddr, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, target)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address for %q", target)
}

func (p *Pinger) icmpExchange(ctx context.Context, dst *net.IPAddr, seq int) (*Reply, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.IPv4PacketConn().SetTTL(p.ttl); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}
	// Unblock ReadFrom on cancellation.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	id := os.Getpid() & 0xffff
	wb, err := encodeEcho(id, seq, p.payload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	// Unprivileged sockets want a UDP address.
	if _, err := conn.WriteTo(wb, &net.UDPAddr{IP: dst.IP, Zone: dst.Zone}); err != nil {
		return nil, err
	}

	rb := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(rb)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if echoSeq, ok := matchEchoReply(rb[:n], seq); ok {
			return &Reply{Addr: peer, Seq: echoSeq, RTT: time.Since(start)}, nil
		}
	}
}

func encodeEcho(id, seq int, payload []byte) ([]byte, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: payload},
	}
	return msg.Marshal(nil)
}

// matchEchoReply reports whether b is the echo reply for seq. The kernel
// rewrites the identifier of unprivileged echoes, so only the sequence
// number is compared.
func matchEchoReply(b []byte, seq int) (int, bool) {
	msg, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), b)
	if err != nil || msg.Type != ipv4.ICMPTypeEchoReply {
		return 0, false
	}
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok || echo.Seq != seq {
		return 0, false
	}
	return echo.Seq, true
}
