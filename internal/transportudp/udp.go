// Package transportudp is a concrete swim.Transport over UDP
// datagrams, using the package's binary codec for framing.
package transportudp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/swim/internal/swim"
)

// readBufferSize matches swim.MaxMessageSize: a datagram this large
// is the worst case, never exceeded by the codec's own TooLarge check.
const readBufferSize = swim.MaxMessageSize

// Transport is a swim.Transport backed by a single UDP socket. The
// engine treats a nil error from Send as "delivered to the kernel",
// never as delivery confirmation — acks are how the protocol learns
// a peer actually received anything.
type Transport struct {
	conn   *net.UDPConn
	local  string
	logger *zap.Logger

	incoming chan swim.Incoming

	mu    sync.Mutex
	peers map[string]swim.MemberID // address string -> last known identity

	closeOnce sync.Once
	closed    chan struct{}
}

// Listen opens a UDP socket at bindAddr (e.g. ":7946") and starts its
// receive loop. Close stops the loop and releases the socket.
func Listen(bindAddr string, logger *zap.Logger, bufSize int) (*Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr, err := net.ResolveUDPAddr("udp4", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transportudp: resolve %q: %w", bindAddr, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("transportudp: listen %q: %w", bindAddr, err)
	}
	if bufSize <= 0 {
		bufSize = 256
	}

	t := &Transport{
		conn:     conn,
		local:    conn.LocalAddr().String(),
		logger:   logger,
		incoming: make(chan swim.Incoming, bufSize),
		peers:    make(map[string]swim.MemberID),
		closed:   make(chan struct{}),
	}
	go t.receiveLoop()
	return t, nil
}

// Send encodes message and writes it to target's resolved address.
// The target identity is cached against its address so a future
// inbound datagram from that address can be attributed without the
// engine having to interpret wire contents.
func (t *Transport) Send(ctx context.Context, message swim.Message, target swim.MemberID) error {
	addr, err := net.ResolveUDPAddr("udp4", target.Address)
	if err != nil {
		return fmt.Errorf("transportudp: resolve target %s: %w", target, err)
	}
	buf, err := swim.Encode(message)
	if err != nil {
		return fmt.Errorf("transportudp: encode: %w", err)
	}

	t.mu.Lock()
	t.peers[addr.String()] = target
	t.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	} else {
		t.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := t.conn.WriteToUDP(buf, addr); err != nil {
		return fmt.Errorf("transportudp: write to %s: %w", target, err)
	}
	return nil
}

// Incoming returns the channel of received (message, sender) pairs.
func (t *Transport) Incoming() <-chan swim.Incoming { return t.incoming }

// LocalAddress returns the bound socket's address.
func (t *Transport) LocalAddress() string { return t.local }

// Close stops the receive loop and closes the socket. Incoming's
// channel is closed once the loop observes the shutdown.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

func (t *Transport) receiveLoop() {
	defer close(t.incoming)
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-t.closed:
			return
		default:
		}

		t.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remote, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-t.closed:
				return
			default:
				t.logger.Debug("udp read error", zap.Error(err))
				continue
			}
		}

		msg, err := swim.Decode(buf[:n])
		if err != nil {
			t.logger.Debug("dropping malformed datagram", zap.String("from", remote.String()), zap.Error(err))
			continue
		}

		sender := t.resolveSender(remote)
		select {
		case t.incoming <- swim.Incoming{Message: msg, Sender: sender}:
		case <-t.closed:
			return
		}
	}
}

// resolveSender maps a UDP remote address back to a MemberID. If this
// transport has previously sent to that address (or the address was
// otherwise introduced), the cached identity is used; otherwise a
// fresh identity is synthesized using the address as both id and
// address, matching the engine's join-by-observation rule — the
// table will learn the peer's real id later via gossip if one exists.
func (t *Transport) resolveSender(remote *net.UDPAddr) swim.MemberID {
	key := remote.String()
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.peers[key]; ok {
		return id
	}
	id := swim.MemberID{ID: key, Address: key}
	t.peers[key] = id
	return id
}
