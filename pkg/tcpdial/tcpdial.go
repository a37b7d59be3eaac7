// Package tcpdial is a reference implementation of the core's
// rpc.Dialer/rpc.Transport contracts over real TCP sockets. It is not
// part of the core: socket establishment is an external collaborator,
// so a bootloader-style caller would swap this for its own platform
// sockets, and the test suite swaps it for an in-memory fake.
//
// The one piece of behavior this package is responsible for beyond
// plain TCP I/O is local port selection: MOUNT and NFS servers running
// the default Linux export policy (`secure`) reject connections whose
// source port isn't in the privileged range (1-1023), so every
// connection this Dialer makes binds one before connecting.
package tcpdial

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsboot/internal/logger"
	"github.com/marmos91/nfsboot/internal/protocol/rpc"
	"github.com/marmos91/nfsboot/pkg/bufpool"
)

// privilegedPortLow and privilegedPortHigh bound the source port range
// Linux reserves for root-owned sockets.
const (
	privilegedPortLow  = 1
	privilegedPortHigh = 1023
)

// Dialer establishes real TCP connections for rpc.Session, binding a
// pseudo-random privileged source port on every dial so MOUNT/NFS
// servers enforcing the `secure` export option accept the connection.
// The portmap connection doesn't need this, but binding one there is
// harmless, and the core hands every session the same Dialer instance.
type Dialer struct {
	pool *bufpool.Pool
	rng  *rand.Rand
	mu   sync.Mutex
}

// New returns a Dialer backed by a fresh bufpool.Pool with default tiers.
func New() *Dialer {
	return &Dialer{
		pool: bufpool.NewPool(nil),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Dial implements rpc.Dialer. The returned Transport accepts Send
// immediately; a Send made before the TCP handshake completes blocks
// until the connection is up or the dial has failed.
func (d *Dialer) Dial(addr string, onConnect func(error)) (rpc.Transport, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &transport{
		pool:           d.pool,
		ready:          make(chan struct{}),
		callbacksReady: make(chan struct{}),
		cancelDial:     cancel,
	}

	go t.connect(ctx, d, addr, onConnect)
	return t, nil
}

// pickPrivilegedPort returns a pseudo-random port in [1, 1023].
func (d *Dialer) pickPrivilegedPort() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return privilegedPortLow + d.rng.Intn(privilegedPortHigh-privilegedPortLow+1)
}

// dialControl is installed as a net.Dialer.Control callback: it sets
// SO_REUSEADDR (several privileged ports may already be in TIME_WAIT
// from earlier fetches) before the kernel binds the socket to the
// source address/port net.Dialer.LocalAddr requested.
func dialControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func (d *Dialer) dial(ctx context.Context, addr string) (net.Conn, error) {
	// A privileged port can lose a bind race against another process;
	// retry a handful of times with a fresh pseudo-random candidate
	// rather than failing the whole fetch over one collision.
	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		port := d.pickPrivilegedPort()
		nd := net.Dialer{
			Timeout:   10 * time.Second,
			LocalAddr: &net.TCPAddr{Port: port},
			Control:   dialControl,
		}
		conn, err := nd.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("tcpdial: bind privileged source port: %w", lastErr)
}

// transport implements rpc.Transport over one net.Conn. Reads are
// pumped by a dedicated goroutine that reassembles record-marking
// fragments (RFC 1057 §10) into whole RPC messages before invoking
// onRecv; writes go straight to the connection from Send since a
// TCP socket send buffer gives this client all the pipelining it
// needs — SendWouldBlock is never actually returned here, callers
// still must handle it because other Transport implementations
// (and the in-memory test double) do return it.
type transport struct {
	conn  net.Conn
	ready chan struct{}
	pool  *bufpool.Pool

	// callbacksReady closes once SetCallbacks has run. NewSession calls
	// SetCallbacks synchronously right after Dial returns, but connect
	// runs on its own goroutine and must not invoke onConnect (which
	// can trigger an immediate Call -> onRecv round trip against a
	// transport with nil callbacks) until that registration lands.
	callbacksReady chan struct{}

	// cancelDial aborts an in-flight connection attempt; Close calls it
	// so a cancellation mid-dial doesn't block on the full 10s timeout.
	cancelDial context.CancelFunc

	onRecv       func([]byte)
	onWindowOpen func()
	onClose      func(error)

	closeOnce sync.Once
}

func (t *transport) connect(ctx context.Context, d *Dialer, addr string, onConnect func(error)) {
	conn, err := d.dial(ctx, addr)
	<-t.callbacksReady
	if err != nil {
		logger.Warn("tcpdial connect failed", logger.Host(addr), logger.Err(err))
		onConnect(err)
		close(t.ready)
		t.invokeClose(err)
		return
	}
	logger.Debug("tcpdial connected", logger.Host(addr))
	t.conn = conn
	close(t.ready)
	onConnect(nil)
	t.pump()
}

// pump reads whole records off the connection and hands each to
// onRecv, stripping the 4-byte record-marking header. It reassembles
// multi-fragment records even though this client's own calls are
// always single-fragment, since RFC 1057 §10 lets a server reply in
// an arbitrary number of fragments.
func (t *transport) pump() {
	var record []byte
	header := make([]byte, 4)
	for {
		if _, err := readFull(t.conn, header); err != nil {
			t.invokeClose(err)
			return
		}
		last := binary.BigEndian.Uint32(header)&0x80000000 != 0
		length := binary.BigEndian.Uint32(header) &^ 0x80000000
		if length > rpc.MaxFragmentSize {
			t.invokeClose(fmt.Errorf("tcpdial: fragment length %d exceeds max", length))
			return
		}

		frag := t.pool.Get(int(length))
		if length > 0 {
			if _, err := readFull(t.conn, frag); err != nil {
				t.invokeClose(err)
				return
			}
		}
		record = append(record, frag...)
		t.pool.Put(frag[:cap(frag)])

		if last {
			if t.onRecv != nil {
				t.onRecv(record)
			}
			record = nil
			if t.onWindowOpen != nil {
				t.onWindowOpen()
			}
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Send writes frame (already record-marked by rpc.Frame) directly to
// the connection. If the connection hasn't finished dialing yet, Send
// blocks the caller's goroutine until it has or fails; the core only
// ever calls Send after onConnect has fired, so this never blocks in
// practice.
func (t *transport) Send(frame []byte) (rpc.SendStatus, error) {
	<-t.ready
	if t.conn == nil {
		return rpc.SendOK, fmt.Errorf("tcpdial: send on unconnected transport")
	}
	if _, err := t.conn.Write(frame); err != nil {
		return rpc.SendOK, err
	}
	return rpc.SendOK, nil
}

func (t *transport) SetCallbacks(onRecv func([]byte), onWindowOpen func(), onClose func(error)) {
	t.onRecv = onRecv
	t.onWindowOpen = onWindowOpen
	t.onClose = onClose
	close(t.callbacksReady)
}

func (t *transport) Close(status error) error {
	var err error
	t.closeOnce.Do(func() {
		t.cancelDial()
		<-t.ready
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}

func (t *transport) invokeClose(err error) {
	t.closeOnce.Do(func() {
		t.cancelDial()
		if t.conn != nil {
			_ = t.conn.Close()
		}
	})
	if t.onClose != nil {
		t.onClose(err)
	}
}
