package coapd

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Datagram is one received UDP packet handed from the transport's reader
// goroutine to the single owning event-loop goroutine — the one
// concession to blocking I/O this package's otherwise single-threaded
// design makes (§5).
type Datagram struct {
	Data []byte
	Peer Addr
}

// Transport is the UDP collaborator spec.md §1 assumes as external ("a
// datagram transport that can send/receive to a peer address and port").
// Splitting it from the protocol engine lets every other component in this
// package be driven from tests without a real socket.
type Transport struct {
	conn    *net.UDPConn
	inbound chan Datagram
	log     Logger
}

// NewTransport binds a UDP socket at listenAddr (":5683" for the default
// CoAP port, §6). It sets SO_REUSEADDR so a restarting endpoint can rebind
// immediately. This endpoint is single-homed (one listen address, §6), so
// there is no IP_PKTINFO/interface-selection concern to thread through
// Send's peer/data signature; a multi-homed deployment choosing reply
// interfaces per packet is out of scope.
func NewTransport(listenAddr string, log Logger) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("coapd: resolving %s: %w", listenAddr, err)
	}
	// SO_REUSEADDR only affects a bind made after it is set, so it is
	// applied in the listener's Control hook, before the socket is bound.
	lc := net.ListenConfig{
		Control: func(network, address string, rc syscall.RawConn) error {
			return rc.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("coapd: listening on %s: %w", listenAddr, err)
	}
	conn := pc.(*net.UDPConn)

	return &Transport{
		conn:    conn,
		inbound: make(chan Datagram, 64),
		log:     log,
	}, nil
}

// Inbound is the channel the event loop selects on for incoming datagrams.
func (t *Transport) Inbound() <-chan Datagram {
	return t.inbound
}

// Serve reads datagrams in a dedicated goroutine until the socket closes,
// handing each to Inbound() for the owning event-loop goroutine (§5).
func (t *Transport) Serve() {
	buf := make([]byte, 2048)
	for {
		n, peer, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		t.inbound <- Datagram{Data: cp, Peer: peer.String()}
	}
}

// Send writes data to peer. Errors are logged, not returned: the caller
// (the reliability engine's retry loop, the dispatcher's reply path) has
// no retry of its own to perform beyond what CON semantics already give it.
func (t *Transport) Send(peer Addr, data []byte) {
	addr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		logf(t.log, "transport: bad peer address %s: %s", peer, err)
		return
	}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		logf(t.log, "transport: send to %s failed: %s", peer, err)
	}
}

// Close releases the socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}
