//go:build linux

package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ZentaChain/zentalk-lite/pkg/protocol"

	"golang.org/x/sys/unix"
)

const readEvents = unix.EPOLLIN | unix.EPOLLRDHUP

// RelayServer multiplexes every client on one goroutine over epoll(7).
//
// All sockets are non-blocking. One wake-up accepts pending connections,
// reads at most ReadBufferSize bytes from each readable client, routes the
// complete lines and flushes whatever output the kernel accepts. A client
// that is slow or silent never holds up the others.
type RelayServer struct {
	config   RelayConfig
	registry *Registry
	router   *Router

	listenFD int
	epfd     int
	addr     *net.TCPAddr
	readBuf  []byte

	// accept4(2); replaced in tests to simulate descriptor exhaustion
	accept func(fd int, flags int) (int, unix.Sockaddr, error)

	// listener EPOLLIN is dropped until then after EMFILE/ENFILE
	acceptPausedUntil time.Time

	startTime    time.Time
	accepted     uint64
	rejected     uint64
	disconnected uint64

	stats atomic.Pointer[Stats]
}

// NewRelayServer creates a relay; call Listen then Serve
func NewRelayServer(config RelayConfig) *RelayServer {
	defaults := DefaultRelayConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = defaults.ReadBufferSize
	}
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = defaults.MaxLineLength
	}
	if config.MaxPendingBytes <= 0 {
		config.MaxPendingBytes = defaults.MaxPendingBytes
	}
	if config.AcceptBackoff <= 0 {
		config.AcceptBackoff = defaults.AcceptBackoff
	}

	registry := NewRegistry(config.Capacity)
	config.Capacity = registry.Capacity()

	rs := &RelayServer{
		config:   config,
		registry: registry,
		router:   NewRouter(registry),
		listenFD: -1,
		epfd:     -1,
		readBuf:  make([]byte, config.ReadBufferSize),
		accept:   unix.Accept4,
	}
	rs.stats.Store(&Stats{Capacity: config.Capacity, Identities: []int{}})
	return rs
}

// AttachDeliveryLog records every routing decision into rec
func (rs *RelayServer) AttachDeliveryLog(rec deliveryRecorder) {
	rs.router.AttachRecorder(rec)
	log.Println("📒 Delivery log attached to relay server")
}

// Listen binds the IPv4 listening socket and creates the epoll instance
func (rs *RelayServer) Listen() error {
	if rs.listenFD >= 0 {
		return nil
	}

	ip := net.IPv4zero
	if rs.config.Host != "" {
		ip = net.ParseIP(rs.config.Host)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return fmt.Errorf("invalid IPv4 bind address %q", rs.config.Host)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: rs.config.Port}
	copy(sa.Addr[:], ip4)
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("bind %s: %w", net.JoinHostPort(ip4.String(), fmt.Sprint(rs.config.Port)), err)
	}

	if err := unix.Listen(fd, rs.config.Capacity); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("getsockname: %w", err)
	}
	if in4, ok := bound.(*unix.SockaddrInet4); ok {
		rs.addr = &net.TCPAddr{IP: net.IP(append([]byte(nil), in4.Addr[:]...)), Port: in4.Port}
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("epoll_create1: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(fd)
		return fmt.Errorf("epoll_ctl add listener: %w", err)
	}

	rs.listenFD = fd
	rs.epfd = epfd
	log.Printf("Relay server listening on %s", rs.addr)
	return nil
}

// Addr returns the bound address, nil before Listen
func (rs *RelayServer) Addr() *net.TCPAddr {
	return rs.addr
}

// Stats returns the latest snapshot; safe from any goroutine
func (rs *RelayServer) Stats() Stats {
	return *rs.stats.Load()
}

// Serve runs the event loop until ctx is cancelled, then closes every socket
func (rs *RelayServer) Serve(ctx context.Context) error {
	if err := rs.Listen(); err != nil {
		return err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer rs.shutdown()

	rs.startTime = time.Now()
	rs.publishStats()

	events := make([]unix.EpollEvent, rs.config.Capacity+1)

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Interrupt received, stopping relay...")
			return nil
		default:
		}

		rs.resumeAccept()

		n, err := unix.EpollWait(rs.epfd, events, rs.waitTimeout())
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			rs.dispatch(events[i])
		}

		rs.flushAll()
		rs.publishStats()
	}
}

func (rs *RelayServer) dispatch(ev unix.EpollEvent) {
	fd := int(ev.Fd)
	if fd == rs.listenFD {
		rs.acceptPending()
		return
	}

	// may already be gone if an earlier event in this batch disconnected it
	conn, ok := rs.registry.Lookup(fd)
	if !ok {
		return
	}

	if ev.Events&unix.EPOLLOUT != 0 {
		if !rs.flush(conn) {
			return
		}
	}

	if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		rs.handleReadable(conn)
	}
}

func (rs *RelayServer) acceptPending() {
	for {
		nfd, sa, err := rs.accept(rs.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
				// the connection stays in the backlog and the listener stays readable
				rs.pauseAccept(err)
			default:
				log.Printf("Accept error: %v", err)
			}
			return
		}

		remote := sockaddrString(sa)
		log.Printf("📥 New connection from %s", remote)

		conn := newConn(nfd, remote, rs.config.MaxLineLength)
		id, err := rs.registry.Register(conn)
		if err != nil {
			rs.rejected++
			rs.reject(nfd, remote)
			continue
		}

		ev := unix.EpollEvent{Events: readEvents, Fd: int32(nfd)}
		if err := unix.EpollCtl(rs.epfd, unix.EPOLL_CTL_ADD, nfd, &ev); err != nil {
			log.Printf("epoll_ctl add %s: %v", remote, err)
			rs.registry.Unregister(conn)
			_ = unix.Close(nfd)
			continue
		}

		rs.accepted++
		conn.Enqueue(protocol.FormatWelcome(int(id)))
		log.Printf("✅ Client %d registered (%s)", id, remote)
	}
}

// pauseAccept stops watching the listener for AcceptBackoff
func (rs *RelayServer) pauseAccept(cause error) {
	ev := unix.EpollEvent{Events: 0, Fd: int32(rs.listenFD)}
	if err := unix.EpollCtl(rs.epfd, unix.EPOLL_CTL_MOD, rs.listenFD, &ev); err != nil {
		log.Printf("epoll_ctl pause listener: %v", err)
		return
	}
	rs.acceptPausedUntil = time.Now().Add(rs.config.AcceptBackoff)
	log.Printf("⚠️  Accept failed (%v), pausing new connections for %v", cause, rs.config.AcceptBackoff)
}

// resumeAccept re-arms the listener once the backoff has elapsed
func (rs *RelayServer) resumeAccept() {
	if rs.acceptPausedUntil.IsZero() || time.Now().Before(rs.acceptPausedUntil) {
		return
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(rs.listenFD)}
	if err := unix.EpollCtl(rs.epfd, unix.EPOLL_CTL_MOD, rs.listenFD, &ev); err != nil {
		log.Printf("epoll_ctl resume listener: %v", err)
		return
	}
	rs.acceptPausedUntil = time.Time{}
}

// waitTimeout is PollInterval, shortened so a paused listener resumes on time
func (rs *RelayServer) waitTimeout() int {
	wait := rs.config.PollInterval
	if !rs.acceptPausedUntil.IsZero() {
		wait = min(wait, time.Until(rs.acceptPausedUntil))
	}
	return max(int(wait/time.Millisecond), 1)
}

// reject tells a client the relay is full and closes it; it was never registered
func (rs *RelayServer) reject(fd int, remote string) {
	line := []byte(protocol.FormatRejected() + protocol.LineTerminator)
	if _, err := unix.SendmsgN(fd, line, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT); err != nil {
		log.Printf("Failed to send rejection to %s: %v", remote, err)
	}
	_ = unix.Close(fd)
	log.Printf("⛔ Relay full, rejected %s", remote)
}

func (rs *RelayServer) handleReadable(conn *Conn) {
	n, err := unix.Read(conn.fd, rs.readBuf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		rs.disconnect(conn, err)
		return
	}
	if n == 0 {
		rs.disconnect(conn, nil)
		return
	}

	lines, ferr := conn.framer.Feed(rs.readBuf[:n])
	if ferr != nil {
		conn.Enqueue(protocol.FormatTooLong(conn.framer.Max()))
	}

	for _, line := range lines {
		rs.router.Route(conn, line)
	}
}

// flushAll writes pending output of every live connection
func (rs *RelayServer) flushAll() {
	for _, conn := range rs.registry.Conns() {
		if conn.Pending() > 0 {
			rs.flush(conn)
		}
	}
}

// flush writes as much pending output as the socket takes.
// It returns false when the connection was dropped.
func (rs *RelayServer) flush(conn *Conn) bool {
	for conn.Pending() > 0 {
		n, err := unix.SendmsgN(conn.fd, conn.out, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				if conn.Pending() > rs.config.MaxPendingBytes {
					rs.disconnect(conn, fmt.Errorf("peer is not reading, %d bytes pending", conn.Pending()))
					return false
				}
				return rs.armWrite(conn, true)
			}
			rs.disconnect(conn, err)
			return false
		}
		conn.consume(n)
	}

	return rs.armWrite(conn, false)
}

// armWrite toggles EPOLLOUT interest; it is only set while output is pending
func (rs *RelayServer) armWrite(conn *Conn, armed bool) bool {
	if conn.writeArmed == armed {
		return true
	}

	events := uint32(readEvents)
	if armed {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(conn.fd)}
	if err := unix.EpollCtl(rs.epfd, unix.EPOLL_CTL_MOD, conn.fd, &ev); err != nil {
		rs.disconnect(conn, err)
		return false
	}
	conn.writeArmed = armed
	return true
}

// disconnect is the only path removing a client: epoll, socket and registry together
func (rs *RelayServer) disconnect(conn *Conn, cause error) {
	id, _ := rs.registry.IdentityOf(conn)

	_ = unix.EpollCtl(rs.epfd, unix.EPOLL_CTL_DEL, conn.fd, nil)
	_ = unix.Close(conn.fd)
	rs.registry.Unregister(conn)
	rs.disconnected++

	if partial := conn.framer.Buffered(); partial > 0 {
		log.Printf("Client %d left %d bytes of unterminated input", id, partial)
	}

	if cause != nil {
		log.Printf("❌ Client %d disconnected: %v", id, cause)
	} else {
		log.Printf("❌ Client %d disconnected", id)
	}
}

func (rs *RelayServer) publishStats() {
	listening := ""
	if rs.addr != nil {
		listening = rs.addr.String()
	}

	rs.stats.Store(&Stats{
		Listening:    listening,
		StartedAt:    rs.startTime,
		Capacity:     rs.registry.Capacity(),
		Connected:    rs.registry.Len(),
		Identities:   identitiesToInts(rs.registry.Identities()),
		Accepted:     rs.accepted,
		Rejected:     rs.rejected,
		Disconnected: rs.disconnected,
		Routing:      rs.router.Counters(),
	})
}

// shutdown closes every client, the listener and the epoll instance
func (rs *RelayServer) shutdown() {
	for _, conn := range rs.registry.Conns() {
		_ = unix.EpollCtl(rs.epfd, unix.EPOLL_CTL_DEL, conn.fd, nil)
		_ = unix.Close(conn.fd)
		rs.registry.Unregister(conn)
	}

	if rs.listenFD >= 0 {
		_ = unix.EpollCtl(rs.epfd, unix.EPOLL_CTL_DEL, rs.listenFD, nil)
		_ = unix.Close(rs.listenFD)
		rs.listenFD = -1
	}
	if rs.epfd >= 0 {
		_ = unix.Close(rs.epfd)
		rs.epfd = -1
	}

	rs.publishStats()
	log.Println("🧹 Relay server stopped")
}

func sockaddrString(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(addr.Addr[:]).String(), fmt.Sprint(addr.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(addr.Addr[:]).String(), fmt.Sprint(addr.Port))
	default:
		return "unknown"
	}
}
