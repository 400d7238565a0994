//go:build linux

package network

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZentaChain/zentalk-lite/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func newTestRelay(t *testing.T, capacity int) *RelayServer {
	t.Helper()
	rs := NewRelayServer(RelayConfig{
		Host:         "127.0.0.1",
		Port:         0,
		Capacity:     capacity,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, rs.Listen())
	return rs
}

// serveRelay runs the loop in the background; stop cancels it and waits for Serve
func serveRelay(t *testing.T, rs *RelayServer) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rs.Serve(ctx) }()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Error("relay did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func startRelay(t *testing.T, capacity int) *RelayServer {
	t.Helper()
	rs := newTestRelay(t, capacity)
	serveRelay(t, rs)
	return rs
}

func dialRelay(t *testing.T, rs *RelayServer) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", rs.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

// connect dials and consumes the welcome line
func connect(t *testing.T, rs *RelayServer, wantID int) *testClient {
	t.Helper()
	c := dialRelay(t, rs)
	id, ok := protocol.ParseWelcome(c.readLine())
	require.True(t, ok)
	require.Equal(t, wantID, id)
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *testClient) readLine() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimSuffix(line, "\n")
}

// expectSilence asserts nothing arrives within d
func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	line, err := c.reader.ReadString('\n')
	require.Error(c.t, err, "unexpected line %q", line)
	assert.True(c.t, errors.Is(err, os.ErrDeadlineExceeded), "unexpected error %v", err)
}

func TestRelayWelcomeAndRouting(t *testing.T) {
	rs := startRelay(t, 6)

	alice := connect(t, rs, 1)
	bob := connect(t, rs, 2)

	alice.send("2:c2VjcmV0")
	assert.Equal(t, "Client 1 -> Vous: c2VjcmV0", bob.readLine())
	alice.expectSilence(100 * time.Millisecond)

	bob.send("1:cmVwbHk=")
	assert.Equal(t, "Client 2 -> Vous: cmVwbHk=", alice.readLine())
}

func TestRelayUnknownDestination(t *testing.T) {
	rs := startRelay(t, 6)

	alice := connect(t, rs, 1)
	bob := connect(t, rs, 2)

	alice.send("99:c2VjcmV0")
	assert.Equal(t, protocol.FormatNotFound(99), alice.readLine())
	bob.expectSilence(100 * time.Millisecond)

	alice.send("no separator here")
	assert.Equal(t, protocol.FormatInvalidFormat(), alice.readLine())
}

func TestRelayCapacity(t *testing.T) {
	rs := startRelay(t, 2)

	connect(t, rs, 1)
	connect(t, rs, 2)

	third := dialRelay(t, rs)
	assert.Equal(t, protocol.RejectedLine, third.readLine())

	require.NoError(t, third.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := third.reader.ReadString('\n')
	assert.Error(t, err, "rejected connection must be closed")

	assert.Eventually(t, func() bool {
		s := rs.Stats()
		return s.Rejected == 1 && s.Connected == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelayDisconnectUpdatesList(t *testing.T) {
	rs := startRelay(t, 3)

	alice := connect(t, rs, 1)
	bob := connect(t, rs, 2)
	carol := connect(t, rs, 3)

	alice.send("/list")
	assert.Equal(t, "Clients connectés : 1, 2, 3", alice.readLine())

	require.NoError(t, bob.conn.Close())

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]int{1, 3}, rs.Stats().Identities)
	}, 2*time.Second, 10*time.Millisecond)

	alice.send("/list")
	assert.Equal(t, "Clients connectés : 1, 3", alice.readLine())

	// the freed slot is reusable but the identity is not
	dave := connect(t, rs, 4)

	carol.send("1:aGk=")
	assert.Equal(t, "Client 3 -> Vous: aGk=", alice.readLine())

	dave.send("2:aGk=")
	assert.Equal(t, protocol.FormatNotFound(2), dave.readLine())
}

func TestRelayReassemblesSplitLines(t *testing.T) {
	rs := startRelay(t, 6)

	alice := connect(t, rs, 1)
	bob := connect(t, rs, 2)

	_, err := alice.conn.Write([]byte("2:first-"))
	require.NoError(t, err)
	bob.expectSilence(50 * time.Millisecond)

	_, err = alice.conn.Write([]byte("half\n2:second\n"))
	require.NoError(t, err)

	assert.Equal(t, "Client 1 -> Vous: first-half", bob.readLine())
	assert.Equal(t, "Client 1 -> Vous: second", bob.readLine())
}

func TestRelayRejectsOverlongLine(t *testing.T) {
	rs := startRelay(t, 6)
	alice := connect(t, rs, 1)

	long := strings.Repeat("A", protocol.DefaultMaxLineLength+10)
	alice.send("1:" + long)
	assert.Equal(t, protocol.FormatTooLong(protocol.DefaultMaxLineLength), alice.readLine())

	alice.send("1:ok")
	assert.Equal(t, "Client 1 -> Vous: ok", alice.readLine())
}

func TestRelayStatsSnapshot(t *testing.T) {
	rs := startRelay(t, 6)

	alice := connect(t, rs, 1)
	connect(t, rs, 2)

	alice.send("2:x")
	alice.send("5:x")
	assert.Equal(t, protocol.FormatNotFound(5), alice.readLine())

	assert.Eventually(t, func() bool {
		s := rs.Stats()
		return s.Routing.Routed == 1 && s.Routing.NotFound == 1 && s.Accepted == 2
	}, 2*time.Second, 10*time.Millisecond)

	s := rs.Stats()
	assert.Equal(t, 6, s.Capacity)
	assert.Equal(t, rs.Addr().String(), s.Listening)
	assert.False(t, s.StartedAt.IsZero())
}

func TestRelayEvictsSlowReader(t *testing.T) {
	rs := startRelay(t, 3)

	alice := connect(t, rs, 1)
	bob := connect(t, rs, 2)
	carol := connect(t, rs, 3)

	// bob never reads; shrink his window so the relay backs up sooner
	if tcp, ok := bob.conn.(*net.TCPConn); ok {
		_ = tcp.SetReadBuffer(4096)
	}

	// alice drains her own warnings so only bob falls behind
	require.NoError(t, alice.conn.SetReadDeadline(time.Time{}))
	go func() { _, _ = io.Copy(io.Discard, alice.reader) }()

	var stopFlood atomic.Bool
	flooded := make(chan struct{})
	go func() {
		defer close(flooded)
		line := []byte("2:" + strings.Repeat("A", 3000) + "\n")
		for !stopFlood.Load() {
			if _, err := alice.conn.Write(line); err != nil {
				return
			}
		}
	}()

	evicted := assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]int{1, 3}, rs.Stats().Identities)
	}, 10*time.Second, 10*time.Millisecond)
	stopFlood.Store(true)
	<-flooded
	require.True(t, evicted, "slow reader should be disconnected, identities %v", rs.Stats().Identities)

	carol.send("/list")
	assert.Equal(t, "Clients connectés : 1, 3", carol.readLine())
}

func TestRelayShutdownClosesEverything(t *testing.T) {
	rs := newTestRelay(t, 6)
	stop := serveRelay(t, rs)

	alice := connect(t, rs, 1)
	addr := rs.Addr().String()

	stop()

	require.NoError(t, alice.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := alice.reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		conn.Close()
	}
	assert.Error(t, err, "listener should be closed after shutdown")

	assert.Zero(t, rs.Stats().Connected)
}

func TestRelayBacksOffWhenOutOfDescriptors(t *testing.T) {
	rs := newTestRelay(t, 6)
	rs.config.AcceptBackoff = 200 * time.Millisecond

	var calls atomic.Int32
	rs.accept = func(fd int, flags int) (int, unix.Sockaddr, error) {
		if calls.Add(1) == 1 {
			return -1, nil, unix.EMFILE
		}
		return unix.Accept4(fd, flags)
	}
	serveRelay(t, rs)

	alice := dialRelay(t, rs)

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	// the pending connection is left alone for the backoff instead of spinning
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	id, ok := protocol.ParseWelcome(alice.readLine())
	require.True(t, ok)
	assert.Equal(t, 1, id)
}
