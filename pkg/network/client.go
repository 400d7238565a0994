package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZentaChain/zentalk-lite/pkg/crypto"
	"github.com/ZentaChain/zentalk-lite/pkg/protocol"
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrServerFull      = errors.New("server is full")
	ErrExit            = errors.New("session closed by user")
)

// Incoming is one relay line as shown to the user
type Incoming struct {
	Line       protocol.ServerLine
	Text       string
	Unreadable bool

	// Identities is set for a list response
	Identities []int
}

// Session is a client connection to a relay.
//
// Receive runs on its own goroutine while Send is called from the input
// loop; the two share only the connection and the closed flag.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	key    crypto.Key
	id     int

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the relay at addr and waits for the greeting.
// The deadline of ctx bounds both the connect and the greeting.
func Dial(ctx context.Context, addr string, key crypto.Key) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	s := newSession(conn, key)
	line, err := s.reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	line = strings.TrimSpace(line)

	if line == protocol.RejectedLine {
		conn.Close()
		return nil, ErrServerFull
	}

	id, ok := protocol.ParseWelcome(line)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%w: unexpected greeting %q", ErrHandshakeFailed, line)
	}

	_ = conn.SetReadDeadline(time.Time{})
	s.id = id
	log.Printf("✅ Connected to relay %s as client %d", addr, id)
	return s, nil
}

func newSession(conn net.Conn, key crypto.Key) *Session {
	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		key:    key,
		done:   make(chan struct{}),
	}
}

// ID returns the identity assigned by the relay
func (s *Session) ID() int {
	return s.id
}

// Receive reads relay lines until the connection ends and hands each to handler.
// End of stream and local close return nil.
func (s *Session) Receive(handler func(Incoming)) error {
	defer s.Close()

	for {
		raw, err := s.reader.ReadString('\n')
		if raw = strings.TrimRight(raw, "\r\n"); raw != "" {
			handler(s.decode(raw))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || s.closed.Load() {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
	}
}

func (s *Session) decode(raw string) Incoming {
	line := protocol.ClassifyServerLine(raw)
	if line.Kind == protocol.LineList {
		in := Incoming{Line: line, Text: raw}
		if ids, err := protocol.ParseList(raw); err == nil {
			in.Identities = ids
		}
		return in
	}
	if !line.HasCiphertext() {
		return Incoming{Line: line, Text: raw}
	}

	text := crypto.OpenOrPlaceholder(line.Ciphertext, s.key)
	return Incoming{
		Line:       line,
		Text:       line.Prefix + text,
		Unreadable: strings.HasPrefix(text, crypto.UnreadablePrefix),
	}
}

// Send handles one line of user input.
// "exit" closes the session and returns ErrExit; "/list" goes out verbatim;
// anything else must be "<id>: <text>" and is sealed before it leaves.
func (s *Session) Send(input string) error {
	input = strings.TrimSpace(input)

	if strings.EqualFold(input, protocol.CommandExit) {
		s.Close()
		return ErrExit
	}
	if s.closed.Load() {
		return ErrNotConnected
	}

	// anything starting with /list goes out as typed; the relay answers extras with a warning
	if strings.HasPrefix(input, protocol.CommandList) {
		return s.writeLine(input)
	}

	recipient, text, err := protocol.ParseOutgoing(input)
	if err != nil {
		return err
	}

	blob, err := crypto.Seal(text, s.key)
	if err != nil {
		return fmt.Errorf("seal message: %w", err)
	}

	return s.writeLine(protocol.FormatSend(recipient, blob))
}

func (s *Session) writeLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := io.WriteString(s.conn, line+protocol.LineTerminator); err != nil {
		if s.closed.Load() {
			return ErrNotConnected
		}
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close shuts the connection down; safe to call more than once
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
		close(s.done)
	})
	return err
}

// Done is closed once the session has ended
func (s *Session) Done() <-chan struct{} {
	return s.done
}
