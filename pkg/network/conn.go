package network

import (
	"github.com/ZentaChain/zentalk-lite/pkg/protocol"
)

// Conn is an accepted client socket as seen by the event loop.
// It is owned by the loop goroutine: nothing else reads or writes it.
type Conn struct {
	fd     int
	remote string

	// inbound reassembly
	framer *protocol.LineFramer

	// outbound bytes not yet accepted by the kernel
	out        []byte
	writeArmed bool
}

func newConn(fd int, remote string, maxLineLength int) *Conn {
	return &Conn{
		fd:     fd,
		remote: remote,
		framer: protocol.NewLineFramer(maxLineLength),
	}
}

// RemoteAddr returns the peer address as "ip:port"
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Enqueue appends one record to the outbound buffer; the loop flushes it
func (c *Conn) Enqueue(line string) {
	c.out = append(c.out, line...)
	c.out = append(c.out, protocol.LineTerminator...)
}

// Pending returns the number of outbound bytes waiting for the socket
func (c *Conn) Pending() int {
	return len(c.out)
}

// consume drops n flushed bytes from the outbound buffer
func (c *Conn) consume(n int) {
	if n >= len(c.out) {
		c.out = c.out[:0]
		return
	}
	remaining := copy(c.out, c.out[n:])
	c.out = c.out[:remaining]
}
