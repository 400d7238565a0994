package main

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-lite/pkg/config"
	"github.com/ZentaChain/zentalk-lite/pkg/network"
	"github.com/ZentaChain/zentalk-lite/pkg/protocol"
)

func TestRunReportsResetAndEndsCleanly(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte(protocol.FormatWelcome(1) + protocol.LineTerminator))

		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line

		// abortive close so the client sees a reset rather than end of stream
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetLinger(0)
		}
		conn.Close()
	}()

	cfg := config.DefaultClientConfig()
	cfg.Server = ln.Addr().String()
	cfg.Passphrase = "secret"
	cfg.DialTimeout = 2 * time.Second

	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()

	var buf bytes.Buffer
	out := newConsole(&buf)

	done := make(chan error, 1)
	go func() { done <- run(cfg, out, stdinR) }()

	_, err = stdinW.Write([]byte("/list\n"))
	require.NoError(t, err)

	select {
	case line := <-received:
		assert.Equal(t, "/list\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never received the command")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("client did not stop after the connection was reset")
	}

	out.mu.Lock()
	output := buf.String()
	out.mu.Unlock()
	assert.Contains(t, output, "Connexion réussie au serveur.")
	assert.Contains(t, output, "Erreur de communication")
	assert.Contains(t, output, "Connexion fermée.")
}

func TestListLineMarksSelf(t *testing.T) {
	tests := []struct {
		name string
		ids  []int
		self int
		want string
	}{
		{name: "self listed", ids: []int{1, 3}, self: 3, want: "Clients connectés : 1, 3 (vous : 3)"},
		{name: "self missing", ids: []int{1, 3}, self: 2, want: "Clients connectés : 1, 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := network.Incoming{Text: protocol.FormatList(tt.ids), Identities: tt.ids}
			if got := listLine(in, tt.self); got != tt.want {
				t.Errorf("listLine() = %q, want %q", got, tt.want)
			}
		})
	}
}
