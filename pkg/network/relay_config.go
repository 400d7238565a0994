package network

import (
	"time"

	"github.com/ZentaChain/zentalk-lite/pkg/protocol"
)

const (
	// DefaultPollInterval bounds how long the loop sleeps without events
	DefaultPollInterval = time.Second

	// DefaultReadBufferSize bounds a single read from a client
	DefaultReadBufferSize = 1024

	// DefaultMaxPendingBytes disconnects a peer that stops reading
	DefaultMaxPendingBytes = 64 * 1024

	// DefaultAcceptBackoff pauses accepting after the process runs out of descriptors
	DefaultAcceptBackoff = 100 * time.Millisecond
)

// RelayConfig configures the relay event loop
type RelayConfig struct {
	Host            string
	Port            int
	Capacity        int
	PollInterval    time.Duration
	ReadBufferSize  int
	MaxLineLength   int
	MaxPendingBytes int
	AcceptBackoff   time.Duration
}

// DefaultRelayConfig returns the reference configuration
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Host:            "0.0.0.0",
		Port:            3390,
		Capacity:        DefaultCapacity,
		PollInterval:    DefaultPollInterval,
		ReadBufferSize:  DefaultReadBufferSize,
		MaxLineLength:   protocol.DefaultMaxLineLength,
		MaxPendingBytes: DefaultMaxPendingBytes,
		AcceptBackoff:   DefaultAcceptBackoff,
	}
}
