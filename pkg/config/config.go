// Package config loads relay and client configuration from YAML files
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/multiformats/go-multiaddr"
	"gopkg.in/yaml.v3"

	"github.com/ZentaChain/zentalk-lite/pkg/crypto"
	"github.com/ZentaChain/zentalk-lite/pkg/network"
	"github.com/ZentaChain/zentalk-lite/pkg/protocol"
)

const (
	DefaultListen = "0.0.0.0:3390"
	DefaultServer = "127.0.0.1:3390"
)

var ErrInvalidAddress = errors.New("invalid address")

// ServerConfig is the relay configuration
type ServerConfig struct {
	// Listen is "host:port" or "/ip4/<ip>/tcp/<port>"
	Listen string `yaml:"listen"`

	// Capacity bounds concurrent clients
	Capacity int `yaml:"capacity"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
	MaxLineLength  int           `yaml:"max_line_length"`

	// StatusAddr enables the HTTP status API when set
	StatusAddr string `yaml:"status_addr"`

	// AuditDB enables the SQLite delivery log when set
	AuditDB string `yaml:"audit_db"`
}

// ClientConfig is the chat client configuration
type ClientConfig struct {
	Server      string        `yaml:"server"`
	Passphrase  string        `yaml:"passphrase"`
	KDF         string        `yaml:"kdf"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DefaultServerConfig returns the reference relay configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen:         DefaultListen,
		Capacity:       network.DefaultCapacity,
		PollInterval:   network.DefaultPollInterval,
		ReadBufferSize: network.DefaultReadBufferSize,
		MaxLineLength:  protocol.DefaultMaxLineLength,
	}
}

// DefaultClientConfig returns the reference client configuration.
// The passphrase is left empty and must be supplied.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Server:      DefaultServer,
		KDF:         string(crypto.KDFSHA256),
		DialTimeout: 10 * time.Second,
	}
}

// LoadServerConfig reads path over the defaults
func LoadServerConfig(path string) (*ServerConfig, error) {
	config := DefaultServerConfig()
	if err := loadYAML(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadClientConfig reads path over the defaults
func LoadClientConfig(path string) (*ClientConfig, error) {
	config := DefaultClientConfig()
	if err := loadYAML(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *ServerConfig) Validate() error {
	host, _, err := ParseHostPort(c.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if ip := net.ParseIP(host); ip == nil || ip.To4() == nil {
		return fmt.Errorf("listen: %w: %q is not an IPv4 address", ErrInvalidAddress, host)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize)
	}
	if c.MaxLineLength <= 0 {
		return fmt.Errorf("max_line_length must be positive, got %d", c.MaxLineLength)
	}
	if c.StatusAddr != "" {
		if _, _, err := ParseHostPort(c.StatusAddr); err != nil {
			return fmt.Errorf("status_addr: %w", err)
		}
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *ClientConfig) Validate() error {
	if _, _, err := ParseHostPort(c.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.Passphrase == "" {
		return errors.New("passphrase is required")
	}
	if _, err := crypto.ParseKDF(c.KDF); err != nil {
		return err
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive, got %v", c.DialTimeout)
	}
	return nil
}

// Key derives the shared key from the passphrase
func (c *ClientConfig) Key() (crypto.Key, error) {
	kdf, err := crypto.ParseKDF(c.KDF)
	if err != nil {
		return crypto.Key{}, err
	}
	return crypto.DeriveKeyWith(kdf, c.Passphrase)
}

// ServerAddr returns the server address in host:port form
func (c *ClientConfig) ServerAddr() (string, error) {
	host, port, err := ParseHostPort(c.Server)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// ParseHostPort accepts "host:port" or a multiaddr such as
// "/ip4/127.0.0.1/tcp/3390" or "/dns4/relay.local/tcp/3390".
func ParseHostPort(addr string) (string, int, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", 0, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	if strings.HasPrefix(addr, "/") {
		return parseMultiaddr(addr)
	}

	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := parsePort(portText)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host, port, nil
}

func parseMultiaddr(addr string) (string, int, error) {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	host, err := maddr.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		host, err = maddr.ValueForProtocol(multiaddr.P_DNS4)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %s has no ip4 or dns4 component", ErrInvalidAddress, addr)
		}
	}

	portText, err := maddr.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s has no tcp component", ErrInvalidAddress, addr)
	}

	port, err := parsePort(portText)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parsePort(text string) (int, error) {
	port, err := strconv.Atoi(text)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, text)
	}
	return port, nil
}

// RelayConfig converts the file configuration into event loop settings
func (c *ServerConfig) RelayConfig() (network.RelayConfig, error) {
	host, port, err := ParseHostPort(c.Listen)
	if err != nil {
		return network.RelayConfig{}, err
	}

	rc := network.DefaultRelayConfig()
	rc.Host = host
	rc.Port = port
	rc.Capacity = c.Capacity
	rc.PollInterval = c.PollInterval
	rc.ReadBufferSize = c.ReadBufferSize
	rc.MaxLineLength = c.MaxLineLength
	return rc, nil
}
