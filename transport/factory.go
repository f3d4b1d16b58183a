package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Supported network types for DialOptions.Network.
const (
	NetworkTCP  = "tcp"
	NetworkTCP4 = "tcp4"
	NetworkTCP6 = "tcp6"
	NetworkUnix = "unix"
)

var supportedNetworks = map[string]bool{
	NetworkTCP:  true,
	NetworkTCP4: true,
	NetworkTCP6: true,
	NetworkUnix: true,
}

// SupportedNetwork reports whether Dial accepts network.
func SupportedNetwork(network string) bool { return supportedNetworks[network] }

// DialOptions controls how a stream is established.
type DialOptions struct {
	Network      string
	Addr         string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// UserTimeout bounds how long written data may stay unacknowledged before
	// the kernel fails the connection. Only honoured on Linux TCP sockets.
	UserTimeout time.Duration
}

// Dial establishes a connection and wraps it in a TCPStream.
func Dial(ctx context.Context, opts DialOptions) (*TCPStream, error) {
	network := opts.Network
	if network == "" {
		network = NetworkTCP
	}
	if !supportedNetworks[network] {
		return nil, fmt.Errorf("transport: unsupported network %q", network)
	}

	d := net.Dialer{Timeout: opts.DialTimeout}
	if network != NetworkUnix && opts.UserTimeout > 0 {
		d.Control = userTimeoutControl(opts.UserTimeout)
	}
	conn, err := d.DialContext(ctx, network, opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.Addr, err)
	}
	return NewTCPStream(conn, opts.WriteTimeout), nil
}
