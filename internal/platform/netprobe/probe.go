// Package netprobe answers whether the homeserver can be reached at the
// transport layer.
package netprobe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"
)

// DefaultTimeout bounds a single connection attempt.
const DefaultTimeout = 30 * time.Second

// ErrInvalidHomeserverURL is returned for URLs without a usable host.
var ErrInvalidHomeserverURL = errors.New("invalid homeserver URL")

// Probe dials the homeserver host and port once per Check.
type Probe struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
	logger  *slog.Logger
}

// New creates a probe for the host of homeserverURL. When the URL has no
// port the scheme's default is used. A non-positive timeout selects
// DefaultTimeout.
func New(homeserverURL string, timeout time.Duration, logger *slog.Logger) (*Probe, error) {
	addr, err := HostPort(homeserverURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Probe{
		addr:    addr,
		timeout: timeout,
		logger:  logger.With("component", "netprobe", "addr", addr),
	}, nil
}

// Addr returns the host:port the probe dials.
func (p *Probe) Addr() string {
	return p.addr
}

// Check opens and immediately closes one TCP connection. Any error,
// including timeout and name resolution failure, reports false.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		p.logger.Debug("homeserver probe failed", "error", err)
		return false
	}
	_ = conn.Close()
	return true
}

// HostPort extracts the dial address from a homeserver URL.
func HostPort(homeserverURL string) (string, error) {
	u, err := url.Parse(homeserverURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHomeserverURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidHomeserverURL, homeserverURL)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https", "":
			port = "443"
		default:
			return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidHomeserverURL, u.Scheme)
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
