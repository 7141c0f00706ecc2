package hubprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Prober reports whether the game server is currently up
type Prober interface {
	// Running returns true if the hub accepts connections
	Running(ctx context.Context) (bool, error)
}

// TCPProber checks the hub by connecting to its game port
type TCPProber struct {
	Addr    string
	Timeout time.Duration
}

// NewTCPProber creates a prober for addr
func NewTCPProber(addr string, timeout time.Duration) *TCPProber {
	return &TCPProber{Addr: addr, Timeout: timeout}
}

// Running dials Addr. A completed connection means the server is up; a
// refused or timed out connection means it is not.
func (p *TCPProber) Running(ctx context.Context) (bool, error) {
	dialer := net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Addr)
	if err == nil {
		_ = conn.Close()
		return true, nil
	}

	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if errors.Is(err, syscall.ECONNREFUSED) || isTimeout(err) {
		return false, nil
	}

	var dnsErr *net.DNSError
	var addrErr *net.AddrError
	if errors.As(err, &dnsErr) || errors.As(err, &addrErr) {
		return false, fmt.Errorf("invalid probe address %q: %w", p.Addr, err)
	}

	// Unreachable hosts and similar failures mean nothing is serving there
	return false, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
