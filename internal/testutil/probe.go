package testutil

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/camlink/internal/probe"
)

// Compile-time interface check.
var _ probe.Checker = (*StubChecker)(nil)

// StubChecker is a probe.Checker returning a fixed outcome. It stands in
// for ICMP, which needs privileges unavailable in most test environments.
type StubChecker struct {
	Success bool
	Err     error
	calls   atomic.Int32
}

// Check implements probe.Checker.
func (c *StubChecker) Check(_ context.Context, target string) (*probe.CheckResult, error) {
	c.calls.Add(1)
	if c.Err != nil {
		return nil, c.Err
	}
	res := &probe.CheckResult{Target: target, Success: c.Success, CheckedAt: time.Now().UTC()}
	if !c.Success {
		res.ErrorMessage = "all packets lost"
		res.PacketLoss = 1.0
	}
	return res, nil
}

// Calls returns how many checks ran.
func (c *StubChecker) Calls() int {
	return int(c.calls.Load())
}

// TCPListener starts a TCP listener on loopback that accepts and closes
// connections. It returns the host and port and is closed with the test.
func TCPListener(t testing.TB) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("testutil.TCPListener: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// ClosedPort returns a loopback port with nothing listening on it.
func ClosedPort(t testing.TB) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("testutil.ClosedPort: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	port, _ := strconv.Atoi(portStr)
	return port
}
