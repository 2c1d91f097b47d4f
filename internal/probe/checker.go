// Package probe implements the reachability checks strategies run against
// cameras: ICMP echo, TCP connect and HTTP fetches.
package probe

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// CheckResult is the outcome of a single reachability probe.
type CheckResult struct {
	Target       string
	Success      bool
	LatencyMs    float64
	PacketLoss   float64
	ErrorMessage string
	CheckedAt    time.Time
}

// Checker executes a reachability check against a target and returns the result.
type Checker interface {
	Check(ctx context.Context, target string) (*CheckResult, error)
}

// ICMPChecker pings targets using ICMP via pro-bing.
type ICMPChecker struct {
	timeout time.Duration
	count   int
}

// NewICMPChecker creates a new ICMP checker with the given timeout and ping count.
func NewICMPChecker(timeout time.Duration, count int) *ICMPChecker {
	return &ICMPChecker{
		timeout: timeout,
		count:   count,
	}
}

// Check pings the target and returns the result.
func (c *ICMPChecker) Check(ctx context.Context, target string) (*CheckResult, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return nil, fmt.Errorf("create pinger: %w", err)
	}

	pinger.Count = c.count
	pinger.Timeout = c.timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	// Run pinger in a goroutine for context cancellation.
	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		stats := pinger.Statistics()
		result := &CheckResult{
			Target:    target,
			CheckedAt: time.Now().UTC(),
		}

		if runErr != nil {
			result.ErrorMessage = runErr.Error()
			result.PacketLoss = 1.0
			return result, nil
		}

		result.LatencyMs = float64(stats.AvgRtt) / float64(time.Millisecond)
		result.PacketLoss = stats.PacketLoss / 100.0 // pro-bing returns 0-100
		result.Success = stats.PacketsRecv > 0

		if !result.Success {
			result.ErrorMessage = "all packets lost"
		}

		return result, nil

	case <-ctx.Done():
		pinger.Stop()
		return &CheckResult{
			Target:       target,
			PacketLoss:   1.0,
			ErrorMessage: "check cancelled",
			CheckedAt:    time.Now().UTC(),
		}, nil
	}
}

// TCPChecker opens and immediately closes a TCP connection to host:port.
type TCPChecker struct {
	timeout time.Duration
	dialer  net.Dialer
}

// NewTCPChecker creates a TCP connect checker.
func NewTCPChecker(timeout time.Duration) *TCPChecker {
	return &TCPChecker{timeout: timeout}
}

// Check dials target ("host:port"). A refused or timed out dial is reported
// through the error so callers can classify it.
func (c *TCPChecker) Check(ctx context.Context, target string) (*CheckResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := c.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return &CheckResult{
			Target:       target,
			PacketLoss:   1.0,
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now().UTC(),
		}, err
	}
	_ = conn.Close()

	return &CheckResult{
		Target:    target,
		Success:   true,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
		CheckedAt: time.Now().UTC(),
	}, nil
}
