// Package sdk models the vendor SDK seam shared by the Hikvision and Dahua
// strategies: an explicit per-vendor SDK context with one-time
// initialization, a session handle cache and a driver that implements the
// strategy contract on top of a simulated native login.
package sdk

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/camlink/pkg/camera"
)

// ContextOptions configure an SDK context.
type ContextOptions struct {
	// Platforms lists the GOOS values the native SDK ships for. Empty means
	// every platform.
	Platforms []string
	// Available forces availability on or off regardless of platform.
	Available *bool
	// GOOS overrides runtime.GOOS, for tests.
	GOOS string
	// InitDelay simulates the native library start-up cost.
	InitDelay time.Duration
}

// Context is the process-level state of one vendor SDK. It is created once
// at start-up and handed to the strategy that needs it. Initialization runs
// at most once per Context.
type Context struct {
	vendor string
	opts   ContextOptions
	logger *zap.Logger

	mu          sync.Mutex
	initialized bool
	initCount   int
	initAt      time.Time
}

// NewContext creates an uninitialized SDK context for vendor.
func NewContext(vendor string, opts ContextOptions, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	return &Context{vendor: vendor, opts: opts, logger: logger.Named("sdk." + vendor)}
}

// Vendor returns the vendor name.
func (c *Context) Vendor() string { return c.vendor }

// Available reports whether the native SDK can run on this platform.
func (c *Context) Available() bool {
	if c.opts.Available != nil {
		return *c.opts.Available
	}
	return len(c.opts.Platforms) == 0 || slices.Contains(c.opts.Platforms, c.opts.GOOS)
}

// Init initializes the SDK once. Later calls return immediately. A failed
// attempt leaves the context uninitialized so the next call retries.
func (c *Context) Init(ctx context.Context) error {
	if !c.Available() {
		return camera.NewError(camera.ErrCodeSDKUnavailable, c.vendor, "init",
			fmt.Sprintf("%s sdk is not available on %s", c.vendor, c.opts.GOOS), nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	if c.opts.InitDelay > 0 {
		t := time.NewTimer(c.opts.InitDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return camera.MapError(c.vendor, "init", ctx.Err())
		}
	}

	c.initialized = true
	c.initCount++
	c.initAt = time.Now().UTC()
	c.logger.Info("sdk initialized", zap.String("goos", c.opts.GOOS))
	return nil
}

// Initialized reports whether Init has completed.
func (c *Context) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// InitCount returns how many times initialization actually ran.
func (c *Context) InitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initCount
}

// Cleanup releases the SDK. The context may be initialized again.
func (c *Context) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		c.initialized = false
		c.logger.Info("sdk cleaned up", zap.Duration("uptime", time.Since(c.initAt)))
	}
}
