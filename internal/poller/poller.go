// Package poller periodically tests every camera in the inventory and
// publishes status changes on the event bus.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/HerbHall/camlink/internal/event"
	"github.com/HerbHall/camlink/internal/plugin"
	"github.com/HerbHall/camlink/internal/services"
	"github.com/HerbHall/camlink/pkg/camera"
)

// Name is the plugin name.
const Name = "poller"

// Source lists the devices to poll.
type Source interface {
	Devices(ctx context.Context) ([]camera.Device, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]camera.Device, error)

func (f SourceFunc) Devices(ctx context.Context) ([]camera.Device, error) { return f(ctx) }

// RepositorySource polls every camera stored in repo. Records that no
// longer validate are skipped.
func RepositorySource(repo services.CameraRepository, logger *zap.Logger) Source {
	return SourceFunc(func(ctx context.Context) ([]camera.Device, error) {
		var devices []camera.Device
		for offset := 0; ; {
			page, err := repo.List(ctx, services.CameraFilter{}, services.ListOptions{Limit: services.MaxPageSize, Offset: offset})
			if err != nil {
				return nil, err
			}
			for i := range page.Items {
				dev, err := page.Items[i].Device()
				if err != nil {
					logger.Warn("skipping invalid camera", zap.String("id", page.Items[i].ID), zap.Error(err))
					continue
				}
				devices = append(devices, dev)
			}
			offset += len(page.Items)
			if len(page.Items) == 0 || offset >= page.Total {
				return devices, nil
			}
		}
	})
}

// Tester checks one device. The orchestrator implements it.
type Tester interface {
	TestConnection(ctx context.Context, dev camera.Device) (string, error)
}

// Options tune polling.
type Options struct {
	Interval time.Duration
	// Rate is the sustained number of device tests per second; Burst
	// allows short spikes above it.
	Rate        float64
	Burst       int
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.Rate <= 0 {
		o.Rate = 5
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Result is the latest poll outcome of one camera.
type Result struct {
	CameraID  string           `json:"camera_id"`
	Name      string           `json:"name"`
	Online    bool             `json:"online"`
	Strategy  string           `json:"strategy,omitempty"`
	Code      camera.ErrorCode `json:"code,omitempty"`
	Error     string           `json:"error,omitempty"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Status renders Online as the status string carried in events.
func (r Result) Status() string {
	if r.Online {
		return "online"
	}
	return "offline"
}

// Poller tests cameras on a schedule.
type Poller struct {
	src     Source
	tester  Tester
	events  event.Publisher
	limiter *rate.Limiter
	opts    Options
	logger  *zap.Logger

	mu     sync.RWMutex // guards last, cancel and done
	last   map[string]Result
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller. events may be nil.
func New(src Source, tester Tester, events event.Publisher, opts Options, logger *zap.Logger) *Poller {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		src:     src,
		tester:  tester,
		events:  events,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		opts:    opts,
		logger:  logger.Named(Name),
		last:    make(map[string]Result),
	}
}

func (p *Poller) Name() string { return Name }

// Start runs an immediate poll and then one per interval until Stop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return fmt.Errorf("poller already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()
		for {
			if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("poll failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	p.logger.Info("poller started",
		zap.Duration("interval", p.opts.Interval),
		zap.Float64("rate", p.opts.Rate),
		zap.Int("concurrency", p.opts.Concurrency),
	)
	return nil
}

// Stop cancels the loop and waits for the running poll to finish.
func (p *Poller) Stop() error {
	// The running poll takes mu to store results, so wait unlocked.
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	p.logger.Info("poller stopped")
	return nil
}

// PollOnce tests every device once, throttled by the rate limiter and
// bounded by Concurrency. Device failures are results, not errors.
func (p *Poller) PollOnce(ctx context.Context) ([]Result, error) {
	devices, err := p.src.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	results := make([]Result, len(devices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, dev := range devices {
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return err
			}
			results[i] = p.poll(gctx, dev)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	online := 0
	for _, r := range results {
		if r.Online {
			online++
		}
	}
	p.logger.Debug("poll complete", zap.Int("cameras", len(results)), zap.Int("online", online))
	return results, nil
}

func (p *Poller) poll(ctx context.Context, dev camera.Device) Result {
	name, err := p.tester.TestConnection(ctx, dev)
	r := Result{
		CameraID:  dev.ID(),
		Name:      dev.Name(),
		Online:    err == nil,
		Strategy:  name,
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		r.Code = camera.CodeOf(err)
		r.Error = err.Error()
	}

	key := dev.ID()
	if key == "" {
		key = dev.CacheKey()
	}
	p.mu.Lock()
	prev, seen := p.last[key]
	p.last[key] = r
	p.mu.Unlock()

	if seen && prev.Online == r.Online {
		return r
	}
	p.logger.Info("camera status changed",
		zap.String("camera", dev.String()),
		zap.String("status", r.Status()),
		zap.String("strategy", r.Strategy),
	)
	if p.events != nil {
		p.events.PublishAsync(context.WithoutCancel(ctx), event.Event{
			Topic:  event.TopicCameraStatus,
			Source: Name,
			Payload: event.CameraPayload{
				CameraID: r.CameraID,
				Name:     r.Name,
				Address:  dev.Address(),
				Strategy: r.Strategy,
				Status:   r.Status(),
				Code:     string(r.Code),
				Error:    r.Error,
			},
		})
	}
	return r
}

// Last returns the latest result of every polled camera, sorted by name.
func (p *Poller) Last() []Result {
	p.mu.RLock()
	out := make([]Result, 0, len(p.last))
	for _, r := range p.last {
		out = append(out, r)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Routes exposes the latest results.
func (p *Poller) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/status", Handler: p.handleStatus},
	}
}

func (p *Poller) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"results": p.Last()})
}
