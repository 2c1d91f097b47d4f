package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/camlink/internal/event"
	"github.com/HerbHall/camlink/internal/plugin"
)

// Name is the plugin name.
const Name = "discovery"

// Identifier enriches a candidate address with its maker.
type Identifier interface {
	Identify(ctx context.Context, ip string) (*Identity, error)
}

// KnownFunc reports whether a stored camera already uses ip:port.
type KnownFunc func(ctx context.Context, ip string, port int) bool

// Options tune the service.
type Options struct {
	// Interval between background scans. Zero disables them; scans then
	// run only on request.
	Interval time.Duration
}

// Service runs the scanners, merges their results and remembers the last
// scan.
type Service struct {
	scanners []Scanner
	identify Identifier
	known    KnownFunc
	events   event.Publisher
	opts     Options
	logger   *zap.Logger

	scanMu sync.Mutex // one scan at a time
	mu     sync.RWMutex
	last   []Candidate
	seen   map[string]bool
	lastAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the service. identify, known and events may be nil.
func NewService(scanners []Scanner, identify Identifier, known KnownFunc, events event.Publisher, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		scanners: scanners,
		identify: identify,
		known:    known,
		events:   events,
		opts:     opts,
		logger:   logger.Named(Name),
		seen:     make(map[string]bool),
	}
}

func (s *Service) Name() string { return Name }

// Scan runs every scanner concurrently and returns the merged candidates.
// A scanner failure is logged; Scan fails only when all scanners fail.
func (s *Service) Scan(ctx context.Context) ([]Candidate, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	var mu sync.Mutex
	var found []Candidate
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	for _, sc := range s.scanners {
		g.Go(func() error {
			cs, err := sc.Scan(gctx)
			mu.Lock()
			defer mu.Unlock()
			found = append(found, cs...)
			if err != nil {
				s.logger.Warn("scanner failed", zap.String("scanner", sc.Name()), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", sc.Name(), err))
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(s.scanners) > 0 && len(errs) == len(s.scanners) {
		return nil, errors.Join(errs...)
	}

	merged := merge(found)
	for i := range merged {
		c := &merged[i]
		if s.identify != nil && c.Manufacturer == "" {
			if id, err := s.identify.Identify(ctx, c.IPAddress); err == nil && id.Manufacturer != "" {
				c.Manufacturer = id.Manufacturer
				c.Type = typeFor(id.Manufacturer, "")
				if c.Name == "" {
					c.Name = id.SysName
				}
			}
		}
		if s.known != nil {
			c.Known = s.known(ctx, c.IPAddress, c.Port)
		}
	}

	s.remember(ctx, merged)
	s.logger.Info("discovery scan complete", zap.Int("candidates", len(merged)))
	return merged, nil
}

// remember stores the scan and publishes camera.discovered once per new
// unknown address.
func (s *Service) remember(ctx context.Context, cs []Candidate) {
	s.mu.Lock()
	s.last = cs
	s.lastAt = time.Now().UTC()
	var fresh []Candidate
	for _, c := range cs {
		if c.Known || s.seen[c.Address()] {
			continue
		}
		s.seen[c.Address()] = true
		fresh = append(fresh, c)
	}
	s.mu.Unlock()

	if s.events == nil {
		return
	}
	for _, c := range fresh {
		s.events.PublishAsync(context.WithoutCancel(ctx), event.Event{
			Topic:  event.TopicCameraDiscovered,
			Source: Name,
			Payload: event.CameraPayload{
				Name:    c.Name,
				Address: c.Address(),
				Status:  c.Source,
			},
		})
	}
}

// Last returns the most recent scan and when it finished.
func (s *Service) Last() ([]Candidate, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Candidate(nil), s.last...), s.lastAt
}

// Start launches periodic scans when an interval is configured.
func (s *Service) Start(ctx context.Context) error {
	if s.opts.Interval <= 0 {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		for {
			if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("discovery scan failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// Stop ends periodic scans.
func (s *Service) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	return nil
}

// Routes exposes the last scan and an on-demand scan.
func (s *Service) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/candidates", Handler: s.handleCandidates},
		{Method: "POST", Path: "/scan", Handler: s.handleScan},
	}
}

func writeCandidates(w http.ResponseWriter, cs []Candidate, at time.Time) {
	if cs == nil {
		cs = []Candidate{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"candidates": cs, "scanned_at": at})
}

func (s *Service) handleCandidates(w http.ResponseWriter, _ *http.Request) {
	cs, at := s.Last()
	writeCandidates(w, cs, at)
}

func (s *Service) handleScan(w http.ResponseWriter, r *http.Request) {
	cs, err := s.Scan(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_, at := s.Last()
	writeCandidates(w, cs, at)
}
