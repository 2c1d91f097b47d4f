// Package selector holds the registered strategies and picks, per camera,
// the applicable ones in priority order.
package selector

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/camlink/pkg/camera"
)

// Order is the direction in which priorities are compared.
type Order int

const (
	// PreferHigher tries the highest Priority first (Hikvision 20 before
	// RTSP 3).
	PreferHigher Order = iota
	// PreferLower tries the lowest Priority first.
	PreferLower
)

// ParseOrder accepts prefer_higher and prefer_lower; empty means
// PreferHigher.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prefer_higher", "higher":
		return PreferHigher, nil
	case "prefer_lower", "lower":
		return PreferLower, nil
	}
	return PreferHigher, fmt.Errorf("unknown selector order %q", s)
}

func (o Order) String() string {
	if o == PreferLower {
		return "prefer_lower"
	}
	return "prefer_higher"
}

// Selector is a concurrency-safe strategy registry.
type Selector struct {
	mu         sync.RWMutex
	strategies map[string]camera.Registration
	order      []string
	prefer     Order
	logger     *zap.Logger
}

// New creates an empty selector.
func New(logger *zap.Logger, prefer Order) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		strategies: make(map[string]camera.Registration),
		prefer:     prefer,
		logger:     logger,
	}
}

// Order returns the configured comparison direction.
func (s *Selector) Order() Order { return s.prefer }

// Register adds a strategy. Names must be non-empty and unique.
func (s *Selector) Register(st camera.Strategy) error {
	if st == nil {
		return fmt.Errorf("register: nil strategy")
	}
	reg := camera.Register(st)
	if reg.Name == "" {
		return fmt.Errorf("register: strategy has an empty name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.strategies[reg.Name]; exists {
		return fmt.Errorf("strategy %q already registered", reg.Name)
	}
	s.strategies[reg.Name] = reg
	s.order = append(s.order, reg.Name)
	s.logger.Info("strategy registered", zap.String("name", reg.Name), zap.Int("priority", reg.Priority))
	return nil
}

// Get returns a registration by name.
func (s *Selector) Get(name string) (camera.Registration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.strategies[name]
	return reg, ok
}

// All returns every registration in priority order.
func (s *Selector) All() []camera.Registration {
	s.mu.RLock()
	all := make([]camera.Registration, 0, len(s.order))
	for _, name := range s.order {
		all = append(all, s.strategies[name])
	}
	s.mu.RUnlock()
	s.sort(all)
	return all
}

// sort orders regs by priority in the configured direction. Equal
// priorities keep registration order.
func (s *Selector) sort(regs []camera.Registration) {
	slices.SortStableFunc(regs, func(a, b camera.Registration) int {
		if s.prefer == PreferLower {
			return a.Priority - b.Priority
		}
		return b.Priority - a.Priority
	})
}

// Candidates returns the strategies whose SupportsCamera accepts dev, best
// first. It performs no I/O.
func (s *Selector) Candidates(dev camera.Device) []camera.Registration {
	s.mu.RLock()
	var out []camera.Registration
	for _, name := range s.order {
		reg := s.strategies[name]
		if reg.Strategy.SupportsCamera(dev) {
			out = append(out, reg)
		}
	}
	s.mu.RUnlock()
	s.sort(out)
	return out
}

// Select returns the best candidate for dev, or a no_matching_strategy
// error when nothing applies.
func (s *Selector) Select(dev camera.Device) (camera.Registration, error) {
	c := s.Candidates(dev)
	if len(c) == 0 {
		return camera.Registration{}, camera.NewError(camera.ErrCodeNoMatchingStrategy, "", "select",
			fmt.Sprintf("no strategy supports %s (type %q)", dev.Name(), dev.Type()), nil)
	}
	return c[0], nil
}
