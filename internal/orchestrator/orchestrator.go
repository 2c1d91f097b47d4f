// Package orchestrator is the caller-facing façade over the strategy layer.
// It validates the camera, asks the selector for candidates, runs the
// operation under the fallback policy and normalizes the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/event"
	"github.com/HerbHall/camlink/internal/selector"
	"github.com/HerbHall/camlink/pkg/camera"
)

// Fallback decides what happens when the chosen strategy fails.
type Fallback int

const (
	// FallbackNext tries each remaining candidate in order.
	FallbackNext Fallback = iota
	// FallbackNone surfaces the first candidate's failure.
	FallbackNone
)

// ParseFallback accepts next and none; empty means next.
func ParseFallback(s string) (Fallback, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "next":
		return FallbackNext, nil
	case "none":
		return FallbackNone, nil
	}
	return FallbackNext, fmt.Errorf("unknown fallback policy %q", s)
}

func (f Fallback) String() string {
	if f == FallbackNone {
		return "none"
	}
	return "next"
}

// Attempt is one strategy call made on behalf of a caller.
type Attempt struct {
	Strategy  string           `json:"strategy"`
	Op        string           `json:"op"`
	Success   bool             `json:"success"`
	Code      camera.ErrorCode `json:"code,omitempty"`
	Error     string           `json:"error,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
}

// Outcome is the result of Connect. It is returned alongside errors so
// callers can show what was tried.
type Outcome struct {
	Strategy string                 `json:"strategy,omitempty"`
	Info     *camera.ConnectionInfo `json:"info,omitempty"`
	Attempts []Attempt              `json:"attempts"`
}

// AttemptRecorder persists attempts.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, cameraID string, a Attempt) error
}

// Options tune the orchestrator.
type Options struct {
	Fallback Fallback
	// MaxAttempts caps how many candidates one call tries. Zero means all.
	MaxAttempts int
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithPublisher publishes camera lifecycle events.
func WithPublisher(p event.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRecorder persists every attempt.
func WithRecorder(r AttemptRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// Orchestrator runs camera operations across candidate strategies.
type Orchestrator struct {
	sel      *selector.Selector
	opts     Options
	logger   *zap.Logger
	events   event.Publisher
	metrics  *Metrics
	recorder AttemptRecorder

	mu     sync.RWMutex
	active map[string]string // device cache key -> connected strategy
}

// New creates an orchestrator over sel.
func New(sel *selector.Selector, logger *zap.Logger, opts Options, options ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		sel:    sel,
		opts:   opts,
		logger: logger.Named("orchestrator"),
		active: make(map[string]string),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Selector returns the underlying selector.
func (o *Orchestrator) Selector() *selector.Selector { return o.sel }

// Active returns the strategy dev is connected through, if any.
func (o *Orchestrator) Active(dev camera.Device) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	name, ok := o.active[dev.CacheKey()]
	return name, ok
}

func (o *Orchestrator) setActive(dev camera.Device, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if name == "" {
		delete(o.active, dev.CacheKey())
		return
	}
	o.active[dev.CacheKey()] = name
}

// candidates returns the selector's candidates for dev, with the strategy
// dev is connected through moved to the front.
func (o *Orchestrator) candidates(dev camera.Device) ([]camera.Registration, error) {
	regs := o.sel.Candidates(dev)
	if len(regs) == 0 {
		return nil, camera.NewError(camera.ErrCodeNoMatchingStrategy, "", "select",
			fmt.Sprintf("no strategy supports %s (type %q)", dev.Name(), dev.Type()), nil)
	}
	if name, ok := o.Active(dev); ok {
		for i, r := range regs {
			if r.Name == name && i > 0 {
				regs = append([]camera.Registration{r}, append(regs[:i:i], regs[i+1:]...)...)
				break
			}
		}
	}
	return regs, nil
}

func (o *Orchestrator) limit(regs []camera.Registration) []camera.Registration {
	n := len(regs)
	if o.opts.Fallback == FallbackNone {
		n = 1
	}
	if o.opts.MaxAttempts > 0 && o.opts.MaxAttempts < n {
		n = o.opts.MaxAttempts
	}
	return regs[:n]
}

// guard runs fn and converts panics and uncoded errors into coded errors.
func guard[T any](name, op string, fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = camera.NewError(camera.ErrCodeInternal, name, op, fmt.Sprintf("strategy panicked: %v", r), nil)
		}
	}()
	v, err = fn()
	if err != nil {
		err = camera.MapError(name, op, err)
	}
	return v, err
}

func (o *Orchestrator) finish(ctx context.Context, dev camera.Device, a *Attempt, err error) {
	a.Duration = since(a.StartedAt)
	if err == nil {
		a.Success = true
	} else {
		a.Code = camera.CodeOf(err)
		a.Error = err.Error()
	}
	o.metrics.observe(*a)
	if o.recorder != nil {
		if rerr := o.recorder.RecordAttempt(ctx, dev.ID(), *a); rerr != nil {
			o.logger.Warn("record attempt failed", zap.String("camera", dev.ID()), zap.Error(rerr))
		}
	}
}

// run executes call against the candidates of dev under the fallback
// policy and returns the first success.
func run[T any](ctx context.Context, o *Orchestrator, dev camera.Device, op string,
	call func(context.Context, camera.Strategy) (T, error)) (T, string, []Attempt, error) {
	var zero T
	if err := dev.Validate(); err != nil {
		return zero, "", nil, err
	}
	regs, err := o.candidates(dev)
	if err != nil {
		return zero, "", nil, err
	}

	attempts := make([]Attempt, 0, len(regs))
	var errs []error
	for _, reg := range o.limit(regs) {
		if ctx.Err() != nil {
			errs = append(errs, camera.MapError(reg.Name, op, ctx.Err()))
			break
		}
		a := Attempt{Strategy: reg.Name, Op: op, StartedAt: time.Now().UTC()}
		v, err := guard(reg.Name, op, func() (T, error) { return call(ctx, reg.Strategy) })
		o.finish(ctx, dev, &a, err)
		attempts = append(attempts, a)
		if err == nil {
			return v, reg.Name, attempts, nil
		}
		errs = append(errs, err)
		o.logger.Debug("candidate failed",
			zap.String("camera", dev.String()),
			zap.String("strategy", reg.Name),
			zap.String("op", op),
			zap.String("code", string(camera.CodeOf(err))),
		)
	}
	return zero, "", attempts, normalize(op, attempts, errs)
}

// normalize turns candidate failures into one error: device_unreachable
// when every attempt failed on reachability, all_candidates_failed
// otherwise. A single failure under FallbackNone keeps its own code.
func normalize(op string, attempts []Attempt, errs []error) error {
	if len(errs) == 1 && len(attempts) == 1 {
		return errs[0]
	}
	unreachable := len(attempts) > 0
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if a.Code != camera.ErrCodeUnreachable && a.Code != camera.ErrCodeTimeout {
			unreachable = false
		}
		parts = append(parts, a.Strategy+": "+string(a.Code))
	}
	code := camera.ErrCodeAllCandidatesFailed
	msg := "all candidate strategies failed"
	if unreachable {
		code = camera.ErrCodeDeviceUnreachable
		msg = "device unreachable"
	}
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, ", ") + ")"
	}
	return camera.NewError(code, "", op, msg, errors.Join(errs...))
}

func (o *Orchestrator) publish(ctx context.Context, topic string, p event.CameraPayload) {
	if o.events == nil {
		return
	}
	o.events.PublishAsync(context.WithoutCancel(ctx), event.Event{Topic: topic, Source: "orchestrator", Payload: p})
}

func payload(dev camera.Device) event.CameraPayload {
	return event.CameraPayload{CameraID: dev.ID(), Name: dev.Name(), Address: dev.Address()}
}

// Connect connects dev through the first candidate that succeeds.
func (o *Orchestrator) Connect(ctx context.Context, dev camera.Device) (*Outcome, error) {
	info, name, attempts, err := run(ctx, o, dev, "connect", func(ctx context.Context, s camera.Strategy) (*camera.ConnectionInfo, error) {
		info, err := s.Connect(ctx, dev)
		if err == nil && info == nil {
			err = camera.NewError(camera.ErrCodeInternal, s.Name(), "connect", "strategy returned no connection info", nil)
		}
		return info, err
	})
	out := &Outcome{Strategy: name, Info: info, Attempts: attempts}

	p := payload(dev)
	p.Attempts = len(attempts)
	if err != nil {
		p.Code = string(camera.CodeOf(err))
		p.Error = err.Error()
		o.publish(ctx, event.TopicCameraConnectFailed, p)
		o.logger.Warn("camera connect failed",
			zap.String("camera", dev.String()),
			zap.String("code", p.Code),
			zap.Int("attempts", len(attempts)),
		)
		return out, err
	}

	o.setActive(dev, name)
	p.Strategy = name
	p.StreamURL = camera.MaskCredentials(info.StreamURL())
	o.publish(ctx, event.TopicCameraConnected, p)
	o.logger.Info("camera connected",
		zap.String("camera", dev.String()),
		zap.String("strategy", name),
		zap.String("stream_url", p.StreamURL),
	)
	return out, nil
}

// reachable runs TestConnection on s unless dev is already connected
// through s. Stream URL, capability and status queries only use candidates
// that pass it.
func (o *Orchestrator) reachable(ctx context.Context, dev camera.Device, s camera.Strategy) error {
	if name, ok := o.Active(dev); ok && name == s.Name() {
		return nil
	}
	ok, err := s.TestConnection(ctx, dev)
	if err == nil && !ok {
		err = camera.NewError(camera.ErrCodeUnreachable, s.Name(), "test", "connection test failed", nil)
	}
	return err
}

// TestConnection reports whether any candidate can reach dev.
func (o *Orchestrator) TestConnection(ctx context.Context, dev camera.Device) (string, error) {
	_, name, _, err := run(ctx, o, dev, "test", func(ctx context.Context, s camera.Strategy) (bool, error) {
		ok, err := s.TestConnection(ctx, dev)
		if err == nil && !ok {
			err = camera.NewError(camera.ErrCodeUnreachable, s.Name(), "test", "connection test failed", nil)
		}
		return ok, err
	})
	return name, err
}

// CaptureSnapshot returns validated image bytes from the first candidate
// that produces one.
func (o *Orchestrator) CaptureSnapshot(ctx context.Context, dev camera.Device) ([]byte, string, error) {
	data, name, _, err := run(ctx, o, dev, "snapshot", func(ctx context.Context, s camera.Strategy) ([]byte, error) {
		b, err := s.CaptureSnapshot(ctx, dev)
		if err == nil {
			err = camera.ValidateImage(s.Name(), b)
		}
		return b, err
	})
	if err != nil {
		return nil, "", err
	}
	return data, name, nil
}

// StreamURL returns the stream address for quality from the active
// strategy, or from the first candidate that passes its connection test.
func (o *Orchestrator) StreamURL(ctx context.Context, dev camera.Device, quality camera.Quality) (string, string, error) {
	if !quality.Valid() {
		return "", "", camera.NewError(camera.ErrCodeValidation, "", "stream_url", fmt.Sprintf("unknown quality %q", quality), nil)
	}
	u, name, _, err := run(ctx, o, dev, "stream_url", func(ctx context.Context, s camera.Strategy) (string, error) {
		if err := o.reachable(ctx, dev, s); err != nil {
			return "", err
		}
		return s.GetStreamURL(ctx, dev, quality)
	})
	return u, name, err
}

// Capabilities returns the capability list of the active strategy, or of
// the first candidate that passes its connection test.
func (o *Orchestrator) Capabilities(ctx context.Context, dev camera.Device) ([]string, string, error) {
	caps, name, _, err := run(ctx, o, dev, "capabilities", func(ctx context.Context, s camera.Strategy) ([]string, error) {
		if err := o.reachable(ctx, dev, s); err != nil {
			return nil, err
		}
		return s.GetCapabilities(ctx, dev)
	})
	return caps, name, err
}

// Status returns the status map of the active strategy, or of the first
// candidate that passes its connection test. When no candidate can reach
// dev, the top candidate's status is returned with the failure under
// "error".
func (o *Orchestrator) Status(ctx context.Context, dev camera.Device) (map[string]any, error) {
	status, _, _, err := run(ctx, o, dev, "status", func(ctx context.Context, s camera.Strategy) (map[string]any, error) {
		if err := o.reachable(ctx, dev, s); err != nil {
			return nil, err
		}
		return s.GetCameraStatus(ctx, dev)
	})
	if err != nil {
		switch camera.CodeOf(err) {
		case camera.ErrCodeValidation, camera.ErrCodeNoMatchingStrategy:
			return nil, err
		}
		status, err = o.offlineStatus(ctx, dev, err)
		if err != nil {
			return nil, err
		}
	}
	if name, ok := o.Active(dev); ok {
		status["active_strategy"] = name
	}
	return status, nil
}

func (o *Orchestrator) offlineStatus(ctx context.Context, dev camera.Device, cause error) (map[string]any, error) {
	regs, err := o.candidates(dev)
	if err != nil {
		return nil, err
	}
	top := regs[0]
	status, err := guard(top.Name, "status", func() (map[string]any, error) {
		return top.Strategy.GetCameraStatus(ctx, dev)
	})
	if err != nil {
		return nil, err
	}
	if status == nil {
		status = map[string]any{"strategy": top.Name}
	}
	status["connected"] = false
	status["error"] = camera.MaskCredentials(cause.Error())
	return status, nil
}

// SetQuality records quality on every candidate so whichever connects
// next uses it.
func (o *Orchestrator) SetQuality(ctx context.Context, dev camera.Device, quality camera.Quality) error {
	if !quality.Valid() {
		return camera.NewError(camera.ErrCodeValidation, "", "set_quality", fmt.Sprintf("unknown quality %q", quality), nil)
	}
	if err := dev.Validate(); err != nil {
		return err
	}
	regs, err := o.candidates(dev)
	if err != nil {
		return err
	}
	var errs []error
	for _, reg := range regs {
		if _, err := guard(reg.Name, "set_quality", func() (bool, error) {
			return reg.Strategy.SetStreamQuality(ctx, dev, quality)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(regs) {
		return camera.NewError(camera.ErrCodeAllCandidatesFailed, "", "set_quality", "no strategy accepted the quality", errors.Join(errs...))
	}
	return nil
}

// Disconnect calls Disconnect on every candidate so SDK sessions and
// caches are released whichever strategy holds them. It is idempotent.
func (o *Orchestrator) Disconnect(ctx context.Context, dev camera.Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	regs, err := o.candidates(dev)
	if err != nil {
		return err
	}

	var errs []error
	for _, reg := range regs {
		a := Attempt{Strategy: reg.Name, Op: "disconnect", StartedAt: time.Now().UTC()}
		_, err := guard(reg.Name, "disconnect", func() (bool, error) {
			return reg.Strategy.Disconnect(ctx, dev)
		})
		o.finish(ctx, dev, &a, err)
		if err != nil {
			errs = append(errs, err)
		}
	}

	prev, _ := o.Active(dev)
	o.setActive(dev, "")
	p := payload(dev)
	p.Strategy = prev
	o.publish(ctx, event.TopicCameraDisconnected, p)

	if len(errs) > 0 {
		return camera.NewError(camera.ErrCodeInternal, "", "disconnect",
			fmt.Sprintf("%d strategies failed to disconnect", len(errs)), errors.Join(errs...))
	}
	return nil
}
