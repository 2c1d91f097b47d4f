package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/camlink/internal/event"
	"github.com/HerbHall/camlink/internal/selector"
	"github.com/HerbHall/camlink/internal/testutil"
	"github.com/HerbHall/camlink/pkg/camera"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishAsync(ctx context.Context, e event.Event) {
	_ = p.Publish(ctx, e)
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

type memoryRecorder struct {
	mu       sync.Mutex
	attempts map[string][]Attempt
}

func (r *memoryRecorder) RecordAttempt(_ context.Context, cameraID string, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempts == nil {
		r.attempts = make(map[string][]Attempt)
	}
	r.attempts[cameraID] = append(r.attempts[cameraID], a)
	return nil
}

func fail(code camera.ErrorCode) func(context.Context, camera.Device) (*camera.ConnectionInfo, error) {
	return func(context.Context, camera.Device) (*camera.ConnectionInfo, error) {
		return nil, camera.NewError(code, "mock", "connect", "scripted failure", nil)
	}
}

func newOrchestrator(t *testing.T, opts Options, strategies ...camera.Strategy) (*Orchestrator, *recordingPublisher) {
	t.Helper()
	sel := selector.New(testutil.Logger(), selector.PreferHigher)
	for _, s := range strategies {
		require.NoError(t, sel.Register(s))
	}
	pub := &recordingPublisher{}
	return New(sel, testutil.Logger(), opts, WithPublisher(pub)), pub
}

func TestParseFallback(t *testing.T) {
	tests := []struct {
		in      string
		want    Fallback
		wantErr bool
	}{
		{"", FallbackNext, false},
		{"next", FallbackNext, false},
		{" NONE ", FallbackNone, false},
		{"retry", FallbackNext, true},
	}
	for _, tt := range tests {
		got, err := ParseFallback(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFallback(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFallback(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConnect_FirstCandidateWins(t *testing.T) {
	high := testutil.NewMockStrategy("high", 20)
	low := testutil.NewMockStrategy("low", 3)
	o, pub := newOrchestrator(t, Options{}, low, high)
	dev := testutil.NewDevice(t)

	out, err := o.Connect(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, "high", out.Strategy)
	assert.Len(t, out.Attempts, 1)
	assert.True(t, out.Attempts[0].Success)
	assert.Equal(t, 0, low.Calls("Connect"))
	assert.Equal(t, []string{event.TopicCameraConnected}, pub.topics())

	active, ok := o.Active(dev)
	assert.True(t, ok)
	assert.Equal(t, "high", active)
}

func TestConnect_FallsBackToNext(t *testing.T) {
	high := testutil.NewMockStrategy("high", 20)
	high.ConnectFn = fail(camera.ErrCodeProtocol)
	low := testutil.NewMockStrategy("low", 3)
	o, _ := newOrchestrator(t, Options{}, high, low)

	out, err := o.Connect(context.Background(), testutil.NewDevice(t))
	require.NoError(t, err)
	assert.Equal(t, "low", out.Strategy)
	require.Len(t, out.Attempts, 2)
	assert.False(t, out.Attempts[0].Success)
	assert.Equal(t, camera.ErrCodeProtocol, out.Attempts[0].Code)
}

func TestConnect_FallbackNoneSurfacesFirstFailure(t *testing.T) {
	high := testutil.NewMockStrategy("high", 20)
	high.ConnectFn = fail(camera.ErrCodeProtocol)
	low := testutil.NewMockStrategy("low", 3)
	o, pub := newOrchestrator(t, Options{Fallback: FallbackNone}, high, low)

	_, err := o.Connect(context.Background(), testutil.NewDevice(t))
	require.Error(t, err)
	assert.Equal(t, camera.ErrCodeProtocol, camera.CodeOf(err))
	assert.Equal(t, 0, low.Calls("Connect"))
	assert.Equal(t, []string{event.TopicCameraConnectFailed}, pub.topics())
}

func TestConnect_MaxAttempts(t *testing.T) {
	a := testutil.NewMockStrategy("a", 3)
	a.ConnectFn = fail(camera.ErrCodeProtocol)
	b := testutil.NewMockStrategy("b", 2)
	b.ConnectFn = fail(camera.ErrCodeProtocol)
	c := testutil.NewMockStrategy("c", 1)
	o, _ := newOrchestrator(t, Options{MaxAttempts: 2}, a, b, c)

	out, err := o.Connect(context.Background(), testutil.NewDevice(t))
	assert.Equal(t, camera.ErrCodeAllCandidatesFailed, camera.CodeOf(err))
	assert.Len(t, out.Attempts, 2)
	assert.Equal(t, 0, c.Calls("Connect"))
}

func TestConnect_Classification(t *testing.T) {
	tests := []struct {
		name  string
		codes []camera.ErrorCode
		want  camera.ErrorCode
	}{
		{"all unreachable", []camera.ErrorCode{camera.ErrCodeUnreachable, camera.ErrCodeUnreachable}, camera.ErrCodeDeviceUnreachable},
		{"unreachable and timeout", []camera.ErrorCode{camera.ErrCodeTimeout, camera.ErrCodeUnreachable}, camera.ErrCodeDeviceUnreachable},
		{"mixed", []camera.ErrorCode{camera.ErrCodeUnreachable, camera.ErrCodeProtocol}, camera.ErrCodeAllCandidatesFailed},
		{"sdk missing", []camera.ErrorCode{camera.ErrCodeSDKUnavailable, camera.ErrCodeNotSupported}, camera.ErrCodeAllCandidatesFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var strategies []camera.Strategy
			for i, code := range tt.codes {
				m := testutil.NewMockStrategy(string(rune('a'+i)), 10-i)
				m.ConnectFn = fail(code)
				strategies = append(strategies, m)
			}
			o, _ := newOrchestrator(t, Options{}, strategies...)

			out, err := o.Connect(context.Background(), testutil.NewDevice(t))
			require.Error(t, err)
			assert.Equal(t, tt.want, camera.CodeOf(err))
			assert.Len(t, out.Attempts, len(tt.codes))

			var ce *camera.Error
			require.True(t, errors.As(err, &ce))
			for _, a := range out.Attempts {
				assert.Contains(t, ce.Message, a.Strategy)
			}
		})
	}
}

func TestConnect_NoMatchingStrategy(t *testing.T) {
	m := testutil.NewMockStrategy("picky", 10)
	m.Supports = func(camera.Device) bool { return false }
	o, _ := newOrchestrator(t, Options{}, m)

	_, err := o.Connect(context.Background(), testutil.NewDevice(t))
	assert.Equal(t, camera.ErrCodeNoMatchingStrategy, camera.CodeOf(err))
	assert.Equal(t, 0, m.Calls("Connect"))
}

func TestConnect_InvalidDevice(t *testing.T) {
	m := testutil.NewMockStrategy("any", 10)
	o, _ := newOrchestrator(t, Options{}, m)

	// The zero Device has port 0.
	_, err := o.Connect(context.Background(), camera.Device{})
	assert.Equal(t, camera.ErrCodeValidation, camera.CodeOf(err))
	assert.Equal(t, 0, m.Calls("SupportsCamera"))
}

func TestConnect_PanicBecomesInternal(t *testing.T) {
	bad := testutil.NewMockStrategy("bad", 20)
	bad.ConnectFn = func(context.Context, camera.Device) (*camera.ConnectionInfo, error) {
		panic("boom")
	}
	good := testutil.NewMockStrategy("good", 3)
	o, _ := newOrchestrator(t, Options{}, bad, good)

	out, err := o.Connect(context.Background(), testutil.NewDevice(t))
	require.NoError(t, err)
	assert.Equal(t, "good", out.Strategy)
	assert.Equal(t, camera.ErrCodeInternal, out.Attempts[0].Code)
	assert.Contains(t, out.Attempts[0].Error, "boom")
}

func TestConnect_NilInfoIsInternal(t *testing.T) {
	empty := testutil.NewMockStrategy("empty", 20)
	empty.ConnectFn = func(context.Context, camera.Device) (*camera.ConnectionInfo, error) {
		return nil, nil
	}
	good := testutil.NewMockStrategy("good", 3)
	o, _ := newOrchestrator(t, Options{}, empty, good)

	out, err := o.Connect(context.Background(), testutil.NewDevice(t))
	require.NoError(t, err)
	assert.Equal(t, "good", out.Strategy)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, camera.ErrCodeInternal, out.Attempts[0].Code)

	o, _ = newOrchestrator(t, Options{}, empty)
	_, err = o.Connect(context.Background(), testutil.NewDevice(t))
	assert.Equal(t, camera.ErrCodeInternal, camera.CodeOf(err))
}

func TestConnect_RecordsAttemptsAndMetrics(t *testing.T) {
	high := testutil.NewMockStrategy("high", 20)
	high.ConnectFn = fail(camera.ErrCodeUnreachable)
	low := testutil.NewMockStrategy("low", 3)

	sel := selector.New(testutil.Logger(), selector.PreferHigher)
	require.NoError(t, sel.Register(high))
	require.NoError(t, sel.Register(low))
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	rec := &memoryRecorder{}
	o := New(sel, testutil.Logger(), Options{}, WithMetrics(metrics), WithRecorder(rec))

	dev := testutil.NewDevice(t)
	_, err := o.Connect(context.Background(), dev)
	require.NoError(t, err)

	assert.Len(t, rec.attempts[dev.ID()], 2)
	assert.InDelta(t, 1, promtest.ToFloat64(metrics.Attempts().WithLabelValues("high", "connect", "unreachable")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(metrics.Attempts().WithLabelValues("low", "connect", "success")), 0)
}

func TestCaptureSnapshot_RejectsNonImage(t *testing.T) {
	html := testutil.NewMockStrategy("html", 20)
	html.SnapshotFn = func(context.Context, camera.Device) ([]byte, error) {
		return testutil.LoginPage, nil
	}
	jpeg := testutil.NewMockStrategy("jpeg", 3)
	o, _ := newOrchestrator(t, Options{}, html, jpeg)

	data, name, err := o.CaptureSnapshot(context.Background(), testutil.NewDevice(t))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", name)
	assert.Equal(t, testutil.JPEG, data)
}

func TestStreamURL(t *testing.T) {
	m := testutil.NewMockStrategy("mock", 10)
	o, _ := newOrchestrator(t, Options{}, m)
	dev := testutil.NewDevice(t)

	u, name, err := o.StreamURL(context.Background(), dev, camera.QualityLow)
	require.NoError(t, err)
	assert.Equal(t, "mock", name)
	assert.Contains(t, u, "/low")

	_, _, err = o.StreamURL(context.Background(), dev, camera.Quality("ultra"))
	assert.Equal(t, camera.ErrCodeValidation, camera.CodeOf(err))
	assert.Equal(t, 1, m.Calls("GetStreamURL"))
}

func TestQueriesSkipUnreachableCandidates(t *testing.T) {
	down := testutil.NewMockStrategy("down", 20)
	down.TestFn = func(context.Context, camera.Device) (bool, error) {
		return false, camera.NewError(camera.ErrCodeProtocol, "down", "test", "login page", nil)
	}
	up := testutil.NewMockStrategy("up", 3)
	o, _ := newOrchestrator(t, Options{}, down, up)
	dev := testutil.NewDevice(t)

	_, name, err := o.StreamURL(context.Background(), dev, camera.QualityMedium)
	require.NoError(t, err)
	assert.Equal(t, "up", name)

	_, name, err = o.Capabilities(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, "up", name)

	status, err := o.Status(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, "up", status["strategy"])

	assert.Equal(t, 0, down.Calls("GetStreamURL"))
	assert.Equal(t, 0, down.Calls("GetCapabilities"))
	assert.Equal(t, 0, down.Calls("GetCameraStatus"))
}

func TestStatus_NoReachableCandidate(t *testing.T) {
	down := testutil.NewMockStrategy("down", 20)
	down.TestFn = func(context.Context, camera.Device) (bool, error) { return false, nil }
	o, _ := newOrchestrator(t, Options{}, down)

	status, err := o.Status(context.Background(), testutil.NewDevice(t))
	require.NoError(t, err)
	assert.Equal(t, "down", status["strategy"])
	assert.Equal(t, false, status["connected"])
	assert.Contains(t, status["error"], "connection test failed")
}

func TestTestConnection_FalseIsFailure(t *testing.T) {
	down := testutil.NewMockStrategy("down", 20)
	down.TestFn = func(context.Context, camera.Device) (bool, error) { return false, nil }
	up := testutil.NewMockStrategy("up", 3)
	o, _ := newOrchestrator(t, Options{}, down, up)

	name, err := o.TestConnection(context.Background(), testutil.NewDevice(t))
	require.NoError(t, err)
	assert.Equal(t, "up", name)
}

func TestDisconnect_CallsEveryCandidate(t *testing.T) {
	a := testutil.NewMockStrategy("a", 20)
	b := testutil.NewMockStrategy("b", 3)
	o, pub := newOrchestrator(t, Options{}, a, b)
	dev := testutil.NewDevice(t)

	_, err := o.Connect(context.Background(), dev)
	require.NoError(t, err)

	for range 2 {
		require.NoError(t, o.Disconnect(context.Background(), dev))
	}
	assert.Equal(t, 2, a.Calls("Disconnect"))
	assert.Equal(t, 2, b.Calls("Disconnect"))
	_, ok := o.Active(dev)
	assert.False(t, ok)
	assert.Equal(t, []string{
		event.TopicCameraConnected,
		event.TopicCameraDisconnected,
		event.TopicCameraDisconnected,
	}, pub.topics())
}

func TestActiveStrategyTriedFirst(t *testing.T) {
	high := testutil.NewMockStrategy("high", 20)
	high.ConnectFn = fail(camera.ErrCodeProtocol)
	low := testutil.NewMockStrategy("low", 3)
	o, _ := newOrchestrator(t, Options{}, high, low)
	dev := testutil.NewDevice(t)

	_, err := o.Connect(context.Background(), dev)
	require.NoError(t, err)

	_, name, err := o.Capabilities(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, "low", name)
	assert.Equal(t, 0, high.Calls("GetCapabilities"))

	status, err := o.Status(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, "low", status["active_strategy"])
}

func TestSetQuality(t *testing.T) {
	a := testutil.NewMockStrategy("a", 20)
	b := testutil.NewMockStrategy("b", 3)
	o, _ := newOrchestrator(t, Options{}, a, b)
	dev := testutil.NewDevice(t)

	require.NoError(t, o.SetQuality(context.Background(), dev, camera.QualityMedium))
	assert.Equal(t, 1, a.Calls("SetStreamQuality"))
	assert.Equal(t, 1, b.Calls("SetStreamQuality"))

	err := o.SetQuality(context.Background(), dev, camera.Quality("4k"))
	assert.Equal(t, camera.ErrCodeValidation, camera.CodeOf(err))
}
