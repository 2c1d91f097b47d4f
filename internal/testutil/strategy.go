package testutil

import (
	"context"
	"sync"

	"github.com/HerbHall/camlink/pkg/camera"
)

// Compile-time interface check.
var _ camera.Strategy = (*MockStrategy)(nil)

// MockStrategy is a scripted camera.Strategy. Unset functions succeed with
// plausible values. Calls are counted per method name.
type MockStrategy struct {
	StrategyName     string
	StrategyPriority int
	Supports         func(camera.Device) bool

	TestFn     func(context.Context, camera.Device) (bool, error)
	ConnectFn  func(context.Context, camera.Device) (*camera.ConnectionInfo, error)
	SnapshotFn func(context.Context, camera.Device) ([]byte, error)
	StreamFn   func(context.Context, camera.Device, camera.Quality) (string, error)

	mu    sync.Mutex
	calls map[string]int
}

// NewMockStrategy returns a mock that supports every device.
func NewMockStrategy(name string, priority int) *MockStrategy {
	return &MockStrategy{StrategyName: name, StrategyPriority: priority}
}

func (m *MockStrategy) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// Calls returns how often method was invoked.
func (m *MockStrategy) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockStrategy) Name() string  { return m.StrategyName }
func (m *MockStrategy) Priority() int { return m.StrategyPriority }

func (m *MockStrategy) SupportsCamera(dev camera.Device) bool {
	m.record("SupportsCamera")
	if m.Supports == nil {
		return true
	}
	return m.Supports(dev)
}

func (m *MockStrategy) TestConnection(ctx context.Context, dev camera.Device) (bool, error) {
	m.record("TestConnection")
	if m.TestFn != nil {
		return m.TestFn(ctx, dev)
	}
	return true, nil
}

func (m *MockStrategy) GetStreamURL(ctx context.Context, dev camera.Device, q camera.Quality) (string, error) {
	m.record("GetStreamURL")
	if m.StreamFn != nil {
		return m.StreamFn(ctx, dev, q)
	}
	return "rtsp://" + dev.Address() + "/" + m.StrategyName + "/" + string(q), nil
}

func (m *MockStrategy) CaptureSnapshot(ctx context.Context, dev camera.Device) ([]byte, error) {
	m.record("CaptureSnapshot")
	if m.SnapshotFn != nil {
		return m.SnapshotFn(ctx, dev)
	}
	return JPEG, nil
}

func (m *MockStrategy) Connect(ctx context.Context, dev camera.Device) (*camera.ConnectionInfo, error) {
	m.record("Connect")
	if m.ConnectFn != nil {
		return m.ConnectFn(ctx, dev)
	}
	return camera.NewConnectionInfo(m.StrategyName, "rtsp://"+dev.Address()+"/"+m.StrategyName, "", "", true,
		map[string]string{"protocol": m.StrategyName})
}

func (m *MockStrategy) Disconnect(context.Context, camera.Device) (bool, error) {
	m.record("Disconnect")
	return true, nil
}

func (m *MockStrategy) GetCapabilities(context.Context, camera.Device) ([]string, error) {
	m.record("GetCapabilities")
	return []string{camera.CapVideoStream}, nil
}

func (m *MockStrategy) SetStreamQuality(_ context.Context, _ camera.Device, q camera.Quality) (bool, error) {
	m.record("SetStreamQuality")
	if !q.Valid() {
		return false, camera.NewError(camera.ErrCodeValidation, m.StrategyName, "set_quality", "bad quality", nil)
	}
	return true, nil
}

func (m *MockStrategy) GetCameraStatus(_ context.Context, dev camera.Device) (map[string]any, error) {
	m.record("GetCameraStatus")
	return map[string]any{"strategy": m.StrategyName, "connected": true, "device": dev.Name()}, nil
}
