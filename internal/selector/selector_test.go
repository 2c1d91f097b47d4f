package selector

import (
	"testing"

	"github.com/HerbHall/camlink/internal/testutil"
	"github.com/HerbHall/camlink/pkg/camera"
)

// observed priorities of the built-in strategies
var builtins = []struct {
	name     string
	priority int
}{
	{"rtsp", 3}, {"http", 4}, {"usb", 5}, {"onvif", 15}, {"dahua", 18}, {"hikvision", 20},
}

func newPopulated(t *testing.T, prefer Order) (*Selector, map[string]*testutil.MockStrategy) {
	t.Helper()
	s := New(testutil.Logger(), prefer)
	mocks := make(map[string]*testutil.MockStrategy)
	for _, b := range builtins {
		m := testutil.NewMockStrategy(b.name, b.priority)
		mocks[b.name] = m
		if err := s.Register(m); err != nil {
			t.Fatalf("Register(%s) error = %v", b.name, err)
		}
	}
	return s, mocks
}

func names(regs []camera.Registration) []string {
	out := make([]string, len(regs))
	for i, r := range regs {
		out[i] = r.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCandidates_PreferHigher(t *testing.T) {
	s, _ := newPopulated(t, PreferHigher)
	got := names(s.Candidates(testutil.NewDevice(t)))
	want := []string{"hikvision", "dahua", "onvif", "usb", "http", "rtsp"}
	if !equal(got, want) {
		t.Errorf("Candidates() = %v, want %v", got, want)
	}
}

func TestCandidates_PreferLower(t *testing.T) {
	s, _ := newPopulated(t, PreferLower)
	got := names(s.Candidates(testutil.NewDevice(t)))
	want := []string{"rtsp", "http", "usb", "onvif", "dahua", "hikvision"}
	if !equal(got, want) {
		t.Errorf("Candidates() = %v, want %v", got, want)
	}
}

func TestCandidates_Filters(t *testing.T) {
	s, mocks := newPopulated(t, PreferHigher)
	onlyONVIF := func(d camera.Device) bool { return d.TypeContains("onvif") }
	for name, m := range mocks {
		switch name {
		case "onvif":
			m.Supports = onlyONVIF
		case "http":
			m.Supports = func(camera.Device) bool { return true }
		default:
			m.Supports = func(camera.Device) bool { return false }
		}
	}

	got := names(s.Candidates(testutil.NewDevice(t, testutil.WithType("ONVIF"))))
	if want := []string{"onvif", "http"}; !equal(got, want) {
		t.Errorf("Candidates(onvif) = %v, want %v", got, want)
	}

	sel, err := s.Select(testutil.NewDevice(t, testutil.WithType("Generic")))
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.Name != "http" {
		t.Errorf("Select() = %s, want http", sel.Name)
	}
}

func TestCandidates_PerformNoIO(t *testing.T) {
	s, mocks := newPopulated(t, PreferHigher)
	dev := testutil.NewDevice(t)
	first := names(s.Candidates(dev))
	second := names(s.Candidates(dev))
	if !equal(first, second) {
		t.Errorf("Candidates() not deterministic: %v vs %v", first, second)
	}
	for name, m := range mocks {
		for _, method := range []string{"TestConnection", "Connect", "CaptureSnapshot", "GetStreamURL"} {
			if n := m.Calls(method); n != 0 {
				t.Errorf("%s.%s called %d times during selection", name, method, n)
			}
		}
	}
}

func TestSelect_NoMatchingStrategy(t *testing.T) {
	s := New(testutil.Logger(), PreferHigher)
	m := testutil.NewMockStrategy("usb", 5)
	m.Supports = func(camera.Device) bool { return false }
	if err := s.Register(m); err != nil {
		t.Fatal(err)
	}

	_, err := s.Select(testutil.NewDevice(t))
	if !camera.IsCode(err, camera.ErrCodeNoMatchingStrategy) {
		t.Errorf("Select() error = %v, want no_matching_strategy", err)
	}
	if camera.IsCode(err, camera.ErrCodeUnreachable) {
		t.Error("no-candidate failure must not look like an unreachable device")
	}
}

func TestRegister_Rejects(t *testing.T) {
	s := New(testutil.Logger(), PreferHigher)
	if err := s.Register(testutil.NewMockStrategy("rtsp", 3)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := s.Register(testutil.NewMockStrategy("rtsp", 9)); err == nil {
		t.Error("Register(duplicate) error = nil")
	}
	if err := s.Register(testutil.NewMockStrategy("", 1)); err == nil {
		t.Error("Register(empty name) error = nil")
	}
	if err := s.Register(nil); err == nil {
		t.Error("Register(nil) error = nil")
	}
	if got := len(s.All()); got != 1 {
		t.Errorf("All() has %d entries, want 1", got)
	}
}

func TestTiesKeepRegistrationOrder(t *testing.T) {
	s := New(testutil.Logger(), PreferHigher)
	for _, n := range []string{"b", "a", "c"} {
		_ = s.Register(testutil.NewMockStrategy(n, 7))
	}
	if got := names(s.Candidates(testutil.NewDevice(t))); !equal(got, []string{"b", "a", "c"}) {
		t.Errorf("Candidates() = %v, want [b a c]", got)
	}
}

func TestParseOrder(t *testing.T) {
	tests := []struct {
		in      string
		want    Order
		wantErr bool
	}{
		{"", PreferHigher, false},
		{"prefer_higher", PreferHigher, false},
		{"PREFER_LOWER", PreferLower, false},
		{"sideways", PreferHigher, true},
	}
	for _, tt := range tests {
		got, err := ParseOrder(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOrder(%q) = %v, %v", tt.in, got, err)
		}
	}
}
