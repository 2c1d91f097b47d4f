package plugin

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.uber.org/zap"
)

// testPlugin records lifecycle calls into a shared log.
type testPlugin struct {
	name     string
	startErr error
	log      *[]string
	routes   []Route
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) Start(context.Context) error {
	if p.startErr != nil {
		return p.startErr
	}
	*p.log = append(*p.log, "start "+p.name)
	return nil
}

func (p *testPlugin) Stop() error {
	*p.log = append(*p.log, "stop "+p.name)
	return nil
}

func (p *testPlugin) Routes() []Route { return p.routes }

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestRegister(t *testing.T) {
	reg := NewRegistry(testLogger())
	var log []string

	p := &testPlugin{name: "alpha", log: &log}
	if err := reg.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(p); err == nil {
		t.Fatal("Register() expected error for duplicate, got nil")
	}
	if err := reg.Register(&testPlugin{log: &log}); err == nil {
		t.Fatal("Register() expected error for empty name, got nil")
	}
	if got, ok := reg.Get("alpha"); !ok || got != p {
		t.Errorf("Get(alpha) = %v, %v", got, ok)
	}
}

func TestStartStopOrder(t *testing.T) {
	reg := NewRegistry(testLogger())
	var log []string
	for _, name := range []string{"a", "b", "c"} {
		if err := reg.Register(&testPlugin{name: name, log: &log}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	if err := reg.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	reg.StopAll()
	reg.StopAll() // second call is a no-op

	want := []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestStartAllRollsBack(t *testing.T) {
	reg := NewRegistry(testLogger())
	var log []string
	boom := errors.New("boom")
	_ = reg.Register(&testPlugin{name: "a", log: &log})
	_ = reg.Register(&testPlugin{name: "b", log: &log, startErr: boom})
	_ = reg.Register(&testPlugin{name: "c", log: &log})

	err := reg.StartAll(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("StartAll() error = %v, want %v", err, boom)
	}
	want := []string{"start a", "stop a"}
	if len(log) != len(want) || log[0] != want[0] || log[1] != want[1] {
		t.Errorf("log = %v, want %v", log, want)
	}
}

func TestAllRoutes(t *testing.T) {
	reg := NewRegistry(testLogger())
	var log []string
	h := func(http.ResponseWriter, *http.Request) {}
	_ = reg.Register(&testPlugin{name: "poller", log: &log, routes: []Route{{Method: "GET", Path: "/status", Handler: h}}})
	_ = reg.Register(&testPlugin{name: "quiet", log: &log})

	routes := reg.AllRoutes()
	if len(routes) != 1 {
		t.Fatalf("AllRoutes() = %d plugins, want 1", len(routes))
	}
	if len(routes["poller"]) != 1 || routes["poller"][0].Path != "/status" {
		t.Errorf("AllRoutes()[poller] = %+v", routes["poller"])
	}
	if len(reg.All()) != 2 {
		t.Errorf("All() = %d, want 2", len(reg.All()))
	}
}
