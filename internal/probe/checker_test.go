package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewICMPChecker(t *testing.T) {
	tests := []struct {
		name        string
		timeout     time.Duration
		count       int
		wantTimeout time.Duration
		wantCount   int
	}{
		{name: "default values", timeout: 3 * time.Second, count: 1, wantTimeout: 3 * time.Second, wantCount: 1},
		{name: "high count", timeout: 10 * time.Second, count: 10, wantTimeout: 10 * time.Second, wantCount: 10},
		{name: "zero values", wantTimeout: 0, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewICMPChecker(tt.timeout, tt.count)
			if checker == nil {
				t.Fatal("NewICMPChecker() returned nil")
			}
			if checker.timeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", checker.timeout, tt.wantTimeout)
			}
			if checker.count != tt.wantCount {
				t.Errorf("count = %v, want %v", checker.count, tt.wantCount)
			}
		})
	}
}

// Compile-time interface guards.
var (
	_ Checker = (*ICMPChecker)(nil)
	_ Checker = (*TCPChecker)(nil)
)

func TestTCPChecker_Open(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	res, err := NewTCPChecker(time.Second).Check(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !res.Success {
		t.Errorf("Success = false, want true")
	}
}

func TestTCPChecker_Closed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	res, err := NewTCPChecker(time.Second).Check(context.Background(), addr)
	if err == nil {
		t.Fatal("Check() on closed port returned nil error")
	}
	if res == nil || res.Success {
		t.Errorf("result = %+v, want unsuccessful result", res)
	}
}

func TestHTTPFetcher_PerRequestAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(user + ":" + pass))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), 0)
	ctx := context.Background()

	a, err := f.Get(ctx, srv.URL, &Credentials{Username: "alice", Password: "one"}, true)
	if err != nil {
		t.Fatalf("Get(alice) error = %v", err)
	}
	b, err := f.Get(ctx, srv.URL, &Credentials{Username: "bob", Password: "two"}, true)
	if err != nil {
		t.Fatalf("Get(bob) error = %v", err)
	}
	anon, err := f.Get(ctx, srv.URL, nil, false)
	if err != nil {
		t.Fatalf("Get(anon) error = %v", err)
	}

	if string(a.Body) != "alice:one" {
		t.Errorf("alice body = %q", a.Body)
	}
	if string(b.Body) != "bob:two" {
		t.Errorf("bob body = %q", b.Body)
	}
	if anon.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401 (credentials must not leak between requests)", anon.StatusCode)
	}
	if !anon.ServicePresent() {
		t.Error("401 should count as service present")
	}
	if got := a.MediaType(); got != "text/plain" {
		t.Errorf("MediaType() = %q, want text/plain", got)
	}
}

func TestResponse_ServicePresent(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{200, true}, {204, true}, {401, true}, {403, true}, {404, false}, {500, false}, {302, false},
	}
	for _, tt := range tests {
		r := &Response{StatusCode: tt.code}
		if got := r.ServicePresent(); got != tt.want {
			t.Errorf("ServicePresent(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
