package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/user/shellbridge/internal/config"
	"github.com/user/shellbridge/internal/hub"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(port int) *config.Config {
	cfg := config.Default("/home/test")
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	return cfg
}

func TestRoutes(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := New(testConfig(8765), hub.New("secret", hub.WithLogger(testLogger())), api, testLogger())

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/api/commands", http.StatusTeapot},
		{"/ws", http.StatusUnauthorized},
		{"/ws?token=wrong", http.StatusUnauthorized},
		{"/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rr.Code != tt.want {
			t.Fatalf("GET %s status=%d want %d", tt.path, rr.Code, tt.want)
		}
	}
}

func TestStartAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	srv := New(testConfig(port), nil, nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("healthz status=%d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestStartReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := New(testConfig(port), nil, nil, testLogger())
	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want address in use")
	}
}
