package util

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func TestNewMonitorServer(t *testing.T) {
	server := NewMonitorServer()

	if server == nil {
		t.Fatal("NewMonitorServer should return non-nil server")
	}
	if server.running == nil {
		t.Error("NewMonitorServer should initialize running mutex")
	}
	if server.srv == nil {
		t.Error("NewMonitorServer should initialize HTTP server")
	}
	if server.router == nil {
		t.Error("NewMonitorServer should initialize the router")
	}
}

func TestMonitorServer_AddHandler(t *testing.T) {
	server := NewMonitorServer()

	server.AddHandler("/zone/{zone}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("zone " + mux.Vars(r)["zone"])) //nolint:errcheck // test helper
	}, http.MethodPost)

	req := httptest.NewRequest(http.MethodPost, "/zone/kitchen", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "zone kitchen" {
		t.Errorf("Expected 'zone kitchen', got '%s'", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/zone/kitchen", nil)
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405 for GET, got %d", w.Code)
	}
}

func TestMonitorServer_AddRawHandler(t *testing.T) {
	server := NewMonitorServer()

	server.AddRawHandler("/raw", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("raw handler response")) //nolint:errcheck // test helper
	}))

	req := httptest.NewRequest("GET", "/raw", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
}

func TestMonitorServer_Integration(t *testing.T) {
	testPort := 8899
	Config.Set("details_port", testPort)
	server := NewMonitorServer()

	server.AddHandler("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy")) //nolint:errcheck // test helper
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if err := server.Start(); err == nil {
		t.Error("Start() should return error when already running")
	}

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", testPort))
	if err != nil {
		t.Logf("Expected error connecting to test server: %v", err)
		return
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	server.Restart()
	time.Sleep(200 * time.Millisecond)

	resp2, err := http.Get(fmt.Sprintf("http://localhost:%d/health", testPort))
	if err != nil {
		t.Logf("Expected error after restart: %v", err)
		return
	}
	defer func() { _ = resp2.Body.Close() }() //nolint:errcheck // test cleanup

	if resp2.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 after restart, got %d", resp2.StatusCode)
	}
}
