package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestReferenceFrom(t *testing.T) {
	if got := referenceFrom("", "https://school.example/pay/return?external_reference=ref-123&status=approved"); got != "ref-123" {
		t.Fatalf("unexpected reference %q", got)
	}
	if got := referenceFrom(" ref-9 ", "https://school.example/pay/return?external_reference=ref-123"); got != "ref-9" {
		t.Fatalf("explicit ref should win, got %q", got)
	}
	if got := referenceFrom("", "https://school.example/pay/return"); got != "" {
		t.Fatalf("expected empty reference, got %q", got)
	}
}

func TestRunRendersConfirmedEnrollment(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"success":true,"data":{"status":"pending","payment":{"status":"pending"}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"status":"completed","payment":{"status":"completed"},"enrollment":{"course_name":"Curso X","plan_type":"monthly","price_snapshot":"150000.00","currency":"COP","start_date":"2026-03-14T00:00:00Z","end_date":"2026-04-14T00:00:00Z"}}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	code := run(context.Background(), &out, runArgs{Reference: "ref-123", APIURL: srv.URL, Token: "tok", MaxAttempts: 5, Delay: time.Millisecond})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out.String())
	}
	if !strings.Contains(out.String(), "Curso X") || !strings.Contains(out.String(), "150000.00 COP") {
		t.Fatalf("unexpected output %s", out.String())
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 queries, got %d", calls.Load())
	}
}

func TestRunMissingReference(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), &out, runArgs{APIURL: "http://localhost:1", Token: "tok", Delay: time.Millisecond})
	if code != 2 || !strings.Contains(out.String(), "no payment reference") {
		t.Fatalf("unexpected result %d %s", code, out.String())
	}
}

func TestRunInterruptibleReleasesSignalHandler(t *testing.T) {
	// the first Notify starts the runtime's signal loop for good
	warm := make(chan os.Signal, 1)
	signal.Notify(warm, os.Interrupt)
	signal.Stop(warm)
	before := runtime.NumGoroutine()

	var out bytes.Buffer
	code := runInterruptible(&out, runArgs{APIURL: "http://localhost:1", Token: "tok", Delay: time.Millisecond})
	if code != 2 {
		t.Fatalf("expected exit 2, got %d: %s", code, out.String())
	}

	// the NotifyContext watcher exits once stop has run
	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("signal watcher still running: %d goroutines, started with %d", runtime.NumGoroutine(), before)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunServerErrorFallsBackToGenericMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var out bytes.Buffer
	code := run(context.Background(), &out, runArgs{Reference: "ref", APIURL: srv.URL, Token: "tok", Delay: time.Millisecond})
	if code != 1 || !strings.Contains(out.String(), "unable to verify payment status") {
		t.Fatalf("unexpected result %d %s", code, out.String())
	}
}
