package sdk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/sdk/transport"
)

type recordingTransport struct {
	mu     sync.Mutex
	events []transport.Event
}

func (r *recordingTransport) Send(_ context.Context, events []transport.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingTransport) sent() []transport.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Event(nil), r.events...)
}

func TestClientCreation(t *testing.T) {
	client, err := New(ClientConfig{})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if client.config.Endpoint != DefaultEndpoint {
		t.Errorf("Endpoint = %q, want %q", client.config.Endpoint, DefaultEndpoint)
	}
	if client.config.FlushEvery != 5*time.Second {
		t.Errorf("FlushEvery = %v, want 5s", client.config.FlushEvery)
	}
}

func TestClientInvalidEndpoint(t *testing.T) {
	if _, err := New(ClientConfig{Endpoint: "not a url"}); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
}

func TestClientStartStop(t *testing.T) {
	client := newClient(ClientConfig{FlushEvery: time.Second}, &recordingTransport{})

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}
	if err := client.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if err := client.Stop(); err != nil {
		t.Fatalf("Failed to stop client: %v", err)
	}
	if err := client.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

func TestClientTrackBeforeStart(t *testing.T) {
	client := newClient(ClientConfig{}, &recordingTransport{})

	err := client.TrackPageView(analytics.PageView{Domain: "example.com", Path: "/"})
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("TrackPageView() error = %v, want ErrNotStarted", err)
	}
}

func TestClientTrackDeliversOnStop(t *testing.T) {
	rec := &recordingTransport{}
	client := newClient(ClientConfig{FlushEvery: time.Hour}, rec)
	if err := client.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := client.TrackPageView(analytics.PageView{Domain: "example.com", Path: "/docs"}); err != nil {
		t.Fatalf("TrackPageView() error = %v", err)
	}
	if err := client.TrackDownload(analytics.Download{AppName: "app", Version: "1.0.0"}); err != nil {
		t.Fatalf("TrackDownload() error = %v", err)
	}
	if err := client.Stop(); err != nil {
		t.Fatal(err)
	}

	sent := rec.sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d events, want 2", len(sent))
	}
	if sent[0].Kind != analytics.KindPageView || sent[0].PageView.Path != "/docs" {
		t.Errorf("unexpected first event: %+v", sent[0])
	}
	if sent[1].Kind != analytics.KindDownload || sent[1].Download.AppName != "app" {
		t.Errorf("unexpected second event: %+v", sent[1])
	}

	if err := client.TrackPageView(analytics.PageView{}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("TrackPageView() after Stop error = %v, want ErrNotStarted", err)
	}
}

func TestClientTrackDownloadRequiresApp(t *testing.T) {
	client := newClient(ClientConfig{}, &recordingTransport{})
	if err := client.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	if err := client.TrackDownload(analytics.Download{Version: "1.0.0"}); !errors.Is(err, ErrMissingAppName) {
		t.Errorf("TrackDownload() error = %v, want ErrMissingAppName", err)
	}
}
