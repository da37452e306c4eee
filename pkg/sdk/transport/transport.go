package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/tinybeacon/pkg/analytics"
)

// Event is one queued beacon. Exactly one of PageView and Download is set,
// matching Kind.
type Event struct {
	Kind     analytics.EventKind
	PageView *analytics.PageView
	Download *analytics.Download
}

// PageViewEvent wraps pv for sending.
func PageViewEvent(pv analytics.PageView) Event {
	return Event{Kind: analytics.KindPageView, PageView: &pv}
}

// DownloadEvent wraps d for sending.
func DownloadEvent(d analytics.Download) Event {
	return Event{Kind: analytics.KindDownload, Download: &d}
}

// Transport defines the interface for delivering events
type Transport interface {
	Send(ctx context.Context, events []Event) error
}

// StatusError is returned when the collector answers with a non-2xx status.
type StatusError struct {
	Kind       analytics.EventKind
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s rejected with status %d", e.Kind, e.StatusCode)
}

// Retryable reports whether resending the same event could succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusInsufficientStorage ||
		e.StatusCode >= 500
}

// pageViewPayload mirrors the /api/event body. id and created_at are
// assigned by the collector and never sent.
type pageViewPayload struct {
	Domain    string `json:"domain"`
	Path      string `json:"path"`
	Referrer  string `json:"referrer,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	Screen    string `json:"screen,omitempty"`
	VisitorID string `json:"visitor_id,omitempty"`
}

type downloadPayload struct {
	AppName  string `json:"app_name"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

// HTTPTransport implements Transport by posting each event to the
// collector's beacon endpoints.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates a new HTTP transport for the collector at baseURL
// (e.g. "http://127.0.0.1:3000").
func NewHTTP(baseURL string) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: missing host", baseURL)
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Send posts every event in order. A failed event does not stop the rest;
// all failures are returned joined.
func (t *HTTPTransport) Send(ctx context.Context, events []Event) error {
	var errs []error
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := t.send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *HTTPTransport) send(ctx context.Context, ev Event) error {
	path, body, err := encode(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", ev.Kind, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Kind: ev.Kind, StatusCode: resp.StatusCode}
	}
	return nil
}

func encode(ev Event) (string, []byte, error) {
	var (
		path    string
		payload any
	)
	switch {
	case ev.Kind == analytics.KindPageView && ev.PageView != nil:
		pv := ev.PageView
		path = "/api/event"
		payload = pageViewPayload{
			Domain:    pv.Domain,
			Path:      pv.Path,
			Referrer:  pv.Referrer,
			Browser:   pv.Browser,
			OS:        pv.OS,
			Screen:    pv.Screen,
			VisitorID: pv.VisitorID,
		}
	case ev.Kind == analytics.KindDownload && ev.Download != nil:
		d := ev.Download
		path = "/api/download"
		payload = downloadPayload{
			AppName:  d.AppName,
			Version:  d.Version,
			Platform: d.Platform,
			Referrer: d.Referrer,
		}
	default:
		return "", nil, fmt.Errorf("malformed event of kind %q", ev.Kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal %s: %w", ev.Kind, err)
	}
	return path, body, nil
}
