/*
Package sdk provides the TinyBeacon client library for reporting page views
and downloads from Go programs.

The browser tracker (tracker.js) covers static sites. Use this package when
pages are rendered by a Go server, or to count downloads of artifacts your
server hands out.

# Quick Start

	package main

	import (
	    "context"
	    "log"
	    "net/http"

	    "github.com/nicktill/tinybeacon/pkg/sdk"
	    "github.com/nicktill/tinybeacon/pkg/sdk/httpx"
	)

	func main() {
	    client, err := sdk.New(sdk.ClientConfig{
	        Endpoint: "http://127.0.0.1:3000",
	    })
	    if err != nil {
	        log.Fatal(err)
	    }

	    client.Start(context.Background())
	    defer client.Stop()

	    mux := http.NewServeMux()
	    mux.HandleFunc("/", homeHandler)
	    handler := httpx.Middleware(client, httpx.Options{Domain: "example.com"})(mux)

	    http.ListenAndServe(":8000", handler)
	}

The middleware records one page view per successful GET. Browser and OS
come from the User-Agent header; the visitor id is a salted hash of client
address, user agent and UTC day, so it rotates at midnight and no cookie is
set. Bots, prefetches and requests carrying "DNT: 1" are skipped.

# Downloads

	http.HandleFunc("/dl/app-linux.tar.gz", func(w http.ResponseWriter, r *http.Request) {
	    _ = client.TrackDownload(analytics.Download{
	        AppName:  "app",
	        Version:  "1.2.0",
	        Platform: "linux",
	        Referrer: r.Referer(),
	    })
	    http.ServeFile(w, r, "dist/app-linux.tar.gz")
	})

TrackDownload returns ErrMissingAppName when AppName is empty, since the
collector would reject it.

# Batching & Flushing

Track calls never block on the network. Events are queued and delivered:
  - every FlushEvery (default 5s)
  - as soon as MaxBatchSize events (default 100) are queued
  - on Flush and Stop

At most one background delivery runs at a time. While the collector is
unreachable the queue is capped at ten batches and the oldest events are
dropped first.

# Error Handling

Track methods only fail on local problems (ErrNotStarted, ErrMissingAppName).
Delivery failures are reported to ClientConfig.OnError:

	client, _ := sdk.New(sdk.ClientConfig{
	    OnError: func(err error) {
	        var se *transport.StatusError
	        if errors.As(err, &se) && !se.Retryable() {
	            log.Printf("beacon rejected: %v", err)
	        }
	    },
	})

Flush and Stop return the delivery error directly.

# See Also

  - transport.HTTPTransport for the wire format
  - httpx.VisitorID for the visitor fingerprint
*/
package sdk
