// Command example is a small demo site instrumented with the TinyBeacon SDK.
// Page views are recorded server side by the middleware and downloads by
// the /download handler. A traffic simulator keeps the dashboard busy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/sdk"
	"github.com/nicktill/tinybeacon/pkg/sdk/httpx"
)

// Artifacts offered by the demo download page.
var releases = map[string]analytics.Download{
	"linux":   {AppName: "beacon-cli", Version: "1.2.0", Platform: "linux"},
	"macos":   {AppName: "beacon-cli", Version: "1.2.0", Platform: "macos"},
	"windows": {AppName: "beacon-cli", Version: "1.2.0", Platform: "windows"},
}

func main() {
	collector := flag.String("collector", sdk.DefaultEndpoint, "TinyBeacon collector base URL")
	addr := flag.String("addr", "127.0.0.1:3001", "demo site listen address")
	simulate := flag.Bool("simulate", true, "generate synthetic traffic")
	flag.Parse()

	log := logrus.New()

	client, err := sdk.New(sdk.ClientConfig{
		Endpoint:   *collector,
		FlushEvery: 2 * time.Second,
		OnError: func(err error) {
			log.WithError(err).Warn("Failed to deliver beacons")
		},
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create TinyBeacon client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start TinyBeacon client")
	}
	defer func() {
		if err := client.Stop(); err != nil {
			log.WithError(err).Warn("Failed to flush beacons on exit")
		}
	}()

	site := newSite(client, log)
	server := &http.Server{
		Addr:              *addr,
		Handler:           httpx.Middleware(client, httpx.Options{Domain: "demo.local", TrustProxy: true})(site),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", *addr).Info("Demo site running")
		log.WithField("collector", *collector).Info("Open the collector dashboard to watch the numbers move")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Demo site failed")
		}
	}()

	if *simulate {
		go runTrafficSimulator(ctx, "http://"+*addr, log)
	}

	<-ctx.Done()
	log.Info("Shutting down demo site...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Demo site forced to shut down")
	}
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>{{.Title}} · Beacon CLI</title></head>
<body>
  <nav><a href="/">Home</a> · <a href="/docs">Docs</a> · <a href="/pricing">Pricing</a> · <a href="/blog/1">Blog</a> · <a href="/download">Download</a></nav>
  <h1>{{.Title}}</h1>
  <p>{{.Body}}</p>
  {{if .Releases}}<ul>{{range $platform, $d := .Releases}}
    <li><a href="/download/{{$platform}}">{{$d.AppName}} {{$d.Version}} for {{$platform}}</a></li>{{end}}
  </ul>{{end}}
</body>
</html>
`))

type page struct {
	Title    string
	Body     string
	Releases map[string]analytics.Download
}

func newSite(client *sdk.Client, log logrus.FieldLogger) http.Handler {
	mux := http.NewServeMux()

	static := func(title, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			render(w, log, page{Title: title, Body: body})
		}
	}
	mux.HandleFunc("GET /{$}", static("Home", "A command line tool that does one thing well."))
	mux.HandleFunc("GET /docs", static("Docs", "Install, configure, run."))
	mux.HandleFunc("GET /pricing", static("Pricing", "Free for everyone."))
	mux.HandleFunc("GET /blog/{id}", func(w http.ResponseWriter, r *http.Request) {
		render(w, log, page{Title: "Post " + r.PathValue("id"), Body: "Release notes and war stories."})
	})
	mux.HandleFunc("GET /download", func(w http.ResponseWriter, r *http.Request) {
		render(w, log, page{Title: "Download", Body: "Pick your platform.", Releases: releases})
	})
	mux.HandleFunc("GET /download/{platform}", func(w http.ResponseWriter, r *http.Request) {
		release, ok := releases[strings.ToLower(r.PathValue("platform"))]
		if !ok {
			http.NotFound(w, r)
			return
		}
		release.Referrer = r.Referer()
		if err := client.TrackDownload(release); err != nil {
			log.WithError(err).Warn("Failed to track download")
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-%s-%s.tar.gz",
			release.AppName, release.Version, release.Platform))
		fmt.Fprintf(w, "%s %s\n", release.AppName, release.Version)
	})
	return mux
}

func render(w http.ResponseWriter, log logrus.FieldLogger, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, p); err != nil {
		log.WithError(err).Warn("Failed to render page")
	}
}
