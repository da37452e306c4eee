package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	simulatedPaths = []string{"/", "/", "/", "/docs", "/docs", "/pricing", "/blog/1", "/blog/2", "/download", "/download/linux", "/download/macos", "/download/windows"}

	simulatedAgents = []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 Edg/124.0",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Mobile Safari/537.36",
	}

	simulatedReferrers = []string{"", "", "https://news.ycombinator.com/", "https://www.google.com/", "https://github.com/"}
)

// runTrafficSimulator browses the demo site as a rotating cast of visitors
// until ctx is done.
func runTrafficSimulator(ctx context.Context, siteURL string, log logrus.FieldLogger) {
	// Give the server a moment to start
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return
	}

	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	log.Info("Traffic simulator started")
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			log.Info("Traffic simulator stopped")
			return
		case <-ticker.C:
			visitor := rand.IntN(40)
			path := simulatedPaths[rand.IntN(len(simulatedPaths))]
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, siteURL+path, nil)
			if err != nil {
				continue
			}
			req.Header.Set("User-Agent", simulatedAgents[visitor%len(simulatedAgents)])
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", visitor+1))
			if ref := simulatedReferrers[rand.IntN(len(simulatedReferrers))]; ref != "" {
				req.Header.Set("Referer", ref)
			}

			resp, err := client.Do(req)
			if err != nil {
				log.WithError(err).WithField("path", path).Debug("Simulated request failed")
				continue
			}
			resp.Body.Close()
			log.WithFields(logrus.Fields{"n": n, "path": path, "status": resp.StatusCode}).Debug("Simulated visit")
		}
	}
}
