// Package export writes raw beacon events out of the store.
//
// # HTTP API
//
// Export endpoint: GET /api/export
// Query parameters:
//   - kind: "pageviews" or "downloads" (default: pageviews)
//   - format: "json" or "csv" (default: json)
//   - from, to: RFC 3339 or YYYY-MM-DD, half-open [from, to) (default: last 24 hours)
//
// Example:
//
//	curl "http://localhost:3000/api/export?kind=downloads&format=csv&from=2025-03-01" \
//	  -o downloads.csv
//
// # Usage Limits
//
//   - Maximum export time range: 31 days
//   - Default export window: 24 hours
//
// There is no import: ids and created_at are assigned by the store, so
// exported events cannot be replayed faithfully.
//
// # Data Format
//
// The JSON export is a metadata header followed by events in insertion
// order:
//
//	{
//	  "metadata": {
//	    "exported_at": "2025-03-10T12:00:00Z",
//	    "kind": "pageview",
//	    "from": "2025-03-09T12:00:00Z",
//	    "to": "2025-03-10T12:00:01Z",
//	    "version": "1.0"
//	  },
//	  "events": [
//	    {
//	      "id": 1,
//	      "domain": "example.com",
//	      "path": "/",
//	      "referrer": "",
//	      "browser": "Firefox",
//	      "os": "Linux",
//	      "screen": "1920x1080",
//	      "visitor_id": "3f2a9c",
//	      "created_at": "2025-03-10T11:59:30Z"
//	    }
//	  ]
//	}
//
// CSV exports carry one header row whose columns depend on kind.
//
// Events are read from the store in full before anything is sent, so a
// slow client never holds the store lock. The write deadline is
// ExportTimeout rather than the server-wide WriteTimeout.
//
// # Errors
//
// A storage failure is answered with a 500. A failure after the first 32KB
// reach the client aborts the connection, so a truncated export is never
// mistaken for a complete one.
package export
