/*
Package storage provides the pluggable event store abstraction for TinyBeacon.

# Storage Interface

TinyBeacon keeps two append-only event streams, page views and downloads,
and answers a fixed set of aggregate queries over them. Backends:
  - sqlite: SQLite in WAL mode, the default and production backend
  - badger: BadgerDB (LSM tree) with time-ordered keys
  - memory: In-memory storage for testing and ephemeral runs

All backends implement the Storage interface, which is composed of:

	type Writer interface {
	    InsertPageView(ctx, analytics.PageView) (analytics.PageView, error)
	    InsertDownload(ctx, analytics.Download) (analytics.Download, error)
	}

	type Querier interface {
	    Overview, PageviewsByDay, UniqueVisitorsByDay, TopPages,
	    TopReferrers, BrowserBreakdown, OSBreakdown, DownloadStats,
	    RealtimeActiveVisitors
	}

	type Scanner interface {
	    ScanPageViews, ScanDownloads
	}

HTTP handlers depend on the narrow interface they need (ingest on Writer,
stats on Querier, export on Scanner).

# Append-only

No backend exposes an update or delete. The store assigns the surrogate id
and the created_at timestamp (from its analytics.Clock) on insert; client
supplied values for either are ignored. Retention is out of scope.

# Serialization

Every backend guards its handle with a single mutex that is held for the
whole operation, so operations are totally ordered by lock acquisition and
an insert is durable before it returns. A context that is already done
fails the call before the lock is taken; once statements are running they
are not aborted by the caller's cancellation.

# Errors

Per-operation failures are returned as *OpError, which matches ErrStorage:

	stats, err := store.Overview(ctx, iv)
	if errors.Is(err, storage.ErrStorage) {
	    // log it, answer 500, never leak the cause
	}

No backend returns partial results.

# Usage Example

	store, err := sqlite.Open("./tinybeacon.db")
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	_, err = store.InsertPageView(ctx, analytics.PageView{
	    Domain:    "example.com",
	    Path:      "/",
	    VisitorID: "v1",
	})

	now := time.Now()
	iv := analytics.NewInterval(now.Add(-24*time.Hour), now.Add(time.Minute))
	overview, err := store.Overview(ctx, iv)
	pages, err := store.TopPages(ctx, iv, 10)

# See Also

  - sqlite.Open() for the SQLite event store
  - badger.New() for persistent BadgerDB storage
  - memory.New() for in-memory storage
*/
package storage
