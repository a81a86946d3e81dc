package ledger

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"fibudget/internal/core"
)

// Poll turns a LineItemReader into a Subscriber-style stream by re-reading the
// selection every interval. A snapshot is emitted first and then only when
// the items differ from the last one delivered. Read errors are logged and
// the poll continues.
func Poll(ctx context.Context, r LineItemReader, prefix, version string, interval time.Duration) <-chan Snapshot {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	prefix = core.CleanPath(prefix)
	out := make(chan Snapshot, 1)

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last []core.LineItem
		first := true
		for {
			items, err := r.ReadLineItems(ctx, prefix, version)
			if err == nil {
				core.SortLineItems(items)
			}
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				slog.WarnContext(ctx, "Ledger poll failed", "path", prefix, "version", version, "error", err)
			case first || !reflect.DeepEqual(items, last):
				snap := Snapshot{Path: prefix, Version: version, Items: items, TakenAt: time.Now()}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
				last, first = items, false
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}
