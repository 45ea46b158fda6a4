package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunBatches processes items in consecutive groups of at most width. Handlers
// within a group run concurrently; the next group starts only after every
// handler in the current group has settled. gap, if positive, is waited between
// groups (not before the first or after the last). A handler error or panic is
// logged per item and never aborts siblings or the batch. Returns the number of
// items whose handler failed.
func RunBatches[T any](ctx context.Context, items []T, width int, gap time.Duration, handler func(context.Context, T) error) int {
	if width < 1 {
		width = 1
	}
	failed := 0
	for start := 0; start < len(items); start += width {
		if ctx.Err() != nil {
			return failed
		}
		end := start + width
		if end > len(items) {
			end = len(items)
		}
		group := items[start:end]
		results := make(chan error, len(group))
		for i := range group {
			go func(item T) {
				results <- runOne(ctx, item, handler)
			}(group[i])
		}
		for range group {
			if err := <-results; err != nil {
				failed++
			}
		}
		if gap > 0 && end < len(items) {
			select {
			case <-ctx.Done():
				return failed
			case <-time.After(gap):
			}
		}
	}
	return failed
}

// runOne invokes the handler for a single item, converting panics into errors
// so one bad entity cannot take down a scan tick.
func runOne[T any](ctx context.Context, item T, handler func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("batch handler panicked", slog.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if err = handler(ctx, item); err != nil {
		slog.Warn("batch handler failed", slog.Any("err", err))
	}
	return err
}
