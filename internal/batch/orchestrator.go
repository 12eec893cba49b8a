package batch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// ItemResult is the outcome of processing one item.
type ItemResult struct {
	Item    Item
	Success bool
	Skipped bool
	Bytes   int64
	Elapsed time.Duration
	Reason  string

	// Category is the processor's failure classification, empty on
	// success and for failures with no classification (panics).
	Category string
}

// FailedItem pairs an episode number with why it failed.
type FailedItem struct {
	Index    int
	Reason   string
	Category string
}

// Report aggregates a whole run.
type Report struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Bytes     int64
	Elapsed   time.Duration
	Failures  []FailedItem
}

// Processor handles one item end to end.
type Processor interface {
	Process(ctx context.Context, item Item) ItemResult
}

// Observer receives progress callbacks. Implementations must be safe for
// concurrent use when Workers > 1.
type Observer interface {
	ItemStarted(item Item, position, total int)
	ItemFinished(res ItemResult, position, total int)
	RunFinished(report Report)
}

// NopObserver discards all callbacks.
type NopObserver struct{}

func (NopObserver) ItemStarted(Item, int, int)        {}
func (NopObserver) ItemFinished(ItemResult, int, int) {}
func (NopObserver) RunFinished(Report)                {}

// Orchestrator runs items through a processor.
type Orchestrator struct {
	Processor Processor
	Observer  Observer

	// Workers above one enables the pool. One runs sequentially with
	// Delay between items.
	Workers int

	// Delay between sequential items, a politeness pause toward the
	// origin. Ignored when Workers > 1.
	Delay time.Duration
}

// Run processes all items and returns the aggregate report. Cancellation
// stops dispatching new items; items already in flight finish and are
// counted. The report is complete even on early exit.
func (o *Orchestrator) Run(ctx context.Context, items []Item) Report {
	start := time.Now()
	obs := o.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	var results []ItemResult
	if o.Workers > 1 {
		results = o.runPool(ctx, items, obs)
	} else {
		results = o.runSequential(ctx, items, obs)
	}

	report := Report{Total: len(items), Elapsed: time.Since(start)}
	for _, res := range results {
		switch {
		case res.Skipped:
			report.Skipped++
		case res.Success:
			report.Succeeded++
			report.Bytes += res.Bytes
		default:
			report.Failed++
			report.Failures = append(report.Failures, FailedItem{
				Index:    res.Item.Index,
				Reason:   res.Reason,
				Category: res.Category,
			})
		}
	}
	obs.RunFinished(report)
	return report
}

func (o *Orchestrator) runSequential(ctx context.Context, items []Item, obs Observer) []ItemResult {
	results := make([]ItemResult, 0, len(items))
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && o.Delay > 0 {
			if !sleepCtx(ctx, o.Delay) {
				break
			}
		}
		results = append(results, o.processOne(ctx, item, i+1, len(items), obs))
	}
	return results
}

func (o *Orchestrator) runPool(ctx context.Context, items []Item, obs Observer) []ItemResult {
	tasks := make(chan int)
	results := make([]ItemResult, len(items))
	done := make([]bool, len(items))
	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := o.Workers
	if workers > len(items) {
		workers = len(items)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				res := o.processOne(ctx, items[i], i+1, len(items), obs)
				mu.Lock()
				results[i] = res
				done[i] = true
				mu.Unlock()
			}
		}()
	}

dispatch:
	for i := range items {
		select {
		case tasks <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(tasks)
	wg.Wait()

	completed := make([]ItemResult, 0, len(items))
	for i := range results {
		if done[i] {
			completed = append(completed, results[i])
		}
	}
	return completed
}

// processOne wraps a single processor call with the skip check, progress
// callbacks, and panic containment so one bad item cannot take down the
// run.
func (o *Orchestrator) processOne(ctx context.Context, item Item, position, total int, obs Observer) (res ItemResult) {
	if fi, err := os.Stat(item.DestPath); err == nil && fi.Size() > 0 {
		res = ItemResult{Item: item, Skipped: true, Reason: "already downloaded"}
		obs.ItemFinished(res, position, total)
		return res
	}

	obs.ItemStarted(item, position, total)
	defer func() {
		if r := recover(); r != nil {
			res = ItemResult{Item: item, Reason: fmt.Sprintf("panic: %v", r)}
		}
		obs.ItemFinished(res, position, total)
	}()

	itemStart := time.Now()
	res = o.Processor.Process(ctx, item)
	res.Item = item
	if res.Elapsed == 0 {
		res.Elapsed = time.Since(itemStart)
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
