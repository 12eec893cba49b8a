package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeProcessor struct {
	mu        sync.Mutex
	processed []int
	fail      map[int]string
	cat       map[int]string
	block     chan struct{}
}

func (f *fakeProcessor) Process(ctx context.Context, item Item) ItemResult {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.processed = append(f.processed, item.Index)
	f.mu.Unlock()
	if reason, ok := f.fail[item.Index]; ok {
		return ItemResult{Reason: reason, Category: f.cat[item.Index]}
	}
	return ItemResult{Success: true, Bytes: 100}
}

func testItems(t *testing.T, n int) []Item {
	t.Helper()
	dir := t.TempDir()
	items := make([]Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, Item{
			Index:    i,
			URL:      fmt.Sprintf("https://v.example.test/show-%d", i),
			Title:    fmt.Sprintf("show E%02d", i),
			DestPath: filepath.Join(dir, fmt.Sprintf("show_e%02d.mp4", i)),
		})
	}
	return items
}

func TestRun_AllSucceed(t *testing.T) {
	proc := &fakeProcessor{}
	o := &Orchestrator{Processor: proc}

	report := o.Run(context.Background(), testItems(t, 4))
	if report.Total != 4 || report.Succeeded != 4 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Bytes != 400 {
		t.Fatalf("bytes not aggregated: %d", report.Bytes)
	}
}

func TestRun_PartialFailureAccounting(t *testing.T) {
	proc := &fakeProcessor{fail: map[int]string{
		2: "no stream found",
		4: "no stream found",
	}}
	o := &Orchestrator{Processor: proc}

	report := o.Run(context.Background(), testItems(t, 5))
	if report.Succeeded != 3 || report.Failed != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("expected 2 failure records, got %d", len(report.Failures))
	}
	got := map[int]string{}
	for _, f := range report.Failures {
		got[f.Index] = f.Reason
	}
	if got[2] != "no stream found" || got[4] != "no stream found" {
		t.Fatalf("failure records wrong: %v", got)
	}
}

func TestRun_FailureCategoriesRetained(t *testing.T) {
	proc := &fakeProcessor{
		fail: map[int]string{2: "challenge: blocked", 3: "not-found: gone"},
		cat:  map[int]string{2: "challenge", 3: "not-found"},
	}
	o := &Orchestrator{Processor: proc}

	report := o.Run(context.Background(), testItems(t, 3))
	got := map[int]string{}
	for _, f := range report.Failures {
		got[f.Index] = f.Category
	}
	if got[2] != "challenge" || got[3] != "not-found" {
		t.Fatalf("categories lost in aggregation: %v", got)
	}
}

func TestRun_SkipsExistingFiles(t *testing.T) {
	items := testItems(t, 3)
	if err := os.WriteFile(items[1].DestPath, []byte("previous run"), 0o644); err != nil {
		t.Fatal(err)
	}

	proc := &fakeProcessor{}
	o := &Orchestrator{Processor: proc}
	report := o.Run(context.Background(), items)

	if report.Skipped != 1 || report.Succeeded != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, idx := range proc.processed {
		if idx == 2 {
			t.Fatal("existing item reached the processor")
		}
	}
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	items := testItems(t, 3)
	for _, item := range items {
		if err := os.WriteFile(item.DestPath, []byte("done"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	proc := &fakeProcessor{}
	report := (&Orchestrator{Processor: proc}).Run(context.Background(), items)
	if report.Skipped != 3 {
		t.Fatalf("expected all skipped, got %+v", report)
	}
	if len(proc.processed) != 0 {
		t.Fatalf("no-op run still processed %v", proc.processed)
	}
}

func TestRun_PoolProcessesEverything(t *testing.T) {
	proc := &fakeProcessor{}
	o := &Orchestrator{Processor: proc, Workers: 3}

	report := o.Run(context.Background(), testItems(t, 10))
	if report.Succeeded != 10 {
		t.Fatalf("unexpected report: %+v", report)
	}
	seen := map[int]bool{}
	for _, idx := range proc.processed {
		if seen[idx] {
			t.Fatalf("item %d processed twice", idx)
		}
		seen[idx] = true
	}
}

func TestRun_CancellationStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	proc := &fakeProcessor{block: block}
	o := &Orchestrator{Processor: proc, Workers: 2}

	done := make(chan Report, 1)
	go func() { done <- o.Run(ctx, testItems(t, 8)) }()

	// Let two items start, then cancel and release them.
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(block)

	report := <-done
	if report.Total != 8 {
		t.Fatalf("total must reflect the full range: %+v", report)
	}
	finished := report.Succeeded + report.Failed + report.Skipped
	if finished >= 8 {
		t.Fatalf("cancellation did not stop dispatch, %d finished", finished)
	}
	if report.Succeeded == 0 {
		t.Fatal("in-flight items should finish and be counted")
	}
}

func TestRun_PanicContained(t *testing.T) {
	proc := &panicProcessor{panicOn: 2}
	o := &Orchestrator{Processor: proc}

	report := o.Run(context.Background(), testItems(t, 3))
	if report.Succeeded != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].Index != 2 {
		t.Fatalf("panic not attributed to item 2: %+v", report.Failures)
	}
}

type panicProcessor struct {
	panicOn int
}

func (p *panicProcessor) Process(ctx context.Context, item Item) ItemResult {
	if item.Index == p.panicOn {
		panic("boom")
	}
	return ItemResult{Success: true}
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []int
	finished []int
	reports  []Report
}

func (r *recordingObserver) ItemStarted(item Item, position, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, item.Index)
}

func (r *recordingObserver) ItemFinished(res ItemResult, position, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, res.Item.Index)
}

func (r *recordingObserver) RunFinished(report Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func TestRun_ObserverCallbacks(t *testing.T) {
	obs := &recordingObserver{}
	o := &Orchestrator{Processor: &fakeProcessor{}, Observer: obs}

	o.Run(context.Background(), testItems(t, 3))
	if len(obs.started) != 3 || len(obs.finished) != 3 {
		t.Fatalf("callbacks missing: started=%v finished=%v", obs.started, obs.finished)
	}
	if len(obs.reports) != 1 {
		t.Fatalf("expected one run report, got %d", len(obs.reports))
	}
}
