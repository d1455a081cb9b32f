package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/arxiv-harvester/internal/testutil"
	"github.com/Sternrassler/arxiv-harvester/pkg/checkpoint"
	"github.com/Sternrassler/arxiv-harvester/pkg/client"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/Sternrassler/arxiv-harvester/pkg/source"
	"github.com/rs/zerolog"
)

var (
	day         = time.Date(2024, 11, 25, 0, 0, 0, 0, time.UTC)
	csAI        = partition.ForDate("fake", "cs.AI", day)
	clockOrigin = time.Date(2024, 11, 26, 6, 0, 0, 0, time.UTC)
)

type loopFixture struct {
	loop  *Loop
	store *checkpoint.FileStore
	clock *testutil.FakeClock
	src   *testutil.FakeSource
}

func newFixture(t *testing.T, src *testutil.FakeSource, policy RetryPolicy) *loopFixture {
	t.Helper()

	store, err := checkpoint.NewFileStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	clock := testutil.NewFakeClock(clockOrigin)

	loop, err := NewLoop(src, store, policy, WithClock(clock))
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	return &loopFixture{loop: loop, store: store, clock: clock, src: src}
}

// growing serves the first n(attempt) records of all, reporting total.
func growing(all []record.Record, total int, n func(attempt int) int) *testutil.FakeSource {
	src := testutil.NewFakeSource(testutil.FakeAttempt{})
	src.Script = func(attempt int) testutil.FakeAttempt {
		k := n(attempt)
		if k > len(all) {
			k = len(all)
		}
		return testutil.FakeAttempt{Records: all[:k], Total: total}
	}
	return src
}

func TestRun_ReachesReportedTotal(t *testing.T) {
	all := testutil.MakeRecords("2411", 237)
	src := growing(all, 237, func(attempt int) int { return attempt * 100 })
	f := newFixture(t, src, DefaultRetryPolicy())

	res, err := f.loop.Run(context.Background(), csAI, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if !res.IsComplete || res.Status != StatusComplete {
		t.Errorf("IsComplete = %v, Status = %s", res.IsComplete, res.Status)
	}
	if res.Completeness() != "100%" {
		t.Errorf("Completeness() = %q, want 100%%", res.Completeness())
	}
	if res.Fetched() != 237 {
		t.Errorf("Fetched() = %d, want 237", res.Fetched())
	}
	if f.store.Exists(csAI.Key()) {
		t.Error("checkpoint should be cleared after completion")
	}
	assertUnique(t, res.Records)
}

func TestRun_StallsBelowMisreportedTotal(t *testing.T) {
	all := testutil.MakeRecords("2411", 150)
	src := growing(all, 237, func(int) int { return 150 })
	f := newFixture(t, src, DefaultRetryPolicy())

	res, err := f.loop.Run(context.Background(), csAI, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.IsComplete {
		t.Error("known total unmet must not be complete")
	}
	if res.Status != StatusStalled {
		t.Errorf("Status = %s, want stalled", res.Status)
	}
	// one productive attempt, then three verification passes
	if res.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", res.Attempts)
	}
	if got := res.Completeness(); got != "63.3%" {
		t.Errorf("Completeness() = %q, want 63.3%%", got)
	}

	cp := f.store.Load(csAI.Key())
	if cp.Len() != 150 {
		t.Errorf("retained checkpoint has %d ids, want 150", cp.Len())
	}
}

func TestRun_StallWithKnownTotalFifty(t *testing.T) {
	all := testutil.MakeRecords("2411", 20)
	src := growing(all, 50, func(int) int { return 20 })
	f := newFixture(t, src, DefaultRetryPolicy())

	res, err := f.loop.Run(context.Background(), csAI, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.IsComplete {
		t.Error("20/50 must not be complete")
	}
	if res.CompletenessFraction == nil || *res.CompletenessFraction != 0.4 {
		t.Errorf("CompletenessFraction = %v, want 0.4", res.CompletenessFraction)
	}
}

func TestRun_UnknownTotalCompletesOnStall(t *testing.T) {
	all := testutil.MakeRecords("pm", 12)
	src := growing(all, source.UnknownTotal, func(int) int { return 12 })
	f := newFixture(t, src, DefaultRetryPolicy())

	res, err := f.loop.Run(context.Background(), csAI, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.IsComplete || res.Status != StatusComplete {
		t.Errorf("unknown total should be accepted on stall, got %s", res.Status)
	}
	if res.Completeness() != "unknown" {
		t.Errorf("Completeness() = %q, want unknown", res.Completeness())
	}
	if res.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", res.Attempts)
	}
	if f.store.Exists(csAI.Key()) {
		t.Error("checkpoint should be cleared")
	}
}

func TestRun_IdempotentWhenCheckpointSatisfied(t *testing.T) {
	src := testutil.NewFakeSource(testutil.FakeAttempt{})
	f := newFixture(t, src, DefaultRetryPolicy())

	cp := checkpoint.New(csAI.Key())
	for _, rec := range testutil.MakeRecords("2411", 50) {
		cp.Add(rec)
	}
	cp.SetExpected(50)
	cp.Attempts = 2
	if err := f.store.Save(cp); err != nil {
		t.Fatal(err)
	}

	res, err := f.loop.Run(context.Background(), csAI, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if src.Calls() != 0 || res.Calls != 0 {
		t.Errorf("expected zero upstream calls, got %d (result says %d)", src.Calls(), res.Calls)
	}
	if !res.IsComplete || res.Attempts != 2 {
		t.Errorf("IsComplete = %v, Attempts = %d", res.IsComplete, res.Attempts)
	}
	for i, rec := range res.Records {
		if rec.ID != cp.FetchedIDs[i] {
			t.Fatalf("record set changed at %d: %s != %s", i, rec.ID, cp.FetchedIDs[i])
		}
	}
}

func TestRun_NoDuplicates(t *testing.T) {
	recs := testutil.MakeRecords("2411", 30)
	src := testutil.NewFakeSource(testutil.FakeAttempt{})
	src.PageSize = 7
	src.Script = func(attempt int) testutil.FakeAttempt {
		// every attempt re-serves earlier records and repeats some within the batch
		batch := append([]record.Record{}, recs[:10*attempt]...)
		batch = append(batch, recs[0], recs[1])
		return testutil.FakeAttempt{Records: batch, Total: 30}
	}
	f := newFixture(t, src, DefaultRetryPolicy())

	res, err := f.loop.Run(context.Background(), csAI, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.IsComplete || res.Fetched() != 30 {
		t.Errorf("IsComplete = %v, Fetched = %d", res.IsComplete, res.Fetched())
	}
	assertUnique(t, res.Records)
}

func TestRun_ResumeFetchesOnlyMissingIDs(t *testing.T) {
	all := testutil.MakeRecords("2411", 50)
	ids := make([]string, len(all))
	byID := make(map[string]record.Record, len(all))
	for i, rec := range all {
		ids[i] = rec.ID
		byID[rec.ID] = rec
	}
	p := partition.ForIDs("fake", "custom", ids)

	src := testutil.NewFakeSource(testutil.FakeAttempt{})
	src.ByID = byID
	f := newFixture(t, src, DefaultRetryPolicy())

	cp := checkpoint.New(p.Key())
	for _, rec := range all[:30] {
		cp.Add(rec)
	}
	cp.Attempts = 1
	if err := f.store.Save(cp); err != nil {
		t.Fatal(err)
	}

	res, err := f.loop.Run(context.Background(), p, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	requested := src.RequestedIDs()
	if len(requested) != 1 {
		t.Fatalf("expected one id fetch, got %d", len(requested))
	}
	if len(requested[0]) != 20 || requested[0][0] != all[30].ID {
		t.Errorf("requested %d ids starting at %v, want the 20 missing", len(requested[0]), requested[0])
	}
	if !res.IsComplete || res.Fetched() != 50 || res.Attempts != 2 {
		t.Errorf("IsComplete = %v, Fetched = %d, Attempts = %d", res.IsComplete, res.Fetched(), res.Attempts)
	}
	for i, rec := range res.Records {
		if rec.ID != ids[i] {
			t.Fatalf("id order not preserved at %d", i)
		}
	}
}

func TestRun_IDPartitionDedupsAndOrders(t *testing.T) {
	src := testutil.NewFakeSource(testutil.FakeAttempt{})
	src.ByID = map[string]record.Record{
		"a": {ID: "a"},
		"b": {ID: "b"},
	}
	p := partition.ForIDs("fake", "", []string{"b", "a", "a"})
	f := newFixture(t, src, DefaultRetryPolicy())

	res, err := f.loop.Run(context.Background(), p, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.IsComplete || res.Fetched() != 2 {
		t.Fatalf("IsComplete = %v, Fetched = %d", res.IsComplete, res.Fetched())
	}
	if res.Records[0].ID != "b" {
		t.Errorf("records not in requested order: %v", res.Records)
	}
	if *res.ExpectedTotal != 2 {
		t.Errorf("ExpectedTotal = %d, want 2 distinct ids", *res.ExpectedTotal)
	}
}

func TestRun_VersionedIDsMatchNormalizedRecords(t *testing.T) {
	src := testutil.NewFakeSource(testutil.FakeAttempt{})
	src.ByID = map[string]record.Record{
		"2411.01234": {ID: "2411.01234"},
		"2411.05678": {ID: "2411.05678"},
	}
	p := partition.ForIDs("fake", "", []string{"2411.01234v2", "arXiv:2411.05678v1"})
	f := newFixture(t, src, DefaultRetryPolicy())

	res, err := f.loop.Run(context.Background(), p, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.IsComplete || res.Fetched() != 2 || res.Attempts != 1 {
		t.Errorf("IsComplete = %v, Fetched = %d, Attempts = %d", res.IsComplete, res.Fetched(), res.Attempts)
	}
}

func TestRun_BackoffNeverExceedsCap(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:      10 * time.Second,
		Multiplier:     1.5,
		MaxDelay:       60 * time.Second,
		StallThreshold: 1000,
		MaxWait:        time.Hour,
	}
	src := growing(nil, 10, func(int) int { return 0 })
	f := newFixture(t, src, policy)

	res, err := f.loop.Run(context.Background(), csAI, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != StatusTimedOut || res.IsComplete {
		t.Errorf("Status = %s, IsComplete = %v", res.Status, res.IsComplete)
	}

	sleeps := f.clock.Sleeps()
	if len(sleeps) < 10 {
		t.Fatalf("expected many waits, got %d", len(sleeps))
	}
	if sleeps[0] != 15*time.Second {
		t.Errorf("first zero-progress wait = %s, want 15s", sleeps[0])
	}
	for i, d := range sleeps {
		if d > policy.MaxDelay {
			t.Errorf("sleep %d = %s exceeds cap %s", i, d, policy.MaxDelay)
		}
	}
	if sleeps[len(sleeps)-1] != policy.MaxDelay {
		t.Errorf("delay should saturate at the cap, last = %s", sleeps[len(sleeps)-1])
	}
	if !f.store.Exists(csAI.Key()) {
		t.Error("checkpoint must be kept after timeout")
	}
}

func TestRun_BackoffResetsOnProgress(t *testing.T) {
	all := testutil.MakeRecords("2411", 30)
	counts := []int{10, 10, 20, 30}
	src := growing(all, 30, func(attempt int) int { return counts[attempt-1] })
	f := newFixture(t, src, DefaultRetryPolicy())

	if _, err := f.loop.Run(context.Background(), csAI, 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []time.Duration{10 * time.Second, 15 * time.Second, 10 * time.Second}
	got := f.clock.Sleeps()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRun_SourceErrorsAreRetried(t *testing.T) {
	all := testutil.MakeRecords("2411", 40)
	boom := &client.SourceError{Source: "fake", Class: client.ErrorClassServer, Message: "503"}
	src := testutil.NewFakeSource(testutil.FakeAttempt{})
	src.Script = func(attempt int) testutil.FakeAttempt {
		if attempt <= 4 {
			return testutil.FakeAttempt{Err: boom}
		}
		return testutil.FakeAttempt{Records: all, Total: 40}
	}
	f := newFixture(t, src, DefaultRetryPolicy())

	res, err := f.loop.Run(context.Background(), csAI, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.IsComplete || res.Attempts != 5 {
		t.Errorf("errors must not end the loop: IsComplete = %v, Attempts = %d", res.IsComplete, res.Attempts)
	}

	sleeps := f.clock.Sleeps()
	if len(sleeps) != 4 || sleeps[1] != time.Duration(float64(15*time.Second)*1.5) {
		t.Errorf("errors should grow the backoff: %v", sleeps)
	}
}

func TestRun_PartialRecordsWithErrorAreMerged(t *testing.T) {
	all := testutil.MakeRecords("2411", 20)
	boom := errors.New("page 2 broke")
	src := testutil.NewFakeSource(testutil.FakeAttempt{})
	src.PageSize = 10
	src.Script = func(attempt int) testutil.FakeAttempt {
		if attempt == 1 {
			return testutil.FakeAttempt{Records: all, Total: 20, Err: boom, ErrOnPage: 2}
		}
		return testutil.FakeAttempt{Records: all, Total: 20}
	}
	f := newFixture(t, src, DefaultRetryPolicy())

	var atFirstWait int
	f.clock.OnSleep = func(time.Duration) {
		if atFirstWait == 0 {
			atFirstWait = f.store.Load(csAI.Key()).Len()
		}
	}

	res, err := f.loop.Run(context.Background(), csAI, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if atFirstWait != 10 {
		t.Errorf("checkpoint before first wait has %d records, want 10", atFirstWait)
	}
	if !res.IsComplete || res.Fetched() != 20 {
		t.Errorf("IsComplete = %v, Fetched = %d", res.IsComplete, res.Fetched())
	}
}

func TestRun_TotalDriftAdoptsLatest(t *testing.T) {
	all := testutil.MakeRecords("2411", 60)
	src := testutil.NewFakeSource(testutil.FakeAttempt{})
	src.Script = func(attempt int) testutil.FakeAttempt {
		if attempt == 1 {
			return testutil.FakeAttempt{Records: all[:50], Total: 100}
		}
		return testutil.FakeAttempt{Records: all, Total: 60}
	}
	f := newFixture(t, src, DefaultRetryPolicy())

	res, err := f.loop.Run(context.Background(), csAI, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.IsComplete || *res.ExpectedTotal != 60 || res.Attempts != 2 {
		t.Errorf("IsComplete = %v, ExpectedTotal = %d, Attempts = %d", res.IsComplete, *res.ExpectedTotal, res.Attempts)
	}
}

func TestRun_TimeoutThenResume(t *testing.T) {
	all := testutil.MakeRecords("2411", 40)
	available := 10
	src := growing(all, 40, func(int) int { return available })
	policy := DefaultRetryPolicy()
	policy.StallThreshold = 1000
	f := newFixture(t, src, policy)

	first, err := f.loop.Run(context.Background(), csAI, 2*time.Minute)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.Status != StatusTimedOut || first.Fetched() != 10 {
		t.Fatalf("first run: Status = %s, Fetched = %d", first.Status, first.Fetched())
	}

	available = 40
	second, err := f.loop.Run(context.Background(), csAI, 2*time.Minute)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !second.IsComplete || second.Fetched() != 40 {
		t.Errorf("second run: IsComplete = %v, Fetched = %d", second.IsComplete, second.Fetched())
	}
	if second.Attempts != first.Attempts+1 {
		t.Errorf("Attempts should be cumulative: first %d, second %d", first.Attempts, second.Attempts)
	}
}

func TestRun_Unsupported(t *testing.T) {
	src := testutil.NewFakeSource(testutil.FakeAttempt{})
	src.Unsupported = true
	f := newFixture(t, src, DefaultRetryPolicy())

	res, err := f.loop.Run(context.Background(), partition.ForIDs("fake", "", []string{"x"}), 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != StatusUnsupported || res.IsComplete {
		t.Errorf("Status = %s, IsComplete = %v", res.Status, res.IsComplete)
	}
	if len(f.clock.Sleeps()) != 0 {
		t.Error("unsupported partitions must not be retried")
	}
}

func TestRun_ContextCancelledDuringWait(t *testing.T) {
	all := testutil.MakeRecords("2411", 40)
	src := growing(all, 40, func(int) int { return 10 })
	f := newFixture(t, src, DefaultRetryPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	f.clock.OnSleep = func(time.Duration) { cancel() }

	res, err := f.loop.Run(ctx, csAI, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil || res.Status != StatusCancelled || res.Fetched() != 10 {
		t.Errorf("unexpected partial result: %+v", res)
	}
	if f.store.Load(csAI.Key()).Len() != 10 {
		t.Error("checkpoint must keep progress after cancellation")
	}
}

func TestNewLoop_Validation(t *testing.T) {
	store, _ := checkpoint.NewFileStore(t.TempDir(), zerolog.Nop())
	src := testutil.NewFakeSource(testutil.FakeAttempt{})

	if _, err := NewLoop(nil, store, DefaultRetryPolicy()); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := NewLoop(src, nil, DefaultRetryPolicy()); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewLoop(src, store, RetryPolicy{}); err == nil {
		t.Error("expected error for zero policy")
	}
}

func TestOrderByIDs(t *testing.T) {
	recs := []record.Record{{ID: "c"}, {ID: "x"}, {ID: "a"}, {ID: "b"}}
	got := orderByIDs(recs, []string{"a", "b", "c"})

	want := []string{"a", "b", "c", "x"}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("orderByIDs = %v, want %v", got, want)
		}
	}
}

func assertUnique(t *testing.T, recs []record.Record) {
	t.Helper()
	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if seen[rec.ID] {
			t.Fatalf("duplicate record %s", rec.ID)
		}
		seen[rec.ID] = true
	}
}
