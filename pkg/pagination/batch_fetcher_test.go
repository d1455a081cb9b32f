package pagination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/arxiv-harvester/internal/testutil"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/source"
	"github.com/rs/zerolog"
)

var testPartition = partition.ForDate("fake", "cs.AI", time.Date(2024, 11, 25, 0, 0, 0, 0, time.UTC))

func TestNewBatchFetcher_Defaults(t *testing.T) {
	bf := NewBatchFetcher(testutil.NewFakeSource(testutil.FakeAttempt{}), Config{}, zerolog.Nop())

	if bf.config.MaxConcurrency != 1 {
		t.Errorf("MaxConcurrency = %d, want 1", bf.config.MaxConcurrency)
	}
	if bf.config.Timeout != 5*time.Minute {
		t.Errorf("Timeout = %s, want 5m", bf.config.Timeout)
	}
}

func TestFetchAll(t *testing.T) {
	tests := []struct {
		name        string
		records     int
		pageSize    int
		concurrency int
		wantPages   int
	}{
		{name: "single page", records: 7, pageSize: 10, concurrency: 1, wantPages: 1},
		{name: "exact multiple", records: 20, pageSize: 10, concurrency: 1, wantPages: 2},
		{name: "many pages sequential", records: 95, pageSize: 10, concurrency: 1, wantPages: 10},
		{name: "many pages parallel", records: 95, pageSize: 10, concurrency: 4, wantPages: 10},
		{name: "empty partition", records: 0, pageSize: 10, concurrency: 2, wantPages: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testutil.NewFakeSource(testutil.FakeAttempt{
				Records: testutil.MakeRecords("2411", tt.records),
				Total:   tt.records,
			})
			src.PageSize = tt.pageSize

			bf := NewBatchFetcher(src, Config{MaxConcurrency: tt.concurrency}, zerolog.Nop())
			res, err := bf.FetchAll(context.Background(), testPartition)
			if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}

			if res.TotalPages != tt.wantPages {
				t.Errorf("TotalPages = %d, want %d", res.TotalPages, tt.wantPages)
			}
			if res.FetchedPages != tt.wantPages {
				t.Errorf("FetchedPages = %d, want %d", res.FetchedPages, tt.wantPages)
			}
			if res.Total != tt.records {
				t.Errorf("Total = %d, want %d", res.Total, tt.records)
			}
			if len(res.Records) != tt.records {
				t.Fatalf("got %d records, want %d", len(res.Records), tt.records)
			}
			for i, rec := range res.Records {
				want := testutil.MakeRecords("2411", tt.records)[i].ID
				if rec.ID != want {
					t.Errorf("record %d = %s, want %s (page order lost)", i, rec.ID, want)
					break
				}
			}
		})
	}
}

func TestFetchAll_FirstPageError(t *testing.T) {
	boom := errors.New("upstream down")
	src := testutil.NewFakeSource(testutil.FakeAttempt{Err: boom})

	res, err := NewBatchFetcher(src, DefaultConfig(), zerolog.Nop()).FetchAll(context.Background(), testPartition)
	if !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if res == nil || len(res.Records) != 0 || res.Total != source.UnknownTotal {
		t.Errorf("unexpected result on first-page failure: %+v", res)
	}
}

func TestFetchAll_PartialResults(t *testing.T) {
	boom := errors.New("page failed")
	src := testutil.NewFakeSource(testutil.FakeAttempt{
		Records:   testutil.MakeRecords("2411", 50),
		Total:     50,
		Err:       boom,
		ErrOnPage: 3,
	})
	src.PageSize = 10

	res, err := NewBatchFetcher(src, Config{MaxConcurrency: 2}, zerolog.Nop()).FetchAll(context.Background(), testPartition)
	if !errors.Is(err, boom) {
		t.Fatalf("expected page error, got %v", err)
	}
	if res.FetchedPages != 4 {
		t.Errorf("FetchedPages = %d, want 4", res.FetchedPages)
	}
	if len(res.Records) != 40 {
		t.Errorf("got %d records, want 40", len(res.Records))
	}
}

func TestFetchAll_UnknownTotal(t *testing.T) {
	src := testutil.NewFakeSource(testutil.FakeAttempt{
		Records: testutil.MakeRecords("pm", 12),
		Total:   source.UnknownTotal,
	})
	src.PageSize = 5

	res, err := NewBatchFetcher(src, DefaultConfig(), zerolog.Nop()).FetchAll(context.Background(), testPartition)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if res.Total != source.UnknownTotal {
		t.Errorf("Total = %d, want unknown", res.Total)
	}
	if len(res.Records) != 12 {
		t.Errorf("got %d records, want 12", len(res.Records))
	}
}

func TestFetchAll_ContextCancelled(t *testing.T) {
	src := testutil.NewFakeSource(testutil.FakeAttempt{
		Records: testutil.MakeRecords("2411", 30),
		Total:   30,
	})
	src.PageSize = 10

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBatchFetcher(src, DefaultConfig(), zerolog.Nop()).FetchAll(ctx, testPartition)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
