package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/paper-sync/internal/testutil"
	"github.com/Sternrassler/paper-sync/pkg/paper"
)

func newTestCatalog(t *testing.T) (*CatalogClient, *testutil.MockRemote) {
	t.Helper()

	remote := testutil.NewMockRemote()
	t.Cleanup(remote.Close)

	c, err := NewCatalogClient(DefaultCatalogConfig(remote.URL(), "catalog-test/1.0"))
	if err != nil {
		t.Fatalf("NewCatalogClient() error = %v", err)
	}
	return c, remote
}

func TestNewCatalogClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CatalogConfig
		wantErr bool
	}{
		{
			name:    "valid",
			cfg:     DefaultCatalogConfig("http://localhost:9090", "test/1.0"),
			wantErr: false,
		},
		{
			name:    "missing_base_url",
			cfg:     CatalogConfig{UserAgent: "test/1.0"},
			wantErr: true,
		},
		{
			name:    "missing_user_agent",
			cfg:     CatalogConfig{BaseURL: "http://localhost:9090"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalogClient(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCatalogClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFetchPage(t *testing.T) {
	c, remote := newTestCatalog(t)
	remote.SetPapers(testutil.GenPapers(125, "cs.AI"))

	filter := paper.NewFilter([]string{"cs.AI"}, paper.PeriodMonth)

	page, err := c.FetchPage(context.Background(), filter, 50, 50)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}

	if page.FetchedCount != 50 {
		t.Errorf("FetchedCount = %d, want 50", page.FetchedCount)
	}
	if page.TotalCount != 125 {
		t.Errorf("TotalCount = %d, want 125", page.TotalCount)
	}
	if len(page.Items) != 50 {
		t.Fatalf("len(Items) = %d, want 50", len(page.Items))
	}
	if page.Items[0].ID != "2608.00051" {
		t.Errorf("first item ID = %s, want 2608.00051 (offset applied)", page.Items[0].ID)
	}
}

func TestFetchPage_PartialLastPage(t *testing.T) {
	c, remote := newTestCatalog(t)
	remote.SetPapers(testutil.GenPapers(125, "cs.AI"))

	filter := paper.NewFilter([]string{"cs.AI"}, paper.PeriodMonth)

	page, err := c.FetchPage(context.Background(), filter, 100, 50)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if page.FetchedCount != 25 {
		t.Errorf("FetchedCount = %d, want 25", page.FetchedCount)
	}
}

func TestFetchPage_ThrottledNotRetried(t *testing.T) {
	c, remote := newTestCatalog(t)
	remote.SetPapers(testutil.GenPapers(50, "cs.AI"))
	remote.FailPageAt(0, 429)

	filter := paper.NewFilter([]string{"cs.AI"}, paper.PeriodMonth)

	_, err := c.FetchPage(context.Background(), filter, 0, 50)
	if err == nil {
		t.Fatal("FetchPage() expected throttled error")
	}

	if !IsThrottled(err) {
		t.Errorf("IsThrottled() = false for error %v", err)
	}
	if got := RetryAfterHint(err); got != 30*time.Second {
		t.Errorf("RetryAfterHint() = %v, want 30s from Retry-After header", got)
	}
	if remote.PageRequestCount() != 1 {
		t.Errorf("requests = %d, want 1 (throttling never retried)", remote.PageRequestCount())
	}
}

func TestFetchPage_TransientNotRetried(t *testing.T) {
	c, remote := newTestCatalog(t)
	remote.SetPapers(testutil.GenPapers(50, "cs.AI"))
	remote.FailPageAt(0, 503)

	filter := paper.NewFilter([]string{"cs.AI"}, paper.PeriodMonth)

	_, err := c.FetchPage(context.Background(), filter, 0, 50)
	if !IsTransient(err) {
		t.Errorf("IsTransient() = false for error %v", err)
	}
	if remote.PageRequestCount() != 1 {
		t.Errorf("requests = %d, want 1 (transient unavailability never retried)", remote.PageRequestCount())
	}
}

func TestFetchPage_ClientErrorNotRetried(t *testing.T) {
	c, remote := newTestCatalog(t)
	remote.SetPapers(testutil.GenPapers(50, "cs.AI"))
	remote.FailPageAt(0, 404)

	filter := paper.NewFilter([]string{"cs.AI"}, paper.PeriodMonth)

	_, err := c.FetchPage(context.Background(), filter, 0, 50)
	if err == nil {
		t.Fatal("FetchPage() expected client error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Class != ErrorClassClient {
		t.Errorf("error = %v, want APIError with client class", err)
	}
	if remote.PageRequestCount() != 1 {
		t.Errorf("requests = %d, want 1 (4xx never retried)", remote.PageRequestCount())
	}
}

func TestFetchPage_ServerErrorRetriedUntilExhausted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping backoff test in short mode")
	}

	c, remote := newTestCatalog(t)
	remote.SetPapers(testutil.GenPapers(50, "cs.AI"))
	remote.FailPageAt(0, 500)

	filter := paper.NewFilter([]string{"cs.AI"}, paper.PeriodMonth)

	_, err := c.FetchPage(context.Background(), filter, 0, 50)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
	if remote.PageRequestCount() != 3 {
		t.Errorf("requests = %d, want 3 (initial attempt plus 2 retries)", remote.PageRequestCount())
	}

	// The final failure stays in the chain behind the exhaustion wrap.
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
		t.Errorf("error = %v, want wrapped APIError with status 500", err)
	}
}

func TestFetchPage_ContextCancelled(t *testing.T) {
	c, remote := newTestCatalog(t)
	remote.SetPapers(testutil.GenPapers(50, "cs.AI"))
	remote.FailPageAt(0, 500)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	filter := paper.NewFilter([]string{"cs.AI"}, paper.PeriodMonth)

	_, err := c.FetchPage(ctx, filter, 0, 50)
	if err == nil {
		t.Fatal("FetchPage() expected error with cancelled context")
	}
}
