package health

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"score-cloud/internal/dataset"
	"score-cloud/internal/objstore"
	"score-cloud/internal/summary"
)

var fixedNow = func() time.Time {
	return time.Date(2024, 6, 15, 20, 0, 0, 0, time.UTC)
}

func snapshotStoreWithToday(t *testing.T) *summary.Store {
	t.Helper()
	store := summary.NewStore(objstore.NewFSStore(t.TempDir()), "daily-summary")
	snap := &summary.Snapshot{
		Date:  "2024-06-15",
		Users: map[string]dataset.DayResult{"alice": {Score: 10}},
	}
	if err := store.Save(snap, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return store
}

func runsServer(t *testing.T, conclusions []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") != "5" {
			t.Errorf("per_page = %q, want 5", r.URL.Query().Get("per_page"))
		}
		fmt.Fprint(w, `{"workflow_runs":[`)
		for i, c := range conclusions {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"status":"completed","conclusion":%q}`, c)
		}
		fmt.Fprint(w, `]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckHealthy(t *testing.T) {
	srv := runsServer(t, []string{"success", "success", "failure", "success", "success"})
	c := NewChecker(snapshotStoreWithToday(t), Config{Owner: "acme", Repo: "scores", APIBase: srv.URL})
	c.now = fixedNow

	result, err := c.Check()
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !result.SummaryPresent {
		t.Error("expected today's summary to be found")
	}
	if result.RecentFailures != 1 {
		t.Errorf("RecentFailures = %d, want 1", result.RecentFailures)
	}
	if got := result.Status(); got != StatusHealthy {
		t.Errorf("Status() = %d, want %d", got, StatusHealthy)
	}
}

func TestCheckMissingSummary(t *testing.T) {
	srv := runsServer(t, []string{"success", "success"})
	store := summary.NewStore(objstore.NewFSStore(t.TempDir()), "daily-summary")
	c := NewChecker(store, Config{Owner: "acme", Repo: "scores", APIBase: srv.URL})
	c.now = fixedNow

	result, err := c.Check()
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.SummaryPresent {
		t.Error("no summary was written, SummaryPresent should be false")
	}
	if got := result.Status(); got != StatusSummaryMissing {
		t.Errorf("Status() = %d, want %d", got, StatusSummaryMissing)
	}
}

func TestCheckWorkflowFailing(t *testing.T) {
	srv := runsServer(t, []string{"failure", "failure", "failure", "success", "success"})
	c := NewChecker(snapshotStoreWithToday(t), Config{Owner: "acme", Repo: "scores", APIBase: srv.URL})
	c.now = fixedNow

	result, err := c.Check()
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !result.WorkflowFailing {
		t.Error("three failures out of five should flag the workflow")
	}
	if got := result.Status(); got != StatusWorkflowFailing {
		t.Errorf("Status() = %d, want %d", got, StatusWorkflowFailing)
	}
}

func TestMissingSummaryOutranksFailingWorkflow(t *testing.T) {
	srv := runsServer(t, []string{"failure", "failure", "failure"})
	store := summary.NewStore(objstore.NewFSStore(t.TempDir()), "daily-summary")
	c := NewChecker(store, Config{Owner: "acme", Repo: "scores", APIBase: srv.URL})
	c.now = fixedNow

	result, err := c.Check()
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if got := result.Status(); got != StatusSummaryMissing {
		t.Errorf("Status() = %d, want %d", got, StatusSummaryMissing)
	}
}

func TestCheckSkipsWorkflowWithoutRepo(t *testing.T) {
	c := NewChecker(snapshotStoreWithToday(t), Config{})
	c.now = fixedNow

	result, err := c.Check()
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.RunsChecked != 0 {
		t.Errorf("RunsChecked = %d, want 0", result.RunsChecked)
	}
	if got := result.Status(); got != StatusHealthy {
		t.Errorf("Status() = %d, want %d", got, StatusHealthy)
	}
}

func TestUnreachableRunsAPICountsAsFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewChecker(snapshotStoreWithToday(t), Config{Owner: "acme", Repo: "scores", APIBase: srv.URL})
	c.now = fixedNow

	result, err := c.Check()
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if got := result.Status(); got != StatusWorkflowFailing {
		t.Errorf("an unverifiable workflow counts as failing, Status() = %d, want %d", got, StatusWorkflowFailing)
	}
}
