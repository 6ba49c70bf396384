// Package health checks that the harvesting pipeline is alive: today's
// snapshot exists and the scheduled workflow is not failing repeatedly.
package health

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"score-cloud/internal/summary"

	"github.com/rs/zerolog/log"
)

// Exit codes for the health subcommand.
const (
	StatusHealthy         = 0
	StatusSummaryMissing  = 1
	StatusWorkflowFailing = 2
	StatusCheckError      = 3
)

const (
	workflowFile   = "daily-score-fetch.yml"
	runsToInspect  = 5
	failureCeiling = 3
	defaultAPIBase = "https://api.github.com"
	requestTimeout = 15 * time.Second
)

// Config identifies the repository whose workflow runs are inspected. An
// empty Owner or Repo disables the workflow check.
type Config struct {
	Owner   string
	Repo    string
	Token   string
	APIBase string
}

// Result is the outcome of one health check.
type Result struct {
	Date            string `json:"date"`
	SummaryPresent  bool   `json:"summaryPresent"`
	RunsChecked     int    `json:"runsChecked"`
	RecentFailures  int    `json:"recentFailures"`
	WorkflowFailing bool   `json:"workflowFailing"`
}

// Status maps the result to the subcommand exit code. Missing data outranks
// a failing workflow.
func (r Result) Status() int {
	switch {
	case !r.SummaryPresent:
		return StatusSummaryMissing
	case r.WorkflowFailing:
		return StatusWorkflowFailing
	default:
		return StatusHealthy
	}
}

// Checker runs the health checks.
type Checker struct {
	snapshots  *summary.Store
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// NewChecker creates a Checker over the snapshot store.
func NewChecker(snapshots *summary.Store, cfg Config) *Checker {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	return &Checker{
		snapshots:  snapshots,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		now:        time.Now,
	}
}

type workflowRun struct {
	Conclusion string `json:"conclusion"`
	Status     string `json:"status"`
}

type workflowRunsResponse struct {
	WorkflowRuns []workflowRun `json:"workflow_runs"`
}

// Check inspects today's snapshot and the recent workflow runs. A workflow
// check that cannot be performed counts as failing: silence from the runs
// API is indistinguishable from a broken schedule.
func (c *Checker) Check() (Result, error) {
	result := Result{Date: c.now().UTC().Format("2006-01-02")}

	present, err := c.snapshots.Exists(result.Date)
	if err != nil {
		return result, fmt.Errorf("snapshot check failed: %w", err)
	}
	result.SummaryPresent = present

	if c.cfg.Owner == "" || c.cfg.Repo == "" {
		log.Debug().Msg("No repository configured, skipping workflow check")
		return result, nil
	}

	runs, err := c.recentRuns()
	if err != nil {
		log.Warn().Err(err).Msg("Workflow run check failed")
		result.WorkflowFailing = true
		return result, nil
	}
	result.RunsChecked = len(runs)
	for _, run := range runs {
		if run.Conclusion == "failure" {
			result.RecentFailures++
		}
	}
	result.WorkflowFailing = result.RecentFailures >= failureCeiling
	return result, nil
}

func (c *Checker) recentRuns() ([]workflowRun, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/runs?per_page=%d",
		c.cfg.APIBase, c.cfg.Owner, c.cfg.Repo, workflowFile, runsToInspect)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("workflow runs request returned %d", resp.StatusCode)
	}

	var parsed workflowRunsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse workflow runs: %w", err)
	}
	return parsed.WorkflowRuns, nil
}
