// Package harvest drives one harvest run: assemble the roster, look up every
// user's score for the target date strictly sequentially, and persist the
// day snapshot plus the monthly dataset merge. Lookups are never parallel;
// the courtesy delays between them are the rate-limit contract with the
// remote system.
package harvest

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"score-cloud/internal/dataset"
	"score-cloud/internal/objstore"
	"score-cloud/internal/scoreapi"
	"score-cloud/internal/summary"

	"github.com/rs/zerolog/log"
)

// Exit statuses distinguish partial failure from total success so a
// scheduler can alert without discarding the partial data that was saved.
const (
	ExitOK             = 0
	ExitFatal          = 1
	ExitPartialFailure = 2
)

// Config tunes a Runner.
type Config struct {
	DailyLimit   int
	RequestDelay time.Duration
	ExtraUsers   string // comma-separated additions to the roster
	UserListFile string // optional local file, one name per line, # comments
	APIBase      string // recorded (redacted) in snapshot metadata
}

// Outcome summarizes one run.
type Outcome struct {
	Date         string
	Skipped      bool
	TotalUsers   int
	SuccessCount int
	FailCount    int
	ExceedCount  int
	DatasetUsers int
}

// ExitCode classifies the outcome: partial failure when failed lookups
// exceed half of the attempted ones.
func (o *Outcome) ExitCode() int {
	if o.FailCount*2 > o.SuccessCount+o.FailCount {
		return ExitPartialFailure
	}
	return ExitOK
}

// Runner executes harvest runs.
type Runner struct {
	client    scoreapi.Client
	datasets  *dataset.Store
	snapshots *summary.Store
	cfg       Config

	sleep func(time.Duration)
	now   func() time.Time
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(client scoreapi.Client, datasets *dataset.Store, snapshots *summary.Store, cfg Config) *Runner {
	return &Runner{
		client:    client,
		datasets:  datasets,
		snapshots: snapshots,
		cfg:       cfg,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// BuildRoster merges every known name source: users already present in the
// monthly datasets, the EXTRA_USERS list, and the optional user-list file.
func (r *Runner) BuildRoster() ([]string, error) {
	seen := make(map[string]bool)

	known, err := r.datasets.KnownNames()
	if err != nil {
		log.Warn().Err(err).Msg("Could not read known users from datasets")
	}
	for _, name := range known {
		seen[name] = true
	}

	for _, name := range strings.Split(r.cfg.ExtraUsers, ",") {
		if name = strings.TrimSpace(name); name != "" {
			seen[name] = true
		}
	}

	if r.cfg.UserListFile != "" {
		content, err := os.ReadFile(r.cfg.UserListFile)
		if err == nil {
			for _, line := range strings.Split(string(content), "\n") {
				name := strings.TrimSpace(line)
				if name != "" && !strings.HasPrefix(name, "#") {
					seen[name] = true
				}
			}
		}
		// A missing list file is fine; the other sources carry the roster.
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Run harvests every roster user's score for date. Per-user failures are
// recorded and the run continues; whatever was gathered is always persisted.
func (r *Runner) Run(date string, force bool) (*Outcome, error) {
	if !force {
		exists, err := r.snapshots.Exists(date)
		if err != nil {
			return nil, err
		}
		if exists {
			log.Warn().Str("date", date).Msg("Snapshot already exists, skipping (set FORCE_UPDATE=true to replace)")
			return &Outcome{Date: date, Skipped: true}, nil
		}
	}

	roster, err := r.BuildRoster()
	if err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("roster is empty: add users via the dataset, EXTRA_USERS, or the user list file")
	}
	log.Info().Int("users", len(roster)).Str("date", date).Msg("Harvest run starting")

	outcome := &Outcome{Date: date, TotalUsers: len(roster)}
	results := make(map[string]dataset.DayResult, len(roster))

	for i, name := range roster {
		log.Info().Int("n", i+1).Int("of", len(roster)).Str("user", name).Msg("Querying score")

		score, err := r.client.LookupScore(name, date, date)
		if err != nil {
			log.Error().Err(err).Str("user", name).Msg("Lookup failed")
			results[name] = dataset.DayResult{Score: 0, Error: true, ErrorMsg: err.Error()}
			outcome.FailCount++
			// Back off harder after an observed failure.
			r.sleep(2 * r.cfg.RequestDelay)
			continue
		}

		isExceed := score > r.cfg.DailyLimit
		results[name] = dataset.DayResult{Score: score, IsExceed: isExceed}
		outcome.SuccessCount++
		if isExceed {
			outcome.ExceedCount++
		}
		r.sleep(r.cfg.RequestDelay)
	}

	snap := &summary.Snapshot{
		Date:         date,
		GeneratedAt:  r.now().UTC().Format(time.RFC3339),
		TotalUsers:   len(roster),
		SuccessCount: outcome.SuccessCount,
		FailCount:    outcome.FailCount,
		ExceedCount:  outcome.ExceedCount,
		NormalCount:  outcome.SuccessCount - outcome.ExceedCount,
		Users:        results,
		Meta: summary.Meta{
			Source:  "github-actions",
			Version: "2.0",
			APIBase: redactAPIBase(r.cfg.APIBase),
		},
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if err := r.snapshots.Save(snap, force); err != nil {
		return nil, err
	}

	datasetUsers, err := r.datasets.MergeDailyResult(date, results)
	if err != nil {
		return nil, err
	}
	outcome.DatasetUsers = datasetUsers

	log.Info().
		Int("success", outcome.SuccessCount).
		Int("fail", outcome.FailCount).
		Int("exceed", outcome.ExceedCount).
		Int("datasetUsers", outcome.DatasetUsers).
		Msg("Harvest run complete")
	return outcome, nil
}

var userinfoPattern = regexp.MustCompile(`//[^/@]*@`)

// redactAPIBase hides credentials embedded in the base URL before it lands
// in a snapshot file.
func redactAPIBase(base string) string {
	return userinfoPattern.ReplaceAllString(base, "//***@")
}

// DiscoveredDump is the audit artifact of one discovery run.
type DiscoveredDump struct {
	DiscoveredAt string                    `json:"discoveredAt"`
	Count        int                       `json:"count"`
	Users        []scoreapi.DiscoveredUser `json:"users"`
}

// SaveDiscoveredUsers persists the audit dump of the latest discovery run.
// The dump is informational only; it never feeds scoring directly.
func SaveDiscoveredUsers(store objstore.Store, users []scoreapi.DiscoveredUser, now time.Time) error {
	dump := DiscoveredDump{
		DiscoveredAt: now.UTC().Format(time.RFC3339),
		Count:        len(users),
		Users:        users,
	}
	content, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return err
	}

	// Latest run wins; the file is a rolling audit artifact.
	_, rev, err := store.Get("discovered-users.json")
	if err != nil {
		return err
	}
	if _, err := store.Put("discovered-users.json", content, rev); err != nil {
		return fmt.Errorf("failed to save discovered users: %w", err)
	}
	return nil
}
