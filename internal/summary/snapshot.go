// Package summary owns the per-day harvest snapshots. A snapshot is written
// once per calendar date; later runs for the same date are skipped unless the
// caller forces a wholesale replacement.
package summary

import (
	"encoding/json"
	"errors"
	"fmt"

	"score-cloud/internal/dataset"
	"score-cloud/internal/objstore"

	"github.com/rs/zerolog/log"
)

// ErrExists is returned by Save when the date already has a snapshot and the
// caller did not force the write.
var ErrExists = errors.New("summary: snapshot already exists for date")

// Meta records provenance of a snapshot.
type Meta struct {
	Source  string `json:"source"`
	Version string `json:"version"`
	APIBase string `json:"apiBase,omitempty"`
}

// Snapshot is the immutable record of one day's harvest run.
type Snapshot struct {
	Date         string                       `json:"date"`
	GeneratedAt  string                       `json:"generatedAt"`
	TotalUsers   int                          `json:"totalUsers"`
	SuccessCount int                          `json:"successCount"`
	FailCount    int                          `json:"failCount"`
	ExceedCount  int                          `json:"exceedCount"`
	NormalCount  int                          `json:"normalCount"`
	Users        map[string]dataset.DayResult `json:"users"`
	Meta         Meta                         `json:"meta"`
}

// Validate checks the fields a snapshot can never be written without.
func (s *Snapshot) Validate() error {
	if s.Date == "" {
		return errors.New("summary: snapshot has no date")
	}
	if s.Users == nil {
		return errors.New("summary: snapshot has no user map")
	}
	return nil
}

// Store reads and writes snapshots under one directory of the object store.
type Store struct {
	store      objstore.Store
	summaryDir string
}

// NewStore creates a snapshot store under summaryDir.
func NewStore(store objstore.Store, summaryDir string) *Store {
	return &Store{store: store, summaryDir: summaryDir}
}

func (s *Store) path(date string) string {
	return s.summaryDir + "/" + date + ".json"
}

// Exists reports whether a snapshot has been written for the date.
func (s *Store) Exists(date string) (bool, error) {
	_, rev, err := s.store.Get(s.path(date))
	if err != nil {
		return false, err
	}
	return rev != "", nil
}

// Load returns the snapshot for the date, or nil when none was written.
func (s *Store) Load(date string) (*Snapshot, error) {
	content, rev, err := s.store.Get(s.path(date))
	if err != nil {
		return nil, err
	}
	if rev == "" {
		return nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		// Treat an unreadable day as absent rather than poisoning the month.
		log.Warn().Err(err).Str("date", date).Msg("Skipping unreadable daily snapshot")
		return nil, nil
	}
	if snap.Date == "" {
		snap.Date = date
	}
	return &snap, nil
}

// Save writes the snapshot. An existing snapshot for the date is left
// untouched unless force is set, in which case the file is replaced whole.
func (s *Store) Save(snap *Snapshot, force bool) error {
	path := s.path(snap.Date)

	_, rev, err := s.store.Get(path)
	if err != nil {
		return err
	}
	if rev != "" && !force {
		return ErrExists
	}

	content, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if _, err := s.store.Put(path, content, rev); err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", snap.Date, err)
	}

	log.Info().Str("date", snap.Date).Int("users", snap.TotalUsers).Bool("forced", force).Msg("Daily snapshot saved")
	return nil
}
