// Package dataset owns the durable monthly score datasets. Every mutation
// goes through a read-merge-write cycle against the object store; a losing
// writer is told about the conflict and retries on a fresh read instead of
// clobbering the other writer's update.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"score-cloud/internal/objstore"

	"github.com/rs/zerolog/log"
)

// maxWriteRetries bounds the read-merge-write loop on revision conflicts.
const maxWriteRetries = 3

// DayResult is the outcome of one user's lookup for one date.
type DayResult struct {
	Score    int    `json:"score"`
	IsExceed bool   `json:"isExceed"`
	Error    bool   `json:"error,omitempty"`
	ErrorMsg string `json:"errorMsg,omitempty"`
}

// UploadRequest is the interactive upload path's input: the full
// month-to-date score map for one user, not a delta.
type UploadRequest struct {
	DeviceID    string         `json:"deviceId"`
	UserName    string         `json:"userName"`
	YearMonth   string         `json:"yearMonth"`
	DailyScores map[string]int `json:"dailyScores"`
	UploadTime  string         `json:"uploadTime"`
}

// UploadResult is what the upload path reports back.
type UploadResult struct {
	Success      bool `json:"success"`
	MonthlyTotal int  `json:"monthlyTotal"`
	UserIndex    int  `json:"userIndex"`
}

// RollupUserStats is the per-user slice of a monthly report that gets folded
// back into the dataset.
type RollupUserStats struct {
	UserName    string
	Rank        int
	DailyScores map[string]int
	TotalScore  int
	AvgScore    float64
	MaxScore    int
	MinScore    int
	TotalDays   int
	ExceedDays  int
	FirstDate   string
}

// ExceedDate annotates one day whose score broke the daily limit.
type ExceedDate struct {
	Date  string `json:"date"`
	Score int    `json:"score"`
	Limit int    `json:"limit"`
}

// QueriedUser is a UserRecord annotated for the query API.
type QueriedUser struct {
	UserRecord
	ExceedDates []ExceedDate `json:"exceedDays"`
}

// QueryResult is the month view returned to API consumers.
type QueryResult struct {
	YearMonth  string        `json:"yearMonth"`
	Users      []QueriedUser `json:"users"`
	DailyLimit int           `json:"dailyLimit"`
	TotalUsers int           `json:"totalUsers"`
}

// Store is the aggregation store for monthly datasets.
type Store struct {
	store      objstore.Store
	dataDir    string
	dailyLimit int

	now func() time.Time
}

// NewStore creates an aggregation store writing under dataDir of the given
// object store.
func NewStore(store objstore.Store, dataDir string, dailyLimit int) *Store {
	return &Store{
		store:      store,
		dataDir:    dataDir,
		dailyLimit: dailyLimit,
		now:        time.Now,
	}
}

func (s *Store) path(yearMonth string) string {
	return s.dataDir + "/" + yearMonth + ".json"
}

func (s *Store) load(yearMonth string) (MonthlyDataset, string, error) {
	content, rev, err := s.store.Get(s.path(yearMonth))
	if err != nil {
		return nil, "", err
	}
	ds, err := decodeDataset(content)
	if err != nil {
		return nil, "", fmt.Errorf("dataset %s is not valid JSON: %w", yearMonth, err)
	}
	return ds, rev, nil
}

func (s *Store) save(yearMonth string, ds MonthlyDataset, rev string) error {
	content, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return err
	}
	_, err = s.store.Put(s.path(yearMonth), content, rev)
	return err
}

// update runs one read-merge-write cycle per attempt, retrying on revision
// conflicts with a fresh read each time.
func (s *Store) update(yearMonth string, apply func(MonthlyDataset)) (MonthlyDataset, error) {
	for attempt := 1; attempt <= maxWriteRetries; attempt++ {
		ds, rev, err := s.load(yearMonth)
		if err != nil {
			return nil, err
		}

		apply(ds)

		err = s.save(yearMonth, ds, rev)
		if err == nil {
			return ds, nil
		}
		if !errors.Is(err, objstore.ErrConflict) {
			return nil, err
		}
		log.Warn().Str("yearMonth", yearMonth).Int("attempt", attempt).Msg("Dataset write conflict, re-reading")
	}
	return nil, fmt.Errorf("dataset %s: gave up after %d write conflicts", yearMonth, maxWriteRetries)
}

// MergeDailyResult folds one day's harvest into the month containing date.
// Re-running it with identical results leaves the dataset unchanged apart
// from lastUpdate: scores overwrite per date, never accumulate. Returns the
// resulting user count.
func (s *Store) MergeDailyResult(date string, results map[string]DayResult) (int, error) {
	if len(date) < len("2006-01") {
		return 0, fmt.Errorf("invalid date %q", date)
	}
	yearMonth := date[:7]
	nowStr := s.now().UTC().Format(time.RFC3339)

	// Names are applied in sorted order so that index assignment for users
	// first seen in the same merge is deterministic.
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	ds, err := s.update(yearMonth, func(ds MonthlyDataset) {
		for _, name := range names {
			userID := "auto_" + name
			rec, ok := ds[userID]
			if !ok {
				rec = &UserRecord{
					UserName:    name,
					UserIndex:   len(ds) + 1,
					DeviceID:    DeviceIDHarvester,
					DailyScores: make(map[string]int),
					FirstSeen:   nowStr,
				}
				ds[userID] = rec
			}

			rec.DailyScores[date] = results[name].Score
			rec.LastUpdate = nowStr
			rec.recompute(s.dailyLimit)
		}
	})
	if err != nil {
		return 0, err
	}

	log.Info().Str("yearMonth", yearMonth).Str("date", date).Int("users", len(ds)).Msg("Monthly dataset updated")
	return len(ds), nil
}

// UpsertFromUpload applies one interactive upload: the supplied score map
// replaces the user's map wholesale, the index survives, and the upload
// counter advances.
func (s *Store) UpsertFromUpload(req UploadRequest) (UploadResult, error) {
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = "auto"
	}
	userID := deviceID + "_" + req.UserName

	uploadTime := req.UploadTime
	if uploadTime == "" {
		uploadTime = s.now().UTC().Format(time.RFC3339)
	}

	var result UploadResult
	_, err := s.update(req.YearMonth, func(ds MonthlyDataset) {
		rec, ok := ds[userID]
		if !ok {
			rec = &UserRecord{
				UserIndex: len(ds) + 1,
				FirstSeen: uploadTime,
			}
			ds[userID] = rec
		}

		rec.UserName = req.UserName
		rec.DeviceID = deviceID
		rec.DailyScores = make(map[string]int, len(req.DailyScores))
		for d, score := range req.DailyScores {
			rec.DailyScores[d] = score
		}
		rec.LastUpdate = uploadTime
		rec.UploadCount++
		rec.recompute(s.dailyLimit)

		result = UploadResult{Success: true, MonthlyTotal: rec.MonthlyTotal, UserIndex: rec.UserIndex}
	})
	if err != nil {
		return UploadResult{}, err
	}
	return result, nil
}

// ApplyRollup feeds derived monthly totals back into the dataset. Daily
// scores merge key by key over whatever the harvest path already wrote;
// the derived fields are overwritten from the rollup's figures.
func (s *Store) ApplyRollup(yearMonth string, users []RollupUserStats) (int, error) {
	nowStr := s.now().UTC().Format(time.RFC3339)

	ds, err := s.update(yearMonth, func(ds MonthlyDataset) {
		for _, u := range users {
			userID := "auto_" + u.UserName
			rec, ok := ds[userID]
			if !ok {
				rec = &UserRecord{
					UserName:    u.UserName,
					UserIndex:   u.Rank,
					DeviceID:    DeviceIDHarvester,
					DailyScores: make(map[string]int),
					FirstSeen:   u.FirstDate,
				}
				ds[userID] = rec
			}

			for d, score := range u.DailyScores {
				rec.DailyScores[d] = score
			}
			rec.MonthlyTotal = u.TotalScore
			rec.ExceedDays = u.ExceedDays
			rec.LastUpdate = nowStr
			rec.MonthlyStats = &MonthlyStats{
				AvgScore:  u.AvgScore,
				MaxScore:  u.MaxScore,
				MinScore:  u.MinScore,
				TotalDays: u.TotalDays,
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return len(ds), nil
}

// Query returns the month's records sorted by userIndex, each annotated with
// the dates whose score broke the daily limit.
func (s *Store) Query(yearMonth string) (*QueryResult, error) {
	ds, _, err := s.load(yearMonth)
	if err != nil {
		return nil, err
	}

	users := make([]QueriedUser, 0, len(ds))
	for _, rec := range ds {
		var exceeds []ExceedDate
		for date, score := range rec.DailyScores {
			if score > s.dailyLimit {
				exceeds = append(exceeds, ExceedDate{Date: date, Score: score, Limit: s.dailyLimit})
			}
		}
		sort.Slice(exceeds, func(i, j int) bool { return exceeds[i].Date < exceeds[j].Date })
		users = append(users, QueriedUser{UserRecord: *rec, ExceedDates: exceeds})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserIndex < users[j].UserIndex })

	return &QueryResult{
		YearMonth:  yearMonth,
		Users:      users,
		DailyLimit: s.dailyLimit,
		TotalUsers: len(users),
	}, nil
}

// Months lists every month that has a dataset file, newest first.
func (s *Store) Months() ([]string, error) {
	names, err := s.store.List(s.dataDir)
	if err != nil {
		return nil, err
	}

	var months []string
	for _, name := range names {
		if strings.HasSuffix(name, ".json") {
			months = append(months, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months, nil
}

// KnownNames collects every user name seen across all month files, sorted.
// The harvester seeds its roster from this.
func (s *Store) KnownNames() ([]string, error) {
	months, err := s.Months()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, month := range months {
		ds, _, err := s.load(month)
		if err != nil {
			log.Warn().Err(err).Str("yearMonth", month).Msg("Skipping unreadable dataset file")
			continue
		}
		for _, rec := range ds {
			if rec.UserName != "" {
				seen[rec.UserName] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
