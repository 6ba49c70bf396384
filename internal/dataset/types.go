package dataset

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// DeviceIDHarvester marks records created by the automated harvest path
// rather than an interactive upload.
const DeviceIDHarvester = "github-actions"

// MonthlyStats are the derived per-user figures the monthly rollup feeds
// back into the dataset.
type MonthlyStats struct {
	AvgScore  float64 `json:"avgScore"`
	MaxScore  int     `json:"maxScore"`
	MinScore  int     `json:"minScore"`
	TotalDays int     `json:"totalDays"`
}

// UserRecord is one person's month of data inside a MonthlyDataset.
type UserRecord struct {
	UserName     string         `json:"userName"`
	UserIndex    int            `json:"userIndex"`
	DeviceID     string         `json:"deviceId"`
	DailyScores  map[string]int `json:"dailyScores"`
	MonthlyTotal int            `json:"monthlyTotal"`
	ExceedDays   int            `json:"exceedDays"`
	FirstSeen    string         `json:"firstSeen,omitempty"`
	LastUpdate   string         `json:"lastUpdate,omitempty"`
	UploadCount  int            `json:"uploadCount,omitempty"`
	MonthlyStats *MonthlyStats  `json:"monthlyStats,omitempty"`
}

// recompute rebuilds the derived fields from dailyScores. They are pure
// functions of the score map and must never be incremented in place.
func (u *UserRecord) recompute(dailyLimit int) {
	total := 0
	exceed := 0
	for _, score := range u.DailyScores {
		total += score
		if score > dailyLimit {
			exceed++
		}
	}
	u.MonthlyTotal = total
	u.ExceedDays = exceed
}

// MonthlyDataset holds every UserRecord for one calendar month, keyed by
// userId.
type MonthlyDataset map[string]*UserRecord

// decodeDataset parses a dataset file. Entries that do not decode as user
// records are skipped with a warning rather than failing the whole month:
// older writers produced records this schema no longer describes.
func decodeDataset(content []byte) (MonthlyDataset, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, err
	}

	ds := make(MonthlyDataset, len(raw))
	for userID, blob := range raw {
		var rec UserRecord
		if err := json.Unmarshal(blob, &rec); err != nil || rec.UserName == "" {
			log.Warn().Str("userId", userID).Msg("Skipping unreadable user record")
			continue
		}
		if rec.DailyScores == nil {
			rec.DailyScores = make(map[string]int)
		}
		ds[userID] = &rec
	}
	return ds, nil
}
