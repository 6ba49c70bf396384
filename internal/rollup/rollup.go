// Package rollup folds a month's worth of daily snapshots into one ranked
// monthly report, feeds the derived totals back into the aggregation store,
// and renders the report as JSON, HTML and CSV. Reports are stateless:
// every invocation rebuilds the whole month from the snapshots.
package rollup

import (
	"fmt"
	"math"
	"sort"
	"time"

	"score-cloud/internal/dataset"
	"score-cloud/internal/summary"

	"github.com/rs/zerolog/log"
)

// highRiskThreshold is the exceed-day count at which a user is flagged
// high-risk in the month statistics.
const highRiskThreshold = 5

// UserStat is one user's aggregated month.
type UserStat struct {
	UserName    string         `json:"userName"`
	DailyScores map[string]int `json:"dailyScores"`
	TotalDays   int            `json:"totalDays"`
	TotalScore  int            `json:"totalScore"`
	AvgScore    float64        `json:"avgScore"`
	ExceedDays  int            `json:"exceedDays"`
	MaxScore    int            `json:"maxScore"`
	MinScore    int            `json:"minScore"`
	FirstDate   string         `json:"firstDate"`
	LastDate    string         `json:"lastDate"`
	Rank        int            `json:"rank"`
}

// Statistics are the month-level aggregates.
type Statistics struct {
	AvgTotalScore   float64 `json:"avgTotalScore"`
	AvgDailyScore   float64 `json:"avgDailyScore"`
	TotalExceedDays int     `json:"totalExceedDays"`
	PerfectUsers    int     `json:"perfectUsers"`
	HighRiskUsers   int     `json:"highRiskUsers"`
}

// DayAvailability is one cell of the data-coverage calendar.
type DayAvailability struct {
	Date      string `json:"date"`
	HasData   bool   `json:"hasData"`
	UserCount int    `json:"userCount"`
}

// Report is the derived, read-only monthly view.
type Report struct {
	YearMonth         string            `json:"yearMonth"`
	GeneratedAt       string            `json:"generatedAt"`
	TotalDays         int               `json:"totalDays"`
	DataDays          int               `json:"dataDays"`
	TotalUsers        int               `json:"totalUsers"`
	Statistics        Statistics        `json:"statistics"`
	Users             []UserStat        `json:"users"`
	DailyAvailability []DayAvailability `json:"dailyAvailability"`
}

// Builder assembles monthly reports from daily snapshots.
type Builder struct {
	snapshots  *summary.Store
	dailyLimit int

	now func() time.Time
}

// NewBuilder creates a Builder over the given snapshot store.
func NewBuilder(snapshots *summary.Store, dailyLimit int) *Builder {
	return &Builder{snapshots: snapshots, dailyLimit: dailyLimit, now: time.Now}
}

// MonthDates enumerates every calendar date of yearMonth as zero-padded ISO
// strings, which keeps lexicographic comparison equivalent to chronological.
func MonthDates(yearMonth string) ([]string, error) {
	first, err := time.Parse("2006-01", yearMonth)
	if err != nil {
		return nil, fmt.Errorf("invalid month %q: %w", yearMonth, err)
	}

	lastDay := first.AddDate(0, 1, -1).Day()
	dates := make([]string, 0, lastDay)
	for day := 1; day <= lastDay; day++ {
		dates = append(dates, fmt.Sprintf("%s-%02d", yearMonth, day))
	}
	return dates, nil
}

// DefaultTargetMonth picks the month to roll up when none is configured:
// the previous month on the 1st (the scheduled month-end run), otherwise
// the running month.
func DefaultTargetMonth(now time.Time) string {
	if now.Day() == 1 {
		return now.AddDate(0, -1, 0).Format("2006-01")
	}
	return now.Format("2006-01")
}

// Build loads every present snapshot of the month and folds them into a
// ranked report. Missing dates are skipped; a month with no snapshots at
// all is an error.
func (b *Builder) Build(yearMonth string) (*Report, error) {
	dates, err := MonthDates(yearMonth)
	if err != nil {
		return nil, err
	}

	snapshots := make(map[string]*summary.Snapshot)
	for _, date := range dates {
		snap, err := b.snapshots.Load(date)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			continue
		}
		snapshots[date] = snap
		log.Debug().Str("date", date).Int("users", snap.TotalUsers).Msg("Loaded daily snapshot")
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("no daily snapshots found for %s", yearMonth)
	}
	log.Info().Str("yearMonth", yearMonth).Int("days", len(snapshots)).Msg("Folding daily snapshots")

	stats := make(map[string]*UserStat)
	var order []string // first-encounter order; ties in the ranking keep it

	for _, date := range dates {
		snap, ok := snapshots[date]
		if !ok {
			continue
		}
		// Names within one snapshot are folded in sorted order so that the
		// encounter order, and with it tie ranking, is deterministic.
		names := make([]string, 0, len(snap.Users))
		for name := range snap.Users {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			day := snap.Users[name]
			u, ok := stats[name]
			if !ok {
				u = &UserStat{
					UserName:    name,
					DailyScores: make(map[string]int),
					MinScore:    999,
					FirstDate:   date,
					LastDate:    date,
				}
				stats[name] = u
				order = append(order, name)
			}

			u.DailyScores[date] = day.Score
			u.TotalDays++
			u.TotalScore += day.Score
			if day.Score > b.dailyLimit {
				u.ExceedDays++
			}
			if day.Score > u.MaxScore {
				u.MaxScore = day.Score
			}
			if day.Score < u.MinScore {
				u.MinScore = day.Score
			}
			if date > u.LastDate {
				u.LastDate = date
			}
		}
	}

	users := make([]UserStat, 0, len(order))
	for _, name := range order {
		u := stats[name]
		u.AvgScore = round1(float64(u.TotalScore) / float64(u.TotalDays))
		if u.MinScore == 999 {
			u.MinScore = 0
		}
		users = append(users, *u)
	}

	// Stable sort: equal totals keep first-encounter order. Which of two
	// equal users ranks higher is order-dependent, not merit-based.
	sort.SliceStable(users, func(i, j int) bool { return users[i].TotalScore > users[j].TotalScore })
	for i := range users {
		users[i].Rank = i + 1
	}

	report := &Report{
		YearMonth:   yearMonth,
		GeneratedAt: b.now().UTC().Format(time.RFC3339),
		TotalDays:   len(dates),
		DataDays:    len(snapshots),
		TotalUsers:  len(users),
		Users:       users,
	}

	var sumTotal, sumAvg float64
	for _, u := range users {
		sumTotal += float64(u.TotalScore)
		sumAvg += u.AvgScore
		report.Statistics.TotalExceedDays += u.ExceedDays
		if u.ExceedDays == 0 {
			report.Statistics.PerfectUsers++
		}
		if u.ExceedDays >= highRiskThreshold {
			report.Statistics.HighRiskUsers++
		}
	}
	report.Statistics.AvgTotalScore = round1(sumTotal / float64(len(users)))
	report.Statistics.AvgDailyScore = round1(sumAvg / float64(len(users)))

	for _, date := range dates {
		cell := DayAvailability{Date: date}
		if snap, ok := snapshots[date]; ok {
			cell.HasData = true
			cell.UserCount = snap.TotalUsers
		}
		report.DailyAvailability = append(report.DailyAvailability, cell)
	}

	return report, nil
}

// ApplyToDataset feeds the report's per-user totals back into the monthly
// dataset. Returns the dataset's resulting user count.
func ApplyToDataset(store *dataset.Store, report *Report) (int, error) {
	users := make([]dataset.RollupUserStats, 0, len(report.Users))
	for _, u := range report.Users {
		users = append(users, dataset.RollupUserStats{
			UserName:    u.UserName,
			Rank:        u.Rank,
			DailyScores: u.DailyScores,
			TotalScore:  u.TotalScore,
			AvgScore:    u.AvgScore,
			MaxScore:    u.MaxScore,
			MinScore:    u.MinScore,
			TotalDays:   u.TotalDays,
			ExceedDays:  u.ExceedDays,
			FirstDate:   u.FirstDate,
		})
	}
	return store.ApplyRollup(report.YearMonth, users)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
