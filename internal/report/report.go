// Package report renders the single-day HTML view of one harvest snapshot.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"

	"score-cloud/internal/objstore"
	"score-cloud/internal/summary"

	"github.com/rs/zerolog/log"
)

type userRow struct {
	Name     string
	Score    int
	ErrorMsg string
}

type pageData struct {
	*summary.Snapshot
	DailyLimit int
	Exceeds    []userRow
	Normal     []userRow
	Errors     []userRow
}

// Writer renders daily reports into the report directory of the object store.
type Writer struct {
	store      objstore.Store
	reportDir  string
	dailyLimit int
}

// NewWriter creates a Writer under reportDir.
func NewWriter(store objstore.Store, reportDir string, dailyLimit int) *Writer {
	return &Writer{store: store, reportDir: reportDir, dailyLimit: dailyLimit}
}

// Write renders the snapshot and stores it as {date}.html plus a rolling
// latest.html copy.
func (w *Writer) Write(snap *summary.Snapshot) error {
	data := pageData{Snapshot: snap, DailyLimit: w.dailyLimit}
	for name, day := range snap.Users {
		row := userRow{Name: name, Score: day.Score, ErrorMsg: day.ErrorMsg}
		switch {
		case day.Error:
			data.Errors = append(data.Errors, row)
		case day.IsExceed:
			data.Exceeds = append(data.Exceeds, row)
		default:
			data.Normal = append(data.Normal, row)
		}
	}
	byScoreDesc := func(rows []userRow) {
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Score != rows[j].Score {
				return rows[i].Score > rows[j].Score
			}
			return rows[i].Name < rows[j].Name
		})
	}
	byScoreDesc(data.Exceeds)
	byScoreDesc(data.Normal)
	byScoreDesc(data.Errors)

	var buf bytes.Buffer
	if err := dailyTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render daily report: %w", err)
	}

	for _, name := range []string{snap.Date + ".html", "latest.html"} {
		path := w.reportDir + "/" + name
		_, rev, err := w.store.Get(path)
		if err != nil {
			return err
		}
		if _, err := w.store.Put(path, buf.Bytes(), rev); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	log.Info().Str("date", snap.Date).Int("exceeds", len(data.Exceeds)).Msg("Daily report written")
	return nil
}

var dailyTemplate = template.Must(template.New("daily").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Daily Score Report - {{.Date}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #eef0f6; margin: 0; padding: 24px; }
.container { max-width: 760px; margin: 0 auto; background: #fff; border-radius: 14px; padding: 28px; box-shadow: 0 8px 30px rgba(0,0,0,.12); }
h1 { text-align: center; margin: 0; } .date { text-align: center; color: #666; margin-bottom: 24px; }
.stats { display: grid; grid-template-columns: repeat(auto-fit, minmax(130px,1fr)); gap: 12px; margin-bottom: 24px; }
.stat { text-align: center; padding: 16px; border-radius: 10px; background: #667eea; color: #fff; }
.stat b { display: block; font-size: 30px; }
h2 { font-size: 17px; border-bottom: 2px solid #f0f0f0; padding-bottom: 8px; }
.row { display: flex; justify-content: space-between; padding: 12px 14px; border-radius: 8px; background: #f8f9fa; margin-bottom: 8px; }
.row.exceed { background: #ff4757; color: #fff; }
.row.error { background: #ffe0e0; color: #c00; }
.score { font-weight: bold; }
</style>
</head>
<body>
<div class="container">
  <h1>Daily Score Report</h1>
  <div class="date">{{.Date}} &middot; generated {{.GeneratedAt}}</div>

  <div class="stats">
    <div class="stat"><b>{{.TotalUsers}}</b>users</div>
    <div class="stat"><b>{{.ExceedCount}}</b>over limit</div>
    <div class="stat"><b>{{.NormalCount}}</b>normal</div>
    <div class="stat"><b>{{.FailCount}}</b>failed</div>
  </div>

  {{if .Exceeds}}
  <h2>Over the daily limit ({{.DailyLimit}})</h2>
  {{range .Exceeds}}<div class="row exceed"><span>{{.Name}}</span><span class="score">{{.Score}}</span></div>{{end}}
  {{end}}

  {{if .Normal}}
  <h2>Within limit</h2>
  {{range .Normal}}<div class="row"><span>{{.Name}}</span><span class="score">{{.Score}}</span></div>{{end}}
  {{end}}

  {{if .Errors}}
  <h2>Lookup failures</h2>
  {{range .Errors}}<div class="row error"><span>{{.Name}}</span><span>{{.ErrorMsg}}</span></div>{{end}}
  {{end}}
</div>
</body>
</html>
`))
