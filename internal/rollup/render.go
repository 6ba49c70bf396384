package rollup

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"

	"score-cloud/internal/objstore"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// utf8BOM makes spreadsheet applications detect the CSV encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// rankingCap limits the HTML ranking table; the JSON rendering always
// carries everyone.
const rankingCap = 50

// Renderer writes a report's three renderings under the monthly-reports
// directory of the object store.
type Renderer struct {
	store      objstore.Store
	monthlyDir string
	dailyLimit int
}

// NewRenderer creates a Renderer writing under monthlyDir.
func NewRenderer(store objstore.Store, monthlyDir string, dailyLimit int) *Renderer {
	return &Renderer{store: store, monthlyDir: monthlyDir, dailyLimit: dailyLimit}
}

// Write renders and persists the JSON, HTML and CSV forms of the report.
// The renderings are independent, so they are produced concurrently.
func (r *Renderer) Write(report *Report) error {
	var g errgroup.Group

	g.Go(func() error {
		content, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		return r.put(report.YearMonth+".json", content)
	})
	g.Go(func() error {
		content, err := r.renderHTML(report)
		if err != nil {
			return err
		}
		return r.put(report.YearMonth+".html", content)
	})
	g.Go(func() error {
		return r.put(report.YearMonth+".csv", renderCSV(report))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Str("yearMonth", report.YearMonth).Str("dir", r.monthlyDir).Msg("Monthly report renderings written")
	return nil
}

// put overwrites the rendering unconditionally; reports are regenerated
// wholesale on every run.
func (r *Renderer) put(name string, content []byte) error {
	path := r.monthlyDir + "/" + name
	_, rev, err := r.store.Get(path)
	if err != nil {
		return err
	}
	if _, err := r.store.Put(path, content, rev); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func renderCSV(report *Report) []byte {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"Rank", "Name", "TotalScore", "AvgScore", "ActiveDays", "ExceedDays", "MaxScore", "MinScore"})
	for _, u := range report.Users {
		_ = w.Write([]string{
			strconv.Itoa(u.Rank),
			u.UserName,
			strconv.Itoa(u.TotalScore),
			strconv.FormatFloat(u.AvgScore, 'f', -1, 64),
			strconv.Itoa(u.TotalDays),
			strconv.Itoa(u.ExceedDays),
			strconv.Itoa(u.MaxScore),
			strconv.Itoa(u.MinScore),
		})
	}
	w.Flush()
	return buf.Bytes()
}

type htmlData struct {
	*Report
	DailyLimit int
	TopUsers   []UserStat
	GridDates  []string
}

func (r *Renderer) renderHTML(report *Report) ([]byte, error) {
	data := htmlData{
		Report:     report,
		DailyLimit: r.dailyLimit,
	}
	data.TopUsers = report.Users
	if len(data.TopUsers) > rankingCap {
		data.TopUsers = data.TopUsers[:rankingCap]
	}
	for _, day := range report.DailyAvailability {
		if day.HasData {
			data.GridDates = append(data.GridDates, day.Date)
		}
	}

	var buf bytes.Buffer
	if err := monthlyTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML report: %w", err)
	}
	return buf.Bytes(), nil
}

var monthlyTemplate = template.Must(template.New("monthly").Funcs(template.FuncMap{
	"scoreAt": func(u UserStat, date string) int { return u.DailyScores[date] },
	"dayOf":   func(date string) string { return date[8:] },
	"status": func(exceedDays int) string {
		switch {
		case exceedDays >= highRiskThreshold:
			return "high-risk"
		case exceedDays > 0:
			return "warning"
		default:
			return "ok"
		}
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Monthly Report - {{.YearMonth}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #f4f5f7; margin: 0; padding: 24px; }
.container { max-width: 1100px; margin: 0 auto; }
.card { background: #fff; border-radius: 12px; padding: 20px; margin-bottom: 20px; box-shadow: 0 1px 4px rgba(0,0,0,.08); }
h1 { margin: 0 0 4px; } .muted { color: #666; font-size: 14px; }
.stats { display: grid; grid-template-columns: repeat(auto-fit, minmax(140px,1fr)); gap: 12px; }
.stat { text-align: center; padding: 12px; border-radius: 8px; background: #f8f9fa; }
.stat b { display: block; font-size: 28px; }
table { width: 100%; border-collapse: collapse; font-size: 14px; }
th, td { padding: 8px 10px; text-align: left; border-bottom: 1px solid #eee; }
td.num, th.num { text-align: right; }
.calendar { display: grid; grid-template-columns: repeat(7, 1fr); gap: 6px; }
.day { text-align: center; padding: 6px; border-radius: 6px; background: #f1f1f1; color: #999; font-size: 12px; }
.day.has-data { background: #e6f6ea; color: #1d7a36; }
.badge { padding: 2px 8px; border-radius: 10px; font-size: 12px; color: #fff; }
.badge.ok { background: #2ed573; } .badge.warning { background: #ffa502; } .badge.high-risk { background: #ff4757; }
td.exceed { background: #ff4757; color: #fff; font-weight: bold; }
</style>
</head>
<body>
<div class="container">
  <div class="card">
    <h1>Monthly Report {{.YearMonth}}</h1>
    <div class="muted">Data coverage: {{.DataDays}}/{{.TotalDays}} days &middot; Generated {{.GeneratedAt}}</div>
  </div>

  <div class="card stats">
    <div class="stat"><b>{{.TotalUsers}}</b>Users</div>
    <div class="stat"><b>{{.Statistics.PerfectUsers}}</b>No exceed days</div>
    <div class="stat"><b>{{.Statistics.HighRiskUsers}}</b>High risk (&ge;5 days)</div>
    <div class="stat"><b>{{.Statistics.AvgTotalScore}}</b>Avg total score</div>
  </div>

  <div class="card">
    <h3>Data coverage</h3>
    <div class="calendar">
      {{range .DailyAvailability}}<div class="day{{if .HasData}} has-data{{end}}">{{dayOf .Date}}<br>{{if .HasData}}&#10003;{{else}}-{{end}}</div>{{end}}
    </div>
  </div>

  <div class="card">
    <h3>Ranking{{if gt .TotalUsers 50}} (top 50){{end}}</h3>
    <table>
      <tr><th class="num">#</th><th>Name</th><th class="num">Total</th><th class="num">Avg</th><th class="num">Days</th><th class="num">Exceed</th><th class="num">Max</th><th>Status</th></tr>
      {{range .TopUsers}}
      <tr>
        <td class="num">{{.Rank}}</td>
        <td>{{.UserName}}</td>
        <td class="num">{{.TotalScore}}</td>
        <td class="num">{{.AvgScore}}</td>
        <td class="num">{{.TotalDays}}</td>
        <td class="num">{{.ExceedDays}}</td>
        <td class="num">{{.MaxScore}}</td>
        <td><span class="badge {{status .ExceedDays}}">{{status .ExceedDays}}</span></td>
      </tr>
      {{end}}
    </table>
  </div>

  <div class="card">
    <h3>Daily scores</h3>
    <table>
      <tr><th>Name</th>{{range .GridDates}}<th class="num">{{dayOf .}}</th>{{end}}</tr>
      {{range .Users}}
      <tr>
        <td>{{.UserName}}</td>
        {{$u := .}}
        {{range $.GridDates}}{{$score := scoreAt $u .}}<td class="num{{if gt $score $.DailyLimit}} exceed{{end}}">{{if gt $score 0}}{{$score}}{{else}}-{{end}}</td>{{end}}
      </tr>
      {{end}}
    </table>
  </div>
</div>
</body>
</html>
`))
