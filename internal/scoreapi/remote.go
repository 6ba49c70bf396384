package scoreapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Scope filters understood by the ranking endpoint.
const (
	scopeDepartment   = 1 // the querying principal's own department pool
	scopeOrganization = 0 // the whole organization pool
)

const rankingEndpoint = "/ArchiveManger/D_PersonAccumulate/GetAccumulateRankingListOne"

// interPageDelay paces consecutive pages within one paging sweep. The
// per-user courtesy delay between lookups is the harvester's concern.
const interPageDelay = 100 * time.Millisecond

type remoteClient struct {
	cfg        Config
	httpClient *http.Client

	// Overridable in tests to avoid real sleeps.
	sleep       func(time.Duration)
	backoffUnit time.Duration
}

func newRemoteClient(cfg Config) *remoteClient {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPage <= 0 {
		cfg.MaxPage = 10
	}
	if cfg.DiscoverPageSize <= 0 {
		cfg.DiscoverPageSize = 200
	}
	if cfg.MaxDiscoverPages <= 0 {
		cfg.MaxDiscoverPages = 15
	}
	return &remoteClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		sleep:       time.Sleep,
		backoffUnit: time.Second,
	}
}

// rankingRow is one row of the remote accumulated-ranking response.
type rankingRow struct {
	PersonName string `json:"PersonName"`
	PersonID   int64  `json:"PersonId"`
	DeptName   string `json:"DeptName"`
	AllCount   int    `json:"AllCount"`
}

type rankingResponse struct {
	Data []rankingRow `json:"data"`
}

// encodeField applies the remote system's home-grown field obfuscation:
// each character's decimal code point concatenated, a caret, then the
// comma-joined digit counts of those code points. The form encoder owns
// the URL escaping; escaping here too would double-encode the caret.
func encodeField(value string) string {
	if value == "" {
		return ""
	}
	var codes strings.Builder
	var lengths []string
	for _, r := range value {
		code := strconv.Itoa(int(r))
		codes.WriteString(code)
		lengths = append(lengths, strconv.Itoa(len(code)))
	}
	return codes.String() + "^" + strings.Join(lengths, ",")
}

// request posts one form-encoded query with the transport-retry policy:
// up to MaxRetries retries with linear backoff, retrying transport failures
// and 5xx responses. Other non-2xx statuses are returned to the caller as-is.
func (c *remoteClient) request(form url.Values) (*rankingResponse, error) {
	reqURL := c.cfg.BaseURL + rankingEndpoint

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * c.backoffUnit
			log.Warn().Err(lastErr).Int("attempt", attempt).Int("max", c.cfg.MaxRetries).Dur("backoff", wait).Msg("Retrying ranking request")
			c.sleep(wait)
		}

		resp, err := c.doOnce(reqURL, form)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var re *requestError
		if errors.As(err, &re) && !re.retryable {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *remoteClient) doOnce(reqURL string, form url.Values) (*rankingResponse, error) {
	req, err := http.NewRequest(http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &requestError{err: err, retryable: false}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", c.cfg.Cookie)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &requestError{err: err, retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &requestError{
			err:       fmt.Errorf("ranking API returned HTTP %d", resp.StatusCode),
			retryable: resp.StatusCode >= 500,
		}
	}

	// The remote signals soft errors in a 200 body by omitting the data
	// array; that decodes to an empty response and is validated by callers,
	// never auto-retried here.
	var result rankingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &requestError{err: fmt.Errorf("failed to decode ranking response: %w", err), retryable: false}
	}

	return &result, nil
}

func (c *remoteClient) queryForm(scope, page, rows int, begin, end string) url.Values {
	form := url.Values{}
	form.Set("pid", encodeField(c.cfg.PersonID))
	form.Set("page", strconv.Itoa(page))
	form.Set("rows", strconv.Itoa(rows))
	form.Set("begin", encodeField(begin))
	form.Set("end", encodeField(end))
	form.Set("type", strconv.Itoa(scope))
	return form
}

// lookupInScope pages through one scope looking for the first row the name
// matcher accepts. Returns 0 when no page yields a match or when a page comes
// back short of the requested row count (end of data).
func (c *remoteClient) lookupInScope(name string, scope int, begin, end string) (int, error) {
	for page := 1; page <= c.cfg.MaxPage; page++ {
		if page > 1 {
			c.sleep(interPageDelay)
		}
		res, err := c.request(c.queryForm(scope, page, c.cfg.PageSize, begin, end))
		if err != nil {
			return 0, err
		}
		if len(res.Data) == 0 {
			return 0, nil
		}

		for _, row := range res.Data {
			if row.PersonName == "" {
				continue
			}
			if Matches(name, row.PersonName) {
				log.Debug().Str("name", name).Str("matched", row.PersonName).Int("score", row.AllCount).Int("scope", scope).Msg("Found user score")
				return row.AllCount, nil
			}
		}

		if len(res.Data) < c.cfg.PageSize {
			return 0, nil
		}
	}
	return 0, nil
}

// LookupScore queries the department pool first and falls back to the
// organization pool if that yields nothing.
func (c *remoteClient) LookupScore(name, beginDate, endDate string) (int, error) {
	score, err := c.lookupInScope(name, scopeDepartment, beginDate, endDate)
	if err != nil {
		return 0, err
	}
	if score > 0 {
		return score, nil
	}
	return c.lookupInScope(name, scopeOrganization, beginDate, endDate)
}

// maxEmptyPages is how many consecutive empty pages a discovery sweep
// tolerates before giving up on a scope. Some deployments return empty
// pages mid-listing instead of a short page.
const maxEmptyPages = 3

// DiscoverRoster pages both scopes, accumulating identities keyed by display
// name. A page failure abandons only the remaining pages of that scope.
func (c *remoteClient) DiscoverRoster(date string) ([]DiscoveredUser, error) {
	byName := make(map[string]DiscoveredUser)
	var order []string

	for _, scope := range []int{scopeDepartment, scopeOrganization} {
		emptyStreak := 0
		for page := 1; page <= c.cfg.MaxDiscoverPages; page++ {
			if page > 1 {
				c.sleep(interPageDelay)
			}
			res, err := c.request(c.queryForm(scope, page, c.cfg.DiscoverPageSize, date, date))
			if err != nil {
				log.Warn().Err(err).Int("scope", scope).Int("page", page).Msg("Discovery page failed, abandoning scope")
				break
			}

			if len(res.Data) == 0 {
				emptyStreak++
				if emptyStreak >= maxEmptyPages {
					break
				}
				continue
			}
			emptyStreak = 0

			for _, row := range res.Data {
				if row.PersonName == "" {
					continue
				}
				if _, seen := byName[row.PersonName]; !seen {
					order = append(order, row.PersonName)
				}
				// Last write wins: on a name collision the organization
				// scope (scanned second) silently replaces the department
				// scope's score.
				byName[row.PersonName] = DiscoveredUser{
					Name:       row.PersonName,
					PersonID:   row.PersonID,
					Department: row.DeptName,
					Score:      row.AllCount,
				}
			}

			if len(res.Data) < c.cfg.DiscoverPageSize {
				break
			}
		}
	}

	users := make([]DiscoveredUser, 0, len(order))
	for _, name := range order {
		users = append(users, byName[name])
	}
	log.Info().Int("count", len(users)).Str("date", date).Msg("Roster discovery complete")
	return users, nil
}
