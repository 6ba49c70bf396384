package scoreapi

import (
	"time"
)

// DiscoveredUser is one identity found by paging the remote ranking pools.
// It is an audit artifact, not an authoritative score source.
type DiscoveredUser struct {
	Name       string `json:"name"`
	PersonID   int64  `json:"remotePersonId"`
	Department string `json:"department"`
	Score      int    `json:"score"`
}

// Client is the interface for querying the remote scoring service.
type Client interface {
	// LookupScore returns the accumulated score for one person over the
	// date range. A remote roster is scanned in reported order and the first
	// row accepted by the name matcher wins. Zero is a legitimate score and
	// also the result when no row matches; callers cannot tell the two apart.
	LookupScore(name, beginDate, endDate string) (int, error)

	// DiscoverRoster enumerates every scored identity for the date across
	// both ranking pools. Duplicate display names are de-duplicated
	// last-write-wins, so the organization pool (scanned second) takes
	// priority on collision.
	DiscoverRoster(date string) ([]DiscoveredUser, error)
}

// Config holds the connection and paging settings for the scoring service.
type Config struct {
	BaseURL  string
	PersonID string
	Cookie   string

	RequestDelay     time.Duration
	PageSize         int
	MaxPage          int
	MaxRetries       int
	DiscoverPageSize int
	MaxDiscoverPages int
}

// NewClient creates a new scoring client based on the provided configuration.
func NewClient(cfg Config) Client {
	return newRemoteClient(cfg)
}
