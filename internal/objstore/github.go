package objstore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// GitHubStore persists files through the GitHub contents API, so the data
// repository doubles as its own audit trail. The revision token is the blob
// SHA the API reports; conditional updates send it back and GitHub rejects
// stale ones.
type GitHubStore struct {
	apiBase    string
	owner      string
	repo       string
	branch     string
	token      string
	httpClient *http.Client
}

// GitHubConfig configures a GitHubStore.
type GitHubConfig struct {
	Owner  string
	Repo   string
	Branch string // empty means the repository default
	Token  string

	// APIBase overrides https://api.github.com, used by tests.
	APIBase string
}

// NewGitHubStore creates a store backed by the given repository.
func NewGitHubStore(cfg GitHubConfig) *GitHubStore {
	base := cfg.APIBase
	if base == "" {
		base = "https://api.github.com"
	}
	return &GitHubStore{
		apiBase: base,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  cfg.Branch,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type contentsResponse struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

func (s *GitHubStore) contentsURL(path string) string {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.apiBase, s.owner, s.repo, path)
	if s.branch != "" {
		u += "?ref=" + url.QueryEscape(s.branch)
	}
	return u
}

func (s *GitHubStore) do(method, reqURL string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if s.token != "" {
		req.Header.Set("Authorization", "token "+s.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.httpClient.Do(req)
}

func (s *GitHubStore) Get(path string) ([]byte, string, error) {
	resp, err := s.do(http.MethodGet, s.contentsURL(path), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return emptyObject, "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("contents API returned HTTP %d for %s", resp.StatusCode, path)
	}

	var cr contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, "", fmt.Errorf("failed to decode contents response for %s: %w", path, err)
	}

	// The API base64-encodes file bodies with embedded newlines.
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(cr.Content, "\n", ""))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode content of %s: %w", path, err)
	}

	return decoded, cr.SHA, nil
}

func (s *GitHubStore) Put(path string, content []byte, expectedRevision string) (string, error) {
	payload := map[string]string{
		"message": fmt.Sprintf("Update %s at %s", path, time.Now().UTC().Format(time.RFC3339)),
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if expectedRevision != "" {
		payload["sha"] = expectedRevision
	}
	if s.branch != "" {
		payload["branch"] = s.branch
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	reqURL := fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.apiBase, s.owner, s.repo, path)
	resp, err := s.do(http.MethodPut, reqURL, body)
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		// fall through to decode
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// 409 for branch races, 422 for a stale or missing sha.
		log.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("Conditional write rejected")
		return "", ErrConflict
	default:
		return "", fmt.Errorf("contents API returned HTTP %d writing %s", resp.StatusCode, path)
	}

	var result struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode write response for %s: %w", path, err)
	}

	log.Debug().Str("path", path).Str("sha", result.Content.SHA).Msg("File committed")
	return result.Content.SHA, nil
}

func (s *GitHubStore) List(dir string) ([]string, error) {
	resp, err := s.do(http.MethodGet, s.contentsURL(dir), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("contents API returned HTTP %d listing %s", resp.StatusCode, dir)
	}

	var entries []contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode listing of %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.Type == "file" {
			names = append(names, e.Name)
		}
	}
	return names, nil
}
