package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"score-cloud/internal/scoreapi"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Remote scoreapi.Config

	// Harvest behavior
	DailyLimit   int
	TargetDate   string
	TargetMonth  string
	ForceUpdate  bool
	ExtraUsers   string
	UserListFile string

	// Storage layout (logical paths inside the store)
	DataDir    string
	SummaryDir string
	ReportDir  string
	MonthlyDir string

	// Object-store overlay (empty owner/repo means local filesystem)
	GitHubToken  string
	GitHubOwner  string
	GitHubRepo   string
	GitHubBranch string

	// HTTP API
	HTTPAddr string
}

// Load loads the configuration from .env files and environment variables.
func Load() (*AppConfig, error) {
	// Prefer the executable's directory, then fall back to the working directory.
	if exePath, err := os.Executable(); err == nil {
		envPath := filepath.Join(filepath.Dir(exePath), ".env")
		if err := godotenv.Load(envPath); err == nil {
			log.Debug().Str("path", envPath).Msg("Loaded configuration from binary directory")
		}
	}
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found in working directory, relying on environment variables")
	}

	delayMs := getEnvInt("FETCH_DELAY", 800)

	cfg := &AppConfig{
		Remote: scoreapi.Config{
			BaseURL:          getEnv("API_BASE_URL", ""),
			PersonID:         getEnv("API_PERSON_ID", ""),
			Cookie:           getEnv("API_COOKIE", ""),
			RequestDelay:     time.Duration(delayMs) * time.Millisecond,
			PageSize:         getEnvInt("PAGE_SIZE", 100),
			MaxPage:          getEnvInt("MAX_PAGE", 10),
			MaxRetries:       getEnvInt("MAX_RETRIES", 3),
			DiscoverPageSize: getEnvInt("DISCOVER_PAGE_SIZE", 200),
			MaxDiscoverPages: getEnvInt("MAX_DISCOVER_PAGES", 15),
		},
		DailyLimit:   getEnvInt("DAILY_LIMIT", 45),
		TargetDate:   getEnv("TARGET_DATE", time.Now().Format("2006-01-02")),
		TargetMonth:  getEnv("TARGET_MONTH", ""),
		ForceUpdate:  getEnvBool("FORCE_UPDATE", false),
		ExtraUsers:   getEnv("EXTRA_USERS", ""),
		UserListFile: getEnv("USER_LIST_FILE", "user-list.txt"),
		DataDir:      getEnv("DATA_DIR", "data"),
		SummaryDir:   getEnv("SUMMARY_DIR", "daily-summary"),
		ReportDir:    getEnv("REPORT_DIR", "reports"),
		MonthlyDir:   getEnv("MONTHLY_DIR", "monthly-reports"),
		GitHubToken:  getEnv("GITHUB_TOKEN", ""),
		GitHubOwner:  getEnv("GITHUB_OWNER", ""),
		GitHubRepo:   getEnv("GITHUB_REPO", ""),
		GitHubBranch: getEnv("GITHUB_BRANCH", ""),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
	}

	return cfg, nil
}

// ValidateRemote checks the credentials required for any network harvest.
// A missing value aborts before the first request is issued.
func (c *AppConfig) ValidateRemote() error {
	if c.Remote.BaseURL == "" || c.Remote.PersonID == "" || c.Remote.Cookie == "" {
		return fmt.Errorf("missing required configuration: API_BASE_URL, API_PERSON_ID, API_COOKIE")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring non-numeric environment value")
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}
