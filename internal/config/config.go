package config

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/qepting91/skeet-sweeper/internal/collector"
)

type Config struct {
	Handle      string
	Password    string
	Host        string
	Mode        string
	LogFormat   string
	ArchiveDir  string
	ActionLog   string
	DomainsFile string

	ResumeBackend string
	ResumePath    string

	ViralThreshold int
	StaleDays      int
	StaleBoostDays int
	Domains        string
	LikesCursor    string
	MaxPages       int

	Verbose     bool
	VeryVerbose bool
	AutoConfirm bool
	SkipArchive bool
	DryRun      bool
}

func Load() *Config {
	return &Config{
		Handle:        getEnv("BSKY_HANDLE", ""),
		Password:      getEnv("BSKY_PASSWORD", ""),
		Host:          getEnv("BSKY_PDS_HOST", collector.DefaultHost),
		Mode:          getEnv("COLLECTOR_MODE", "api"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		ArchiveDir:    getEnv("ARCHIVE_DIR", "archive"),
		ActionLog:     getEnv("ACTION_LOG", ""),
		DomainsFile:   getEnv("PROTECTED_DOMAINS_FILE", ""),
		ResumeBackend: getEnv("RESUME_BACKEND", "file"),
		ResumePath:    getEnv("RESUME_PATH", "resume_state.json"),
		MaxPages:      getEnvAsInt("MAX_PAGES", 0),
		SkipArchive:   getEnvAsBool("SKIP_ARCHIVE", false),
	}
}

// RegisterFlags binds command line flags to c. Values already loaded from the
// environment become the flag defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Handle, "u", c.Handle, "Bluesky username")
	fs.StringVar(&c.Password, "p", c.Password, "Bluesky password")
	fs.IntVar(&c.ViralThreshold, "l", c.ViralThreshold, "repost count at which a post is deleted (0 disables)")
	fs.IntVar(&c.StaleDays, "s", c.StaleDays, "age in days after which posts and likes are stale (0 disables)")
	fs.IntVar(&c.StaleBoostDays, "b", c.StaleBoostDays, "age in days after which reposts are removed (0 disables)")
	fs.StringVar(&c.Domains, "d", c.Domains, "comma separated list of domains to protect")
	fs.StringVar(&c.DomainsFile, "domains-file", c.DomainsFile, "CSV file of domains to protect")
	fs.StringVar(&c.LikesCursor, "c", c.LikesCursor, "likes cursor to start from")
	fs.IntVar(&c.MaxPages, "max-pages", c.MaxPages, "pages fetched per collection per run (0 is unlimited)")
	fs.BoolVar(&c.Verbose, "v", c.Verbose, "show cursor progress")
	fs.BoolVar(&c.VeryVerbose, "vv", c.VeryVerbose, "show every item")
	fs.BoolVar(&c.AutoConfirm, "y", c.AutoConfirm, "skip confirmation prompts")
	fs.BoolVar(&c.SkipArchive, "skip-archive", c.SkipArchive, "do not archive the account first")
	fs.BoolVar(&c.DryRun, "dry-run", c.DryRun, "classify only, change nothing")
}

// Normalize clamps negative thresholds to zero and checks credentials
func (c *Config) Normalize() error {
	c.ViralThreshold = max(0, c.ViralThreshold)
	c.StaleDays = max(0, c.StaleDays)
	c.StaleBoostDays = max(0, c.StaleBoostDays)
	c.MaxPages = max(0, c.MaxPages)
	if c.Mode != "mock" && (c.Handle == "" || c.Password == "") {
		return errors.New("username and password are required")
	}
	return nil
}

// Verbosity maps -v / -vv to 0, 1 or 2
func (c *Config) Verbosity() int {
	switch {
	case c.VeryVerbose:
		return 2
	case c.Verbose:
		return 1
	default:
		return 0
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
