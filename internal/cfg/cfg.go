package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
)

// Config holds the service-specific settings. It is composed in main with the
// go-core server, logging and profiling configs and filled from the
// environment with the WATCHTOWER_ prefix.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	TelegramToken      string
	TelegramAPIURL     string
	OperatorID         int64
	LibraryGroupID     int64
	WebhookURL         string
	WebhookSecret      string
	PollTimeoutSeconds int

	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GeminiAPIKey string
	GeminiModel  string
	ClaudeAPIKey string
	ClaudeModel  string

	SheetID               string
	SheetsCredentialsFile string

	CatalogFile string
	PollWorkers int
	PerFeed     int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 20, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 40, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token for /api/v1 (empty = API disabled)")

	fs.StringVar(&c.TelegramToken, "telegram-token", "", "Telegram bot token")
	fs.StringVar(&c.TelegramAPIURL, "telegram-api-url", "https://api.telegram.org", "Telegram Bot API base URL")
	fs.Int64Var(&c.OperatorID, "operator-id", 0, "Telegram user id allowed to operate the bot")
	fs.Int64Var(&c.LibraryGroupID, "library-group-id", 0, "Telegram group chat id for topic publishing (0 = disabled)")
	fs.StringVar(&c.WebhookURL, "webhook-url", "", "public URL Telegram posts updates to (empty = long polling)")
	fs.StringVar(&c.WebhookSecret, "webhook-secret", "", "secret token Telegram echoes in the webhook header")
	fs.IntVar(&c.PollTimeoutSeconds, "poll-timeout-seconds", 50, "getUpdates long-poll timeout (1..300)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = SQLite)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "watchtower.db", "SQLite database file (empty = in-memory store)")

	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for chat sessions (empty = in-process)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis database number")

	fs.StringVar(&c.GeminiAPIKey, "gemini-api-key", "", "API key for Gemini")
	fs.StringVar(&c.GeminiModel, "gemini-model", "gemini-2.0-flash", "Gemini model to use")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for Claude, used when no Gemini key is set")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")

	fs.StringVar(&c.SheetID, "sheet-id", "", "Google Sheets spreadsheet id for the library ledger (empty = disabled)")
	fs.StringVar(&c.SheetsCredentialsFile, "sheets-credentials-file", "", "service account JSON for Sheets (empty = application default credentials)")

	fs.StringVar(&c.CatalogFile, "catalog-file", "", "YAML file with buckets and feeds (empty = built-in)")
	fs.IntVar(&c.PollWorkers, "poll-workers", 4, "concurrent ingestions per poll cycle (1..32)")
	fs.IntVar(&c.PerFeed, "per-feed", 5, "newest entries taken from each feed per poll (1..50)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.TelegramToken == "" {
		errs = append(errs, errors.New("TELEGRAM_TOKEN is required"))
	}
	if c.OperatorID <= 0 {
		errs = append(errs, fmt.Errorf("invalid OPERATOR_ID %d (must be a positive Telegram user id)", c.OperatorID))
	}
	if err := checkURL(c.TelegramAPIURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid TELEGRAM_API_URL: %w", err))
	}

	// Webhook mode needs a secret so forged updates are rejected
	if c.WebhookURL != "" {
		if err := checkURL(c.WebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid WEBHOOK_URL: %w", err))
		}
		if c.WebhookSecret == "" {
			errs = append(errs, errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set"))
		}
	}
	if c.PollTimeoutSeconds <= 0 || c.PollTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid POLL_TIMEOUT_SECONDS %d (must be 1..300)", c.PollTimeoutSeconds))
	}

	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must be >= 0)", c.RedisDB))
	}
	if c.GeminiAPIKey != "" && c.GeminiModel == "" {
		errs = append(errs, errors.New("GEMINI_MODEL is required when GEMINI_API_KEY is set"))
	}
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}
	if c.SheetsCredentialsFile != "" && c.SheetID == "" {
		errs = append(errs, errors.New("SHEET_ID is required when SHEETS_CREDENTIALS_FILE is set"))
	}

	if c.PollWorkers <= 0 || c.PollWorkers > 32 {
		errs = append(errs, fmt.Errorf("invalid POLL_WORKERS %d (must be 1..32)", c.PollWorkers))
	}
	if c.PerFeed <= 0 || c.PerFeed > 50 {
		errs = append(errs, fmt.Errorf("invalid PER_FEED %d (must be 1..50)", c.PerFeed))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// WebhookMode reports whether updates arrive by webhook rather than long polling.
func (c *Config) WebhookMode() bool {
	return c.WebhookURL != ""
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("scheme %q (must be http or https)", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}
