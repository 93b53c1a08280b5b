package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	ServerPort string
	FeedSecret string

	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	PageCap        int
	RowsPerPage    int
	FetchTimeoutS  int

	FreeListingLimit int

	ImageStoreDir   string
	ImageBaseURL    string
	RawSnapshotPath string
	SourcesFile     string

	IngestCron  string
	AdminEmails []string
	SMTPHost    string
	SMTPPort    string
	SMTPFrom    string

	ChromeBin string
	Verbose   bool
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "carmarket"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "carmarket123"),
		PostgresDB:       getEnv("POSTGRES_DB", "carmarket_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		FeedSecret: getEnv("FEED_SECRET", ""),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 1500),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		PageCap:        getEnvInt("PAGE_CAP", 25),
		RowsPerPage:    getEnvInt("ROWS_PER_PAGE", 50),
		FetchTimeoutS:  getEnvInt("FETCH_TIMEOUT_S", 45),

		FreeListingLimit: getEnvInt("FREE_LISTING_LIMIT", 5),

		ImageStoreDir:   getEnv("IMAGE_STORE_DIR", "./data/images"),
		ImageBaseURL:    getEnv("IMAGE_BASE_URL", "/media/listings"),
		RawSnapshotPath: getEnv("RAW_SNAPSHOT_PATH", ""),
		SourcesFile:     getEnv("SOURCES_FILE", "./sources.yaml"),

		IngestCron:  getEnv("INGEST_CRON", ""),
		AdminEmails: splitList(getEnv("ADMIN_EMAILS", "")),
		SMTPHost:    getEnv("SMTP_HOST", ""),
		SMTPPort:    getEnv("SMTP_PORT", "587"),
		SMTPFrom:    getEnv("SMTP_FROM", "ingest@carmarket.local"),

		ChromeBin: getEnv("CHROME_BIN", ""),
		Verbose:   getEnv("VERBOSE", "") != "",
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
