package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// лимиты
	DailyLimit          int
	MaxPagesPerDocument int
	MaxPagesAtHighDPI   int
	HighDPIThreshold    int
	MaxDocumentsPerJob  int
	MaxDPI              int
	DefaultDPI          int
	MaxUploadBytes      int64
	RateLimitPerMinute  int
	MaxConcurrentJobs   int64

	MaskThreshold uint8

	QuotaTimezone     *time.Location
	QuotaCommitPolicy string
	VIPPasswords      []string

	QuotaStore    string
	DatabaseURL   string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Renderer string
	TmpDir   string

	ArchiveDelivery string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3Region        string
	S3URLTTL        time.Duration

	AdminBotToken string
	AdminChatID   int64
}

// Load читает .env (если есть) и переменные окружения.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		Port:              getEnv("PORT", "8080"),
		QuotaCommitPolicy: getEnv("QUOTA_COMMIT_POLICY", "job"),
		VIPPasswords:      SplitPasswords(os.Getenv("VIP_PASSWORD")),
		QuotaStore:        getEnv("QUOTA_STORE", "memory"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getEnv("SQLITE_PATH", "quota.db"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		Renderer:          getEnv("RENDERER", "poppler"),
		TmpDir:            getEnv("TMP_DIR", os.TempDir()),
		ArchiveDelivery:   getEnv("ARCHIVE_DELIVERY", "inline"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3Region:          os.Getenv("S3_REGION"),
		AdminBotToken:     os.Getenv("ADMIN_BOT_TOKEN"),
	}

	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"DAILY_LIMIT", 3, &c.DailyLimit},
		{"MAX_PAGES_PER_DOCUMENT", 50, &c.MaxPagesPerDocument},
		{"MAX_PAGES_HIGH_DPI", 10, &c.MaxPagesAtHighDPI},
		{"HIGH_DPI_THRESHOLD", 300, &c.HighDPIThreshold},
		{"MAX_DOCUMENTS_PER_JOB", 10, &c.MaxDocumentsPerJob},
		{"MAX_DPI", 600, &c.MaxDPI},
		{"DEFAULT_DPI", 150, &c.DefaultDPI},
		{"RATE_LIMIT_PER_MINUTE", 30, &c.RateLimitPerMinute},
		{"REDIS_DB", 0, &c.RedisDB},
	}
	for _, it := range ints {
		v, err := getInt(it.key, it.fallback)
		if err != nil {
			return nil, err
		}
		*it.dst = v
	}

	jobs, err := getInt("MAX_CONCURRENT_JOBS", 2)
	if err != nil {
		return nil, err
	}
	c.MaxConcurrentJobs = int64(jobs)

	uploadMB, err := getInt("MAX_UPLOAD_MB", 100)
	if err != nil {
		return nil, err
	}
	c.MaxUploadBytes = int64(uploadMB) << 20

	threshold, err := getInt("MASK_THRESHOLD", 245)
	if err != nil {
		return nil, err
	}
	if threshold < 0 || threshold > 255 {
		return nil, fmt.Errorf("MASK_THRESHOLD must be within 0..255, got %d", threshold)
	}
	c.MaskThreshold = uint8(threshold)

	loc, err := time.LoadLocation(getEnv("QUOTA_TIMEZONE", "Asia/Tokyo"))
	if err != nil {
		return nil, fmt.Errorf("QUOTA_TIMEZONE: %w", err)
	}
	c.QuotaTimezone = loc

	ttl, err := time.ParseDuration(getEnv("S3_URL_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("S3_URL_TTL: %w", err)
	}
	c.S3URLTTL = ttl

	if raw := os.Getenv("ADMIN_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_CHAT_ID: %w", err)
		}
		c.AdminChatID = id
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch {
	case c.DailyLimit < 0:
		return fmt.Errorf("DAILY_LIMIT must not be negative")
	case c.MaxPagesPerDocument < 1 || c.MaxPagesAtHighDPI < 1:
		return fmt.Errorf("page caps must be positive")
	case c.MaxDocumentsPerJob < 1:
		return fmt.Errorf("MAX_DOCUMENTS_PER_JOB must be positive")
	case c.DefaultDPI < 1 || c.DefaultDPI > c.MaxDPI:
		return fmt.Errorf("DEFAULT_DPI must be within 1..%d", c.MaxDPI)
	case c.MaxConcurrentJobs < 1:
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive")
	}
	switch c.QuotaCommitPolicy {
	case "job", "document":
	default:
		return fmt.Errorf("unknown QUOTA_COMMIT_POLICY %q", c.QuotaCommitPolicy)
	}
	return nil
}

// SplitPasswords разбирает список паролей через запятую, пустые отбрасывает.
func SplitPasswords(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
