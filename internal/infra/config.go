package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// Provider (RunPod-style serverless compute).
	RunpodEndpointID string
	RunpodAPIKey     string
	RunpodBaseURL    string

	// Webhook callback construction and authentication.
	PublicBaseURL     string
	WebhookSecret     string
	WebhookTokenParam string

	// Payload builder.
	ImageTransportMode string // "", "url" or "images"
	CheckpointName     string
	MaxRequestBytes    int64
	TemplateDir        string

	// Mock execution (no live provider).
	MockMode     bool
	MockJobDelay time.Duration
	MockDataTTL  time.Duration

	// Object store (bearer-token REST storage API).
	StorageBaseURL    string
	StorageServiceKey string

	// Downstream commerce write-back.
	ShopifyEnabled       bool
	ShopifyStoreDomain   string
	ShopifyAdminToken    string
	ShopifyAPIVersion    string
	ShopifyWebhookSecret string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string

	// Reconciler sweep.
	ReconcileInterval time.Duration
	ReconcileMinAge   time.Duration
	ReconcileBatch    int
}

// DefaultMaxRequestBytes caps the serialized provider submission at 10 MiB.
const DefaultMaxRequestBytes = 10 << 20

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RunpodEndpointID: os.Getenv("RUNPOD_ENDPOINT_ID"),
		RunpodAPIKey:     os.Getenv("RUNPOD_API_KEY"),
		RunpodBaseURL:    getEnv("RUNPOD_BASE_URL", "https://api.runpod.ai/v2"),

		PublicBaseURL:     os.Getenv("PUBLIC_BASE_URL"),
		WebhookSecret:     os.Getenv("RUNPOD_WEBHOOK_SECRET"),
		WebhookTokenParam: getEnv("RUNPOD_WEBHOOK_TOKEN_PARAM", "token"),

		ImageTransportMode: os.Getenv("RUNPOD_IMAGE_MODE"),
		CheckpointName:     os.Getenv("CHECKPOINT_NAME"),
		MaxRequestBytes:    getEnvInt64("RUNPOD_MAX_REQUEST_BYTES", DefaultMaxRequestBytes),
		TemplateDir:        getEnv("WORKFLOW_TEMPLATE_DIR", "templates"),

		MockMode:     getEnvBool("MOCK_RUNPOD", false),
		MockJobDelay: time.Millisecond * time.Duration(getEnvInt("MOCK_JOB_DELAY_MS", 4000)),
		MockDataTTL:  time.Second * time.Duration(getEnvInt("MOCK_DATA_TTL_SECONDS", 3600)),

		StorageBaseURL:    os.Getenv("SUPABASE_URL"),
		StorageServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),

		ShopifyEnabled:       getEnvBool("SHOPIFY_ENABLED", false),
		ShopifyStoreDomain:   os.Getenv("SHOPIFY_STORE_DOMAIN"),
		ShopifyAdminToken:    os.Getenv("SHOPIFY_ADMIN_TOKEN"),
		ShopifyAPIVersion:    getEnv("SHOPIFY_API_VERSION", "2024-10"),
		ShopifyWebhookSecret: os.Getenv("SHOPIFY_WEBHOOK_SECRET"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		ReconcileInterval: time.Second * time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 60)),
		ReconcileMinAge:   time.Second * time.Duration(getEnvInt("RECONCILE_MIN_AGE_SECONDS", 120)),
		ReconcileBatch:    getEnvInt("RECONCILE_BATCH_SIZE", 50),
	}

	if cfg.DatabaseURL == "" && !cfg.MockMode {
		return nil, fmt.Errorf("DATABASE_URL is required unless MOCK_RUNPOD=true")
	}

	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("RUNPOD_WEBHOOK_SECRET is required")
	}

	if !cfg.MockMode && (cfg.RunpodEndpointID == "" || cfg.RunpodAPIKey == "") {
		return nil, fmt.Errorf("RUNPOD_ENDPOINT_ID and RUNPOD_API_KEY are required unless MOCK_RUNPOD=true")
	}

	return cfg, nil
}

// StyleCheckpointOverride returns the per-style checkpoint env override, if set.
// The lookup key is the normalized style uppercased with separators collapsed
// to underscores, e.g. STYLE_OIL_PAINT_CHECKPOINT.
func StyleCheckpointOverride(styleKey string) string {
	return os.Getenv("STYLE_" + styleKey + "_CHECKPOINT")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
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

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
