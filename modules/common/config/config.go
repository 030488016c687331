package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// SignatureMode - 콜백 서명 검증 방식
type SignatureMode string

const (
	SignatureUnverified SignatureMode = "unverified"
	SignatureHMACSHA256 SignatureMode = "hmac-sha256"
)

// Storage backends
const (
	StorageSupabase = "supabase"
	StorageS3       = "s3"
	StorageMemory   = "memory"
)

// Data backends
const (
	DataSupabase = "supabase"
	DataMemory   = "memory"
)

// Thumbnail formats
const (
	ThumbnailFormatOriginal = "original"
	ThumbnailFormatWebP     = "webp"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Server
	Port        string
	Environment string
	AppURL      string

	// Redis
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Supabase
	DataBackend        string
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseJWTSecret  string

	// Storage
	StorageBackend    string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	S3Region          string
	S3UseSSL          bool
	S3PublicBaseURL   string
	BucketBackgrounds string
	BucketThumbnails  string
	BucketPortraits   string
	UploadURLExpiry   time.Duration

	// Orchestrator (n8n)
	OrchestratorWebhookURL string
	OrchestratorTimeout    time.Duration
	CallbackSignatureMode  SignatureMode
	CallbackSecret         string
	CallbackUpsertItems    bool
	ThumbnailFormat        string
	WebPQuality            float32
	ImageDownloadTimeout   time.Duration

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePricePro      string
	StripePriceAgency   string

	// Quota
	AdminEmails   []string
	QuotaLocation *time.Location

	// Reaper
	ReaperSchedule   string
	ReaperStaleAfter time.Duration
}

var globalConfig *Config

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("⚠️  .env file not found, using environment variables")
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	globalConfig = cfg

	log.Info().Msg("✅ Configuration loaded successfully")
	log.Info().Msgf("   Data: %s, Storage: %s", cfg.DataBackend, cfg.StorageBackend)
	log.Info().Msgf("   Redis: %s (enabled: %v, TLS: %v)", cfg.GetRedisAddr(), cfg.RedisEnabled, cfg.RedisUseTLS)
	log.Info().Msgf("   Callback signature: %s", cfg.CallbackSignatureMode)
	log.Info().Msgf("   Admins: %d", len(cfg.AdminEmails))

	return cfg, nil
}

// FromEnv - 환경변수에서 Config 생성 (.env 로드 없음)
func FromEnv() (*Config, error) {
	location := time.Local
	if tz := getEnv("QUOTA_TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("QUOTA_TIMEZONE: %w", err)
		}
		location = loc
	}

	cfg := &Config{
		// Server
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("APP_ENV", "development"),
		AppURL:      strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),

		// Redis
		RedisEnabled:  getBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getBool("REDIS_USE_TLS", false),

		// Supabase
		DataBackend:        getEnv("DATA_BACKEND", DataSupabase),
		SupabaseURL:        strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseServiceKey: firstEnv("SUPABASE_SERVICE_KEY", "SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),

		// Storage
		StorageBackend:    getEnv("STORAGE_BACKEND", StorageSupabase),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3UseSSL:          getBool("S3_USE_SSL", true),
		S3PublicBaseURL:   strings.TrimRight(getEnv("S3_PUBLIC_BASE_URL", ""), "/"),
		BucketBackgrounds: getEnv("BUCKET_BACKGROUNDS", "backgrounds"),
		BucketThumbnails:  getEnv("BUCKET_THUMBNAILS", "thumbnails"),
		BucketPortraits:   getEnv("BUCKET_PORTRAITS", "portraits"),
		UploadURLExpiry:   getDuration("UPLOAD_URL_EXPIRY", 2*time.Hour),

		// Orchestrator
		OrchestratorWebhookURL: getEnv("N8N_WEBHOOK_URL", ""),
		OrchestratorTimeout:    getDuration("N8N_TIMEOUT", 30*time.Second),
		CallbackSecret:         getEnv("N8N_WEBHOOK_SECRET", ""),
		CallbackUpsertItems:    getBool("CALLBACK_UPSERT_THUMBNAILS", false),
		ThumbnailFormat:        getEnv("THUMBNAIL_FORMAT", ThumbnailFormatOriginal),
		WebPQuality:            float32(getInt("WEBP_QUALITY", 90)),
		ImageDownloadTimeout:   getDuration("IMAGE_DOWNLOAD_TIMEOUT", 60*time.Second),

		// Stripe
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePricePro:      getEnv("STRIPE_PRICE_PRO", ""),
		StripePriceAgency:   getEnv("STRIPE_PRICE_AGENCY", ""),

		// Quota
		AdminEmails:   parseList(getEnv("ADMIN_EMAILS", ""), getEnv("ADMIN_EMAIL", "")),
		QuotaLocation: location,

		// Reaper
		ReaperSchedule:   getEnv("REAPER_SCHEDULE", "@every 5m"),
		ReaperStaleAfter: getDuration("REAPER_STALE_AFTER", 30*time.Minute),
	}

	mode, err := ResolveSignatureMode(getEnv("CALLBACK_SIGNATURE_MODE", ""), cfg.CallbackSecret)
	if err != nil {
		return nil, err
	}
	cfg.CallbackSignatureMode = mode

	// 필수 환경변수 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveSignatureMode - 명시적 모드가 우선, 없으면 시크릿 유무로 결정
func ResolveSignatureMode(explicit string, secret string) (SignatureMode, error) {
	switch SignatureMode(strings.ToLower(strings.TrimSpace(explicit))) {
	case "":
		if secret != "" {
			return SignatureHMACSHA256, nil
		}
		return SignatureUnverified, nil
	case SignatureUnverified:
		return SignatureUnverified, nil
	case SignatureHMACSHA256:
		if secret == "" {
			return "", fmt.Errorf("CALLBACK_SIGNATURE_MODE=%s requires N8N_WEBHOOK_SECRET", SignatureHMACSHA256)
		}
		return SignatureHMACSHA256, nil
	default:
		return "", fmt.Errorf("unknown CALLBACK_SIGNATURE_MODE: %q", explicit)
	}
}

// GetConfig - 로드된 설정 가져오기
func GetConfig() *Config {
	if globalConfig == nil {
		log.Fatal().Msg("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	switch c.DataBackend {
	case DataSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required")
		}
		if c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
		}
	case DataMemory:
	default:
		return fmt.Errorf("unknown DATA_BACKEND: %q", c.DataBackend)
	}

	switch c.StorageBackend {
	case StorageSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required for supabase storage")
		}
	case StorageS3:
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY are required for s3 storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND: %q", c.StorageBackend)
	}

	if c.ThumbnailFormat != ThumbnailFormatOriginal && c.ThumbnailFormat != ThumbnailFormatWebP {
		return fmt.Errorf("unknown THUMBNAIL_FORMAT: %q", c.ThumbnailFormat)
	}
	if c.ReaperStaleAfter <= 0 {
		return fmt.Errorf("REAPER_STALE_AFTER must be positive")
	}
	return nil
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// CallbackURL - 오케스트레이터가 결과를 보낼 주소
func (c *Config) CallbackURL() string {
	return c.AppURL + "/api/webhooks/n8n-callback"
}

// IsProduction - 운영 환경 여부
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getBool(key string, defaultValue bool) bool {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", raw).Msg("⚠️  Invalid boolean, using default")
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", raw).Msg("⚠️  Invalid integer, using default")
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", raw).Msg("⚠️  Invalid duration, using default")
	}
	return defaultValue
}

// parseList - 콤마 구분 목록을 합치고 정규화 (소문자, 중복 제거)
func parseList(values ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			item = strings.ToLower(strings.TrimSpace(item))
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
