package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/inkth/jifou/pkg/ai"
)

const (
	// ConfigPath is read when neither the caller nor JIFOU_CONFIG names a file.
	ConfigPath = "config.yaml"
	// EnvFile is loaded into the process environment when present.
	EnvFile = ".env"

	// DefaultJWTSecret is a placeholder; main warns when it is still in use.
	DefaultJWTSecret = "your-secret-key-for-jwt-change-it-in-production"

	ProviderHeuristic = "heuristic"
)

// FileConfig represents configuration loaded from YAML and the environment.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	JWTSecret   string `yaml:"jwtSecret"`
	SessionTTL  string `yaml:"sessionTTL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	AIProvider        string `yaml:"aiProvider"`
	AIAPIKey          string `yaml:"aiAPIKey"`
	AIBaseURL         string `yaml:"aiBaseURL"`
	AIModel           string `yaml:"aiModel"`
	OpenRouterAPIKey  string `yaml:"openRouterAPIKey"`
	OpenRouterBaseURL string `yaml:"openRouterBaseURL"`
	SiteURL           string `yaml:"siteURL"`
	SiteName          string `yaml:"siteName"`
	GeminiAPIKey      string `yaml:"geminiAPIKey"`
	OllamaBaseURL     string `yaml:"ollamaBaseURL"`
	AITimeout         string `yaml:"aiTimeout"`
	HeuristicSeed     int64  `yaml:"heuristicSeed"`

	Timezone string `yaml:"timezone"`

	OTPTTL         string `yaml:"otpTTL"`
	OTPResendAfter string `yaml:"otpResendAfter"`
	OTPMaxAttempts int    `yaml:"otpMaxAttempts"`
	OTPDebugEcho   bool   `yaml:"otpDebugEcho"`

	SendOTPRateLimitPerMinute int      `yaml:"sendOTPRateLimitPerMinute"`
	LoginRateLimitPerMinute   int      `yaml:"loginRateLimitPerMinute"`
	TrustedProxyCIDRs         []string `yaml:"trustedProxyCidrs"`
	CORSAllowedOrigins        []string `yaml:"corsAllowedOrigins"`
	MaxRecordLimit            int      `yaml:"maxRecordLimit"`
}

// Default returns the local-development configuration.
func Default() FileConfig {
	return FileConfig{
		Port:                      "8000",
		LogLevel:                  "info",
		DatabaseURL:               "sqlite:///./jifou.db",
		JWTSecret:                 DefaultJWTSecret,
		SessionTTL:                "168h",
		JWTIssuer:                 "jifou-auth",
		JWTAudience:               "jifou-api",
		JWTLeeway:                 "30s",
		AIBaseURL:                 "https://api.openai.com/v1",
		AIModel:                   "gpt-3.5-turbo",
		OpenRouterBaseURL:         "https://openrouter.ai/api/v1",
		SiteURL:                   "https://jifou.ai",
		SiteName:                  "记否",
		OllamaBaseURL:             "http://127.0.0.1:11434",
		AITimeout:                 "5s",
		Timezone:                  "Local",
		OTPTTL:                    "5m",
		OTPResendAfter:            "60s",
		OTPMaxAttempts:            5,
		SendOTPRateLimitPerMinute: 5,
		LoginRateLimitPerMinute:   10,
		CORSAllowedOrigins:        []string{"*"},
		MaxRecordLimit:            100,
	}
}

// Load reads path (or JIFOU_CONFIG, or config.yaml) over the defaults, then
// applies .env and environment overrides. A missing file is not an error.
func Load(path string) (FileConfig, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("JIFOU_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load %s: %w", EnvFile, err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.JWTSecret, "JWT_SECRET", "SECRET_KEY")
	setString(&cfg.SessionTTL, "SESSION_TTL")
	if v := strings.TrimSpace(os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES")); v != "" && os.Getenv("SESSION_TTL") == "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTL = (time.Duration(n) * time.Minute).String()
		}
	}
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.JWTLeeway, "JWT_LEEWAY")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")

	setString(&cfg.AIProvider, "AI_PROVIDER")
	setString(&cfg.AIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.AIBaseURL, "OPENAI_API_BASE")
	setString(&cfg.AIModel, "AI_MODEL")
	setString(&cfg.OpenRouterAPIKey, "OPENROUTER_API_KEY")
	setString(&cfg.OpenRouterBaseURL, "OPENROUTER_BASE_URL")
	setString(&cfg.SiteURL, "SITE_URL")
	setString(&cfg.SiteName, "SITE_NAME")
	setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.OllamaBaseURL, "OLLAMA_BASE_URL")
	setString(&cfg.AITimeout, "AI_TIMEOUT")
	if v := strings.TrimSpace(os.Getenv("HEURISTIC_SEED")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.HeuristicSeed = n
		}
	}
	setString(&cfg.Timezone, "TZ_NAME")

	setString(&cfg.OTPTTL, "OTP_TTL")
	setString(&cfg.OTPResendAfter, "OTP_RESEND_AFTER")
	setInt(&cfg.OTPMaxAttempts, "OTP_MAX_ATTEMPTS")
	if v := strings.TrimSpace(os.Getenv("OTP_DEBUG_ECHO")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.OTPDebugEcho = b
		}
	}
	setInt(&cfg.SendOTPRateLimitPerMinute, "SEND_OTP_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.LoginRateLimitPerMinute, "LOGIN_RATE_LIMIT_PER_MINUTE")
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	setInt(&cfg.MaxRecordLimit, "MAX_RECORD_LIMIT")
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set JWT_SECRET)")
	}
	for name, raw := range map[string]string{
		"sessionTTL":     cfg.SessionTTL,
		"jwtLeeway":      cfg.JWTLeeway,
		"aiTimeout":      cfg.AITimeout,
		"otpTTL":         cfg.OTPTTL,
		"otpResendAfter": cfg.OTPResendAfter,
	} {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("config: invalid %s: %w", name, err)
		}
	}
	if d, _ := ParseDuration(cfg.SessionTTL); d <= 0 {
		return errors.New("config: sessionTTL must be positive")
	}
	if cfg.OTPMaxAttempts < 0 || cfg.SendOTPRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: limits must be >= 0")
	}
	if cfg.MaxRecordLimit <= 0 {
		return errors.New("config: maxRecordLimit must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.AIProvider)) {
	case "", ProviderHeuristic, ai.ProviderOpenAI, ai.ProviderOpenRouter, ai.ProviderOllama:
	case ai.ProviderGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return errors.New("config: geminiAPIKey is required for the gemini provider")
		}
	default:
		return fmt.Errorf("config: unknown aiProvider %q", cfg.AIProvider)
	}
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("config: invalid timezone: %w", err)
	}
	return nil
}

// ParseDuration parses an optional duration; empty means zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

// Location resolves the report-day time zone.
func (c FileConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// Provider returns the effective annotation provider. Without an explicit
// choice the OpenAI key wins, then OpenRouter, then the heuristic.
func (c FileConfig) Provider() string {
	if p := strings.ToLower(strings.TrimSpace(c.AIProvider)); p != "" {
		return p
	}
	switch {
	case strings.TrimSpace(c.AIAPIKey) != "":
		return ai.ProviderOpenAI
	case strings.TrimSpace(c.OpenRouterAPIKey) != "":
		return ai.ProviderOpenRouter
	default:
		return ProviderHeuristic
	}
}

// GeneratorConfig returns the text-generation settings, or false when
// annotation runs on the heuristic alone.
func (c FileConfig) GeneratorConfig() (ai.ProviderConfig, bool) {
	timeout, _ := ParseDuration(c.AITimeout)
	pc := ai.ProviderConfig{Provider: c.Provider(), Model: c.AIModel, Timeout: timeout}
	switch pc.Provider {
	case ai.ProviderOpenAI:
		pc.BaseURL, pc.APIKey = c.AIBaseURL, c.AIAPIKey
	case ai.ProviderOpenRouter:
		pc.BaseURL, pc.APIKey = c.OpenRouterBaseURL, c.OpenRouterAPIKey
		pc.Headers = map[string]string{"HTTP-Referer": c.SiteURL, "X-Title": c.SiteName}
	case ai.ProviderGemini:
		pc.APIKey = c.GeminiAPIKey
	case ai.ProviderOllama:
		pc.BaseURL = c.OllamaBaseURL
	default:
		return ai.ProviderConfig{}, false
	}
	return pc, true
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
