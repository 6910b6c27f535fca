package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Storage StorageConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Billing BillingConfig
	Calls   CallsConfig
	Gateway GatewayConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type StorageConfig struct {
	// Driver selects the persistence backend: postgres or memory.
	Driver string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional; an empty Host disables Redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// DevTokens enables POST /v1/auth/token, which issues tokens for any user id.
	DevTokens bool
}

// BillingConfig amounts are in minor units of Currency.
type BillingConfig struct {
	Currency        string
	VoiceRateMinor  int64
	VideoRateMinor  int64
	MinBalanceMinor int64
	MinTopUpMinor   int64
}

type CallsConfig struct {
	// SingleActive rejects a new call while the caller has one in progress.
	SingleActive  bool
	ActiveSlotTTL time.Duration
}

// GatewayConfig tunes the mock payment gateway.
type GatewayConfig struct {
	InitiateDelay time.Duration
	VerifyDelay   time.Duration
	SuccessRate   float64
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Storage.Driver = strings.TrimSpace(os.Getenv("STORAGE_DRIVER"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optInt("DB_PORT", 5432)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optInt("REDIS_DB", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")
	c.Auth.DevTokens = optBool("AUTH_DEV_TOKENS")

	c.Billing.Currency = strings.TrimSpace(os.Getenv("BILLING_CURRENCY"))
	for key, dst := range map[string]*int64{
		"BILLING_VOICE_RATE":  &c.Billing.VoiceRateMinor,
		"BILLING_VIDEO_RATE":  &c.Billing.VideoRateMinor,
		"BILLING_MIN_BALANCE": &c.Billing.MinBalanceMinor,
		"BILLING_MIN_TOPUP":   &c.Billing.MinTopUpMinor,
	} {
		n, err := optInt(key, 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		*dst = int64(n)
	}

	c.Calls.SingleActive = optBool("CALLS_SINGLE_ACTIVE")
	c.Calls.ActiveSlotTTL = mustDuration("CALLS_ACTIVE_SLOT_TTL")

	c.Gateway.InitiateDelay = mustDuration("GATEWAY_INITIATE_DELAY")
	c.Gateway.VerifyDelay = mustDuration("GATEWAY_VERIFY_DELAY")
	if v := strings.TrimSpace(os.Getenv("GATEWAY_SUCCESS_RATE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("GATEWAY_SUCCESS_RATE must be a number, got %q", v))
		}
		c.Gateway.SuccessRate = f
	} else {
		c.Gateway.SuccessRate = 0.9
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageDriverPostgres
	}
	switch c.Storage.Driver {
	case StorageDriverPostgres:
		errs = append(errs, c.validateDB()...)
	case StorageDriverMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORAGE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be one of postgres, memory, got %q", c.Storage.Driver))
	}

	if c.RedisEnabled() {
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		if c.Redis.DB < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0, got %d", c.Redis.DB))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Auth.DevTokens {
			errs = append(errs, errors.New("AUTH_DEV_TOKENS must be off in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.validateBilling()...)

	if c.Calls.ActiveSlotTTL <= 0 {
		c.Calls.ActiveSlotTTL = 2 * time.Hour
	}

	if c.Gateway.SuccessRate < 0 || c.Gateway.SuccessRate > 1 {
		errs = append(errs, fmt.Errorf("GATEWAY_SUCCESS_RATE must be within [0,1], got %v", c.Gateway.SuccessRate))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c *Config) validateBilling() []error {
	var errs []error
	if c.Billing.Currency == "" {
		c.Billing.Currency = "NGN"
	}
	if len(c.Billing.Currency) != 3 {
		errs = append(errs, fmt.Errorf("BILLING_CURRENCY must be a 3-letter code, got %q", c.Billing.Currency))
	}
	if c.Billing.VoiceRateMinor == 0 {
		c.Billing.VoiceRateMinor = 10
	}
	if c.Billing.VideoRateMinor == 0 {
		c.Billing.VideoRateMinor = 10
	}
	if c.Billing.VoiceRateMinor < 0 || c.Billing.VideoRateMinor < 0 {
		errs = append(errs, errors.New("BILLING_VOICE_RATE and BILLING_VIDEO_RATE must be positive"))
	}
	if c.Billing.MinBalanceMinor == 0 {
		// One billing unit at the voice rate.
		c.Billing.MinBalanceMinor = c.Billing.VoiceRateMinor
	}
	if c.Billing.MinBalanceMinor < 0 {
		errs = append(errs, fmt.Errorf("BILLING_MIN_BALANCE must be >= 0, got %d", c.Billing.MinBalanceMinor))
	}
	if c.Billing.MinTopUpMinor == 0 {
		c.Billing.MinTopUpMinor = 100
	}
	if c.Billing.MinTopUpMinor < 0 {
		errs = append(errs, fmt.Errorf("BILLING_MIN_TOPUP must be > 0, got %d", c.Billing.MinTopUpMinor))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
