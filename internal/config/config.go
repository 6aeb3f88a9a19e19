package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/calls"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// Values come from the environment, optionally seeded by a .env file in the
// working directory. No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	Twilio   TwilioConfig
	Dial     DialConfig
	Relay    RelayConfig
	Breaker  BreakerConfig
	DB       DBConfig
	Redis    RedisConfig
	EventBus EventBusConfig
	CORS     CORSConfig
}

type AppConfig struct {
	Env  string `validate:"required,oneof=local dev staging production"`
	Port int    `validate:"min=1,max=65535"`

	// AgentRoster is "id:name:status,..." and seeds the agent records.
	AgentRoster string `validate:"required"`
}

type TwilioConfig struct {
	// AccountSID empty means the sandbox gateway is used.
	AccountSID  string
	AuthToken   string
	PhoneNumber string `validate:"omitempty,e164"`
	BaseURL     string `validate:"omitempty,url"`

	ValidateWebhooks bool

	// API key and TwiML app used for softphone access tokens.
	APIKeySID    string
	APIKeySecret string
	TwiMLAppSID  string
	TokenTTL     time.Duration

	QueueName string `validate:"required"`
	Greeting  string
}

type DialConfig struct {
	CountryCode    string `validate:"required,numeric"`
	NationalDigits int    `validate:"min=4,max=14"`

	// CapPerAgent bounds concurrent outbound calls per agent when Redis is configured.
	CapPerAgent int           `validate:"min=1"`
	CapTTL      time.Duration `validate:"gt=0"`
}

type RelayConfig struct {
	BufferSize     int           `validate:"min=1"`
	PingInterval   time.Duration `validate:"gt=0"`
	Ordering       string        `validate:"oneof=monotonic last_write_wins"`
	CommandWorkers int           `validate:"min=1"`

	HistoryDefaultLimit int `validate:"min=1"`
	HistoryMaxLimit     int `validate:"min=1"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `validate:"min=1"`
	OpenTimeout         time.Duration `validate:"gt=0"`
}

// DBConfig is optional. With no host, audit events stay in memory.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. With no host, per-agent dial caps are not enforced.
type RedisConfig struct {
	Host string
	Port int
}

type EventBusConfig struct {
	Sink string `validate:"oneof=none amqp kafka"`

	AMQPURL      string
	AMQPExchange string

	KafkaBrokers  []string
	KafkaTopic    string
	KafkaUsername string
	KafkaPassword string
}

type CORSConfig struct {
	AllowedOrigins []string
}

var defaults = map[string]any{
	"APP_ENV":      "local",
	"APP_PORT":     "3000",
	"AGENT_ROSTER": calls.DefaultRoster,

	"TWILIO_ACCOUNT_SID":       "",
	"TWILIO_AUTH_TOKEN":        "",
	"TWILIO_PHONE_NUMBER":      "",
	"BASE_URL":                 "",
	"TWILIO_VALIDATE_WEBHOOKS": "false",
	"TWILIO_API_KEY_SID":       "",
	"TWILIO_API_KEY_SECRET":    "",
	"TWILIO_TWIML_APP_SID":     "",
	"TWILIO_TOKEN_TTL":         "1h",
	"TWILIO_QUEUE_NAME":        "support",
	"TWILIO_GREETING":          "Welcome to our call center. Please wait while we connect you with an agent.",

	"DIAL_COUNTRY_CODE":    "91",
	"DIAL_NATIONAL_DIGITS": "10",
	"DIAL_CAP_PER_AGENT":   "1",
	"DIAL_CAP_TTL":         "2h",

	"RELAY_BUFFER_SIZE":     "64",
	"RELAY_PING_INTERVAL":   "30s",
	"RELAY_ORDERING":        calls.OrderingMonotonic,
	"RELAY_COMMAND_WORKERS": "16",
	"HISTORY_DEFAULT_LIMIT": "20",
	"HISTORY_MAX_LIMIT":     "100",

	"BREAKER_CONSECUTIVE_FAILURES": "5",
	"BREAKER_OPEN_TIMEOUT":         "30s",

	"DB_HOST":     "",
	"DB_PORT":     "5432",
	"DB_USER":     "",
	"DB_PASSWORD": "",
	"DB_NAME":     "",
	"DB_SSLMODE":  "",

	"REDIS_HOST": "",
	"REDIS_PORT": "6379",

	"EVENTBUS_SINK":  "none",
	"AMQP_URL":       "",
	"AMQP_EXCHANGE":  "callcenter.events",
	"KAFKA_BROKERS":  "",
	"KAFKA_TOPIC":    "callcenter.events",
	"KAFKA_USERNAME": "",
	"KAFKA_PASSWORD": "",

	"CORS_ALLOWED_ORIGINS": "http://localhost:5173",
}

// Load reads the environment (and ./.env when present), then validates.
func Load() (Config, error) {
	return load(viper.New(), ".")
}

func load(v *viper.Viper, dir string) (Config, error) {
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read .env: %w", err)
		}
	}

	r := reader{v: v}
	c := Config{}

	c.App.Env = r.str("APP_ENV")
	c.App.Port = r.int("APP_PORT")
	c.App.AgentRoster = r.str("AGENT_ROSTER")

	c.Twilio.AccountSID = r.str("TWILIO_ACCOUNT_SID")
	c.Twilio.AuthToken = v.GetString("TWILIO_AUTH_TOKEN")
	c.Twilio.PhoneNumber = r.str("TWILIO_PHONE_NUMBER")
	c.Twilio.BaseURL = strings.TrimRight(r.str("BASE_URL"), "/")
	c.Twilio.ValidateWebhooks = r.bool("TWILIO_VALIDATE_WEBHOOKS")
	c.Twilio.APIKeySID = r.str("TWILIO_API_KEY_SID")
	c.Twilio.APIKeySecret = v.GetString("TWILIO_API_KEY_SECRET")
	c.Twilio.TwiMLAppSID = r.str("TWILIO_TWIML_APP_SID")
	c.Twilio.TokenTTL = r.duration("TWILIO_TOKEN_TTL")
	c.Twilio.QueueName = r.str("TWILIO_QUEUE_NAME")
	c.Twilio.Greeting = r.str("TWILIO_GREETING")

	c.Dial.CountryCode = strings.TrimPrefix(r.str("DIAL_COUNTRY_CODE"), "+")
	c.Dial.NationalDigits = r.int("DIAL_NATIONAL_DIGITS")
	c.Dial.CapPerAgent = r.int("DIAL_CAP_PER_AGENT")
	c.Dial.CapTTL = r.duration("DIAL_CAP_TTL")

	c.Relay.BufferSize = r.int("RELAY_BUFFER_SIZE")
	c.Relay.PingInterval = r.duration("RELAY_PING_INTERVAL")
	c.Relay.Ordering = strings.ToLower(r.str("RELAY_ORDERING"))
	c.Relay.CommandWorkers = r.int("RELAY_COMMAND_WORKERS")
	c.Relay.HistoryDefaultLimit = r.int("HISTORY_DEFAULT_LIMIT")
	c.Relay.HistoryMaxLimit = r.int("HISTORY_MAX_LIMIT")

	c.Breaker.ConsecutiveFailures = uint32(r.int("BREAKER_CONSECUTIVE_FAILURES"))
	c.Breaker.OpenTimeout = r.duration("BREAKER_OPEN_TIMEOUT")

	c.DB.Host = r.str("DB_HOST")
	c.DB.Port = r.int("DB_PORT")
	c.DB.User = r.str("DB_USER")
	c.DB.Password = v.GetString("DB_PASSWORD")
	c.DB.Name = r.str("DB_NAME")
	c.DB.SSLMode = r.str("DB_SSLMODE")

	c.Redis.Host = r.str("REDIS_HOST")
	c.Redis.Port = r.int("REDIS_PORT")

	c.EventBus.Sink = strings.ToLower(r.str("EVENTBUS_SINK"))
	c.EventBus.AMQPURL = r.str("AMQP_URL")
	c.EventBus.AMQPExchange = r.str("AMQP_EXCHANGE")
	c.EventBus.KafkaBrokers = r.list("KAFKA_BROKERS")
	c.EventBus.KafkaTopic = r.str("KAFKA_TOPIC")
	c.EventBus.KafkaUsername = r.str("KAFKA_USERNAME")
	c.EventBus.KafkaPassword = v.GetString("KAFKA_PASSWORD")

	c.CORS.AllowedOrigins = r.list("CORS_ALLOWED_ORIGINS")

	if err := joinErrors(r.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// reader collects parse errors instead of silently zeroing bad values.
type reader struct {
	v    *viper.Viper
	errs []error
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r *reader) int(key string) int {
	s := r.str(key)
	if s == "" {
		r.errs = append(r.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, s))
	}
	return n
}

func (r *reader) bool(key string) bool {
	s := r.str(key)
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a boolean, got %q", key, s))
	}
	return b
}

func (r *reader) duration(key string) time.Duration {
	s := r.str(key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration, got %q", key, s))
	}
	return d
}

func (r *reader) list(key string) []string {
	var out []string
	for _, p := range strings.Split(r.str(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = validator.New()

// Validate checks struct rules and cross-field requirements, and fills
// environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	if _, err := calls.ParseRoster(c.App.AgentRoster); err != nil {
		errs = append(errs, fmt.Errorf("AGENT_ROSTER: %w", err))
	}

	if c.UsesTwilio() {
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_ACCOUNT_SID is set"))
		}
		if c.Twilio.PhoneNumber == "" {
			errs = append(errs, errors.New("TWILIO_PHONE_NUMBER is required when TWILIO_ACCOUNT_SID is set"))
		}
		if c.Twilio.BaseURL == "" {
			errs = append(errs, errors.New("BASE_URL is required when TWILIO_ACCOUNT_SID is set"))
		}
	} else if c.IsProduction() {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required in production"))
	}
	if c.Twilio.ValidateWebhooks && (c.Twilio.AuthToken == "" || c.Twilio.BaseURL == "") {
		errs = append(errs, errors.New("TWILIO_VALIDATE_WEBHOOKS requires TWILIO_AUTH_TOKEN and BASE_URL"))
	}
	if c.IsProduction() && c.UsesTwilio() && !c.Twilio.ValidateWebhooks {
		errs = append(errs, errors.New("TWILIO_VALIDATE_WEBHOOKS must be true in production"))
	}

	if c.Relay.HistoryDefaultLimit > c.Relay.HistoryMaxLimit {
		errs = append(errs, fmt.Errorf("HISTORY_DEFAULT_LIMIT (%d) must not exceed HISTORY_MAX_LIMIT (%d)", c.Relay.HistoryDefaultLimit, c.Relay.HistoryMaxLimit))
	}

	if c.DatabaseEnabled() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.RedisEnabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	switch c.EventBus.Sink {
	case "amqp":
		if c.EventBus.AMQPURL == "" || c.EventBus.AMQPExchange == "" {
			errs = append(errs, errors.New("AMQP_URL and AMQP_EXCHANGE are required when EVENTBUS_SINK=amqp"))
		}
	case "kafka":
		if len(c.EventBus.KafkaBrokers) == 0 || c.EventBus.KafkaTopic == "" {
			errs = append(errs, errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required when EVENTBUS_SINK=kafka"))
		}
		if (c.EventBus.KafkaUsername == "") != (c.EventBus.KafkaPassword == "") {
			errs = append(errs, errors.New("KAFKA_USERNAME and KAFKA_PASSWORD must be set together"))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// UsesTwilio reports whether the real provider is configured.
func (c Config) UsesTwilio() bool {
	return c.Twilio.AccountSID != ""
}

// VoiceTokensEnabled reports whether softphone tokens can be signed.
func (c Config) VoiceTokensEnabled() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.APIKeySID != "" && c.Twilio.APIKeySecret != ""
}

func (c Config) DatabaseEnabled() bool {
	return c.DB.Host != ""
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

// PostgresURL is the URL form golang-migrate expects.
func (c Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
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
