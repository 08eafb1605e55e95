package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/notification-delivery/internal/retry"
)

// Config captures all runtime configuration for the notifier process.
// Sender credentials are not part of it: they are looked up as properties
// through the env package so that conditions can observe them.
type Config struct {
	App        AppConfig
	Kafka      KafkaConfig
	Retry      retry.Config
	Delivery   DeliveryConfig
	Properties PropertiesConfig
	Breaker    BreakerConfig
	Validation ValidationConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env         string
	LogLevel    string
	MetricsAddr string
}

// KafkaConfig defines broker information and the topics used by the worker.
type KafkaConfig struct {
	Brokers             []string
	EmailRequestTopic   string
	SMSRequestTopic     string
	StatusTopic         string
	DLQTopic            string
	ConsumerGroup       string
	CommitOnSuccessOnly bool
}

// RequestTopics lists the configured request topics, skipping empty ones.
func (k KafkaConfig) RequestTopics() []string {
	var out []string
	for _, topic := range []string{k.EmailRequestTopic, k.SMSRequestTopic} {
		if topic != "" {
			out = append(out, topic)
		}
	}
	return out
}

// DeliveryConfig tunes the delivery service.
type DeliveryConfig struct {
	MaxConcurrent int
	// Fanout sends through every matching implementation instead of the
	// first one.
	Fanout       bool
	TemplateDir  string
	Capabilities []string
}

// PropertiesConfig locates the sources backing property conditions.
type PropertiesConfig struct {
	File        string
	EnvPrefix   string
	DotEnvFiles []string
}

// BreakerConfig wraps each sender in a circuit breaker when Enabled.
type BreakerConfig struct {
	Enabled             bool
	ConsecutiveFailures int
	Timeout             time.Duration
	MaxRequests         int
}

// ValidationConfig holds the limits used while decoding inbound requests.
type ValidationConfig struct {
	MsgMaxBytes      int
	RecipientsMax    int
	SubjectMaxLen    int
	BodyMaxBytes     int
	SMSRecipientsMax int
	SMSBodyMax       int
	MetaMaxEntries   int
	MetaMaxKeyLen    int
	MetaMaxValueLen  int
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}
	cfg := &Config{}
	loadKafka(ldr, &cfg.Kafka)
	loadDelivery(ldr, cfg)

	if err := ldr.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDelivery is Load without the Kafka section, for tools that deliver
// messages directly.
func LoadDelivery() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}
	cfg := &Config{}
	loadDelivery(ldr, cfg)

	if err := ldr.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadKafka(ldr *envLoader, k *KafkaConfig) {
	k.Brokers = ldr.getStringSlice("KAFKA_BROKERS", true)
	k.EmailRequestTopic = ldr.getString("KAFKA_EMAIL_REQUEST_TOPIC", "", false)
	k.SMSRequestTopic = ldr.getString("KAFKA_SMS_REQUEST_TOPIC", "", false)
	k.StatusTopic = ldr.getString("KAFKA_STATUS_TOPIC", "", true)
	k.DLQTopic = ldr.getString("KAFKA_DLQ_TOPIC", "", true)
	k.ConsumerGroup = ldr.getString("KAFKA_CONSUMER_GROUP", "notifier", false)
	k.CommitOnSuccessOnly = ldr.getBool("COMMIT_ON_SUCCESS_ONLY", true, false)
	if len(k.RequestTopics()) == 0 {
		ldr.addError("at least one of KAFKA_EMAIL_REQUEST_TOPIC or KAFKA_SMS_REQUEST_TOPIC is required")
	}
}

func loadDelivery(ldr *envLoader, cfg *Config) {
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)
	cfg.App.MetricsAddr = ldr.getString("METRICS_ADDR", ":9090", false)

	cfg.Retry.Strategy = ldr.getString("RETRY_STRATEGY", retry.StrategyExponential, false)
	cfg.Retry.MaxAttempts = ldr.getInt("RETRY_MAX_ATTEMPTS", 3, false)
	cfg.Retry.Delay = ldr.getDuration("RETRY_DELAY", 5*time.Second, false)
	cfg.Retry.Interval = ldr.getDuration("RETRY_INTERVAL", 10*time.Second, false)
	cfg.Retry.InitialDelay = ldr.getDuration("RETRY_INITIAL_DELAY", time.Second, false)
	cfg.Retry.MaxDelay = ldr.getDuration("RETRY_MAX_DELAY", 2*time.Minute, false)
	cfg.Retry.MaxElapsed = ldr.getDuration("RETRY_MAX_ELAPSED", 0, false)
	cfg.Retry.Delays = ldr.getDurationSlice("RETRY_DELAYS")

	cfg.Delivery.MaxConcurrent = ldr.getInt("WORKER_CONCURRENCY", 10, false)
	cfg.Delivery.Fanout = ldr.getBool("DELIVERY_FANOUT", false, false)
	cfg.Delivery.TemplateDir = ldr.getString("TEMPLATE_DIR", "templates", false)
	cfg.Delivery.Capabilities = ldr.getStringSlice("CAPABILITIES", false)

	cfg.Properties.File = ldr.getString("PROPERTIES_FILE", "", false)
	cfg.Properties.EnvPrefix = ldr.getString("PROPERTIES_ENV_PREFIX", "NOTIFIER", false)
	cfg.Properties.DotEnvFiles = ldr.getStringSlice("PROPERTIES_DOTENV_FILES", false)

	cfg.Breaker.Enabled = ldr.getBool("BREAKER_ENABLED", false, false)
	cfg.Breaker.ConsecutiveFailures = ldr.getInt("BREAKER_CONSECUTIVE_FAILURES", 5, false)
	cfg.Breaker.Timeout = ldr.getDuration("BREAKER_TIMEOUT", 30*time.Second, false)
	cfg.Breaker.MaxRequests = ldr.getInt("BREAKER_MAX_REQUESTS", 1, false)

	cfg.Validation.MsgMaxBytes = ldr.getInt("MSG_MAX_BYTES", 200000, false)
	cfg.Validation.RecipientsMax = ldr.getInt("RECIPIENTS_MAX", 50, false)
	cfg.Validation.SubjectMaxLen = ldr.getInt("SUBJECT_MAX_LEN", 255, false)
	cfg.Validation.BodyMaxBytes = ldr.getInt("BODY_MAX_BYTES", 100000, false)
	cfg.Validation.SMSRecipientsMax = ldr.getInt("SMS_RECIPIENTS_MAX", 10, false)
	cfg.Validation.SMSBodyMax = ldr.getInt("SMS_BODY_MAX", 1600, false)
	cfg.Validation.MetaMaxEntries = ldr.getInt("META_MAX_ENTRIES", 20, false)
	cfg.Validation.MetaMaxKeyLen = ldr.getInt("META_MAX_KEY_LEN", 64, false)
	cfg.Validation.MetaMaxValueLen = ldr.getInt("META_MAX_VALUE_LEN", 256, false)

	if cfg.Delivery.MaxConcurrent < 0 {
		ldr.addError("WORKER_CONCURRENCY must not be negative")
	}
	if cfg.Breaker.Enabled && cfg.Breaker.ConsecutiveFailures <= 0 {
		ldr.addError("BREAKER_CONSECUTIVE_FAILURES must be positive when the breaker is enabled")
	}
	if _, err := retry.ProviderFromConfig(cfg.Retry); err != nil {
		ldr.addError(err.Error())
	}
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

// lookup returns the trimmed value of key, recording an error when a
// required key is absent or blank.
func (l *envLoader) lookup(key string, required bool) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val != "" {
			return val, true
		}
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return "", false
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key, required); ok {
		return val
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) getDuration(key string, def time.Duration, required bool) time.Duration {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid duration", key))
		return def
	}
	if d < 0 {
		l.addError(fmt.Sprintf("%s must not be negative", key))
		return def
	}
	return d
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) getDurationSlice(key string) []time.Duration {
	var out []time.Duration
	for _, raw := range l.getStringSlice(key, false) {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			l.addError(fmt.Sprintf("%s entry %q must be a valid duration", key, raw))
			continue
		}
		out = append(out, d)
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
