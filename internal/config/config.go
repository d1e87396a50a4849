package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
)

const (
	defaultFeedURLs   = "tcp://streaming1.naad-adna.pelmorex.com:8080,tcp://streaming2.naad-adna.pelmorex.com:8080"
	defaultMirrorURLs = "http://capcp1.naad-adna.pelmorex.com,http://capcp2.naad-adna.pelmorex.com"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// NAAD ingest.
	Enabled             bool
	FeedURLs            []string
	MirrorURLs          []string
	ReconnectDelay      time.Duration
	CacheCeiling        int
	HeartbeatMarker     string
	MaxFrameBytes       int
	BackfillConcurrency int
	HTTPTimeout         time.Duration

	// Filter policy.
	IncludeTests   bool
	MaxAgeHours    int
	Language       string
	AreaFilters    []string
	Jurisdictions  []string
	HighRiskOnly   bool
	ExcludeWeather bool

	// Optional event sinks; empty address disables the sink.
	KafkaBrokers      []string
	KafkaAlertTopic   string
	RedisAddr         string
	RedisEventChannel string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	httpTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("NAAD_HTTP_TIMEOUT", "15s"))
	if err != nil || httpTimeout <= 0 {
		return nil, errors.New("invalid NAAD_HTTP_TIMEOUT")
	}

	var (
		enabled, includeTests, highRisk, excludeWeather bool
		reconnectSeconds, maxAge, ceiling, maxFrame     int
		backfill                                        int
	)
	bools := []struct {
		key string
		def bool
		dst *bool
	}{
		{"NAAD_ENABLED", true, &enabled},
		{"NAAD_INCLUDE_TESTS", false, &includeTests},
		{"NAAD_HIGH_RISK_ONLY", false, &highRisk},
		{"NAAD_EXCLUDE_WEATHER", false, &excludeWeather},
	}
	for _, b := range bools {
		if *b.dst, err = parseBool(b.key, b.def); err != nil {
			return nil, err
		}
	}
	ints := []struct {
		key string
		def int
		min int
		dst *int
	}{
		{"NAAD_RECONNECT_DELAY_SECONDS", 30, 1, &reconnectSeconds},
		{"NAAD_MAX_AGE_HOURS", 0, 0, &maxAge},
		{"NAAD_CACHE_CEILING", 10000, 1, &ceiling},
		{"NAAD_MAX_FRAME_BYTES", 4 << 20, 0, &maxFrame},
		{"NAAD_BACKFILL_CONCURRENCY", 4, 1, &backfill},
	}
	for _, n := range ints {
		if *n.dst, err = parseInt(n.key, n.def, n.min); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Enabled:             enabled,
		FeedURLs:            envList("NAAD_FEED_URLS", defaultFeedURLs),
		MirrorURLs:          envList("NAAD_MIRROR_URLS", defaultMirrorURLs),
		ReconnectDelay:      time.Duration(reconnectSeconds) * time.Second,
		CacheCeiling:        ceiling,
		HeartbeatMarker:     sharedcfg.EnvOrDefault("NAAD_HEARTBEAT_MARKER", domain.DefaultHeartbeatMarker),
		MaxFrameBytes:       maxFrame,
		BackfillConcurrency: backfill,
		HTTPTimeout:         httpTimeout,

		IncludeTests:   includeTests,
		MaxAgeHours:    maxAge,
		Language:       sharedcfg.EnvOrDefault("NAAD_LANGUAGE", "en"),
		AreaFilters:    envList("NAAD_AREA_FILTERS", ""),
		Jurisdictions:  envList("NAAD_JURISDICTIONS", "QC,CA"),
		HighRiskOnly:   highRisk,
		ExcludeWeather: excludeWeather,

		KafkaBrokers:      sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaAlertTopic:   sharedcfg.EnvOrDefault("KAFKA_ALERT_TOPIC", "cap-alerts"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisEventChannel: sharedcfg.EnvOrDefault("REDIS_EVENT_CHANNEL", "naad-events"),
	}

	return cfg, nil
}

// Filter returns the filter policy snapshot.
func (c *Config) Filter() domain.FilterConfig {
	return domain.FilterConfig{
		IncludeTests:   c.IncludeTests,
		MaxAgeHours:    c.MaxAgeHours,
		Language:       c.Language,
		AreaFilters:    c.AreaFilters,
		Jurisdictions:  c.Jurisdictions,
		HighRiskOnly:   c.HighRiskOnly,
		ExcludeWeather: c.ExcludeWeather,
	}
}

// envList splits a comma-separated variable. Unlike EnvOrDefault, a variable
// that is set but empty yields an empty list rather than the default.
func envList(key, def string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		v = def
	}
	return sharedcfg.ParseBrokers(v)
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("invalid %s: must be true or false", key)
	}
	return b, nil
}

func parseInt(key string, def, minVal int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < minVal {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", key, minVal)
	}
	return n, nil
}
