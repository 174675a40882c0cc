// Package config loads and validates ingest configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-menu-ingest/internal/telemetry"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	DB       DBConfig         `mapstructure:"db"`
	HTTP     HTTPConfig       `mapstructure:"http"`
	Upstream UpstreamConfig   `mapstructure:"upstream"`
	Gates    GatesConfig      `mapstructure:"gates"`
	Dispatch DispatchConfig   `mapstructure:"dispatch"`
	Logging  LoggingConfig    `mapstructure:"logging"`
	Server   ServerConfig     `mapstructure:"server"`
	Export   ExportConfig     `mapstructure:"export"`
	PubSub   PubSubConfig     `mapstructure:"pubsub"`
	Kafka    KafkaConfig      `mapstructure:"kafka"`
	Tracing  telemetry.Config `mapstructure:"tracing"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	InsertChunkRows int           `mapstructure:"insert_chunk_rows"`
}

// HTTPConfig configures the upstream HTTP client.
type HTTPConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	UserAgent           string        `mapstructure:"user_agent"`
	SendSuperProperties bool          `mapstructure:"send_super_properties"`
	SuperProperties     string        `mapstructure:"super_properties"`
	// Proxies, when set, are rotated round robin across requests.
	Proxies []string `mapstructure:"proxies"`
}

// UpstreamConfig locates the remote endpoints.
type UpstreamConfig struct {
	MenuURL          string `mapstructure:"menu_url"`
	LocationURL      string `mapstructure:"location_url"`
	TagsURL          string `mapstructure:"tags_url"`
	GeohashPrecision uint   `mapstructure:"geohash_precision"`
}

// GatesConfig holds one admission gate per work kind.
type GatesConfig struct {
	Location   ratelimit.Config `mapstructure:"location"`
	Restaurant ratelimit.Config `mapstructure:"restaurant"`
	Tag        ratelimit.Config `mapstructure:"tag"`
}

// ByKind returns the gate configuration keyed by kind. Unset tag values fall
// back to the restaurant gate, since both hit restaurant endpoints.
func (g GatesConfig) ByKind() map[catalog.Kind]ratelimit.Config {
	tag := g.Tag
	if tag.MinSpacing <= 0 {
		tag.MinSpacing = g.Restaurant.MinSpacing
	}
	if tag.MaxConcurrent <= 0 {
		tag.MaxConcurrent = g.Restaurant.MaxConcurrent
	}
	return map[catalog.Kind]ratelimit.Config{
		catalog.KindLocation:   g.Location,
		catalog.KindRestaurant: g.Restaurant,
		catalog.KindTag:        tag,
	}
}

// DispatchConfig bounds in-flight units per run.
type DispatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the operator HTTP server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ExportConfig selects the export destination. A GCS bucket takes precedence
// over a local directory.
type ExportConfig struct {
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run notifications. Empty values disable
// publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether run summaries should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// KafkaConfig is the alternative run notification sink.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Enabled reports whether run summaries should be written to Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MENUINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.insert_chunk_rows", 1000)
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.user_agent", "menuingest/0.1")
	v.SetDefault("http.send_super_properties", false)
	v.SetDefault("http.super_properties", "")
	v.SetDefault("http.proxies", []string{})
	v.SetDefault("upstream.menu_url", "https://api.uk.deliveroo.com/consumer/menus/graphql/")
	v.SetDefault("upstream.location_url",
		"https://deliveroo.co.uk/restaurants/london/canonbury?geohash={geohash}&collection=all-restaurants")
	v.SetDefault("upstream.tags_url", "https://consumer-ow-api.deliveroo.com/orderapp/v1/restaurants/{id}")
	v.SetDefault("upstream.geohash_precision", 9)
	v.SetDefault("gates.location.min_spacing", 333*time.Millisecond)
	v.SetDefault("gates.location.max_concurrent", 3)
	v.SetDefault("gates.restaurant.min_spacing", 333*time.Millisecond)
	v.SetDefault("gates.restaurant.max_concurrent", 3)
	v.SetDefault("gates.tag.min_spacing", 0)
	v.SetDefault("gates.tag.max_concurrent", 0)
	v.SetDefault("dispatch.concurrency", 4)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits. The DSN is
// checked by the commands that need a database.
func (c Config) Validate() error {
	if c.DB.MaxConns <= 0 {
		return fmt.Errorf("db.max_conns must be > 0")
	}
	if c.DB.MinConns < 0 || c.DB.MinConns > c.DB.MaxConns {
		return fmt.Errorf("db.min_conns must be between 0 and db.max_conns")
	}
	if c.DB.InsertChunkRows <= 0 {
		return fmt.Errorf("db.insert_chunk_rows must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.SendSuperProperties && c.HTTP.SuperProperties == "" {
		return fmt.Errorf("http.super_properties must be set when http.send_super_properties is enabled")
	}
	for _, raw := range c.HTTP.Proxies {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("http.proxies entry %q is not a valid proxy url", raw)
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			return fmt.Errorf("http.proxies entry %q must use http, https or socks5", raw)
		}
	}
	if c.Upstream.MenuURL == "" || c.Upstream.LocationURL == "" || c.Upstream.TagsURL == "" {
		return fmt.Errorf("upstream.menu_url, upstream.location_url and upstream.tags_url are required")
	}
	if !strings.Contains(c.Upstream.LocationURL, "{geohash}") {
		return fmt.Errorf("upstream.location_url must contain a {geohash} placeholder")
	}
	if !strings.Contains(c.Upstream.TagsURL, "{id}") {
		return fmt.Errorf("upstream.tags_url must contain an {id} placeholder")
	}
	if c.Upstream.GeohashPrecision < 1 || c.Upstream.GeohashPrecision > 12 {
		return fmt.Errorf("upstream.geohash_precision must be between 1 and 12")
	}
	gates := c.Gates.ByKind()
	for _, kind := range catalog.Kinds() {
		gate := gates[kind]
		if gate.MinSpacing < 0 {
			return fmt.Errorf("gates.%s.min_spacing must be >= 0", kind)
		}
		if gate.MaxConcurrent <= 0 {
			return fmt.Errorf("gates.%s.max_concurrent must be > 0", kind)
		}
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("dispatch.concurrency must be > 0")
	}
	if int32(c.Dispatch.Concurrency) > c.DB.MaxConns {
		return fmt.Errorf("dispatch.concurrency must not exceed db.max_conns")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	if (len(c.Kafka.Brokers) == 0) != (c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic must be set together")
	}
	if c.PubSub.Enabled() && c.Kafka.Enabled() {
		return fmt.Errorf("configure either pubsub or kafka, not both")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

// RequireDSN reports a missing database DSN.
func (c Config) RequireDSN() error {
	if strings.TrimSpace(c.DB.DSN) == "" {
		return fmt.Errorf("db.dsn is required")
	}
	return nil
}

// SuperProperties returns the cookie value to send, or "" when disabled.
func (c Config) SuperProperties() string {
	if !c.HTTP.SendSuperProperties {
		return ""
	}
	return c.HTTP.SuperProperties
}
