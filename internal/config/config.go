package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Vision   VisionConfig   `mapstructure:"vision"`
	Index    IndexConfig    `mapstructure:"index"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Gate     GateConfig     `mapstructure:"gate"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	File     string `mapstructure:"file"`
	FileOnly bool   `mapstructure:"file_only"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type VisionConfig struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type IndexConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	TranscriptURL string        `mapstructure:"transcript_url"`
	APIKey        string        `mapstructure:"api_key"`
	MaxResults    int           `mapstructure:"max_results"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type PipelineConfig struct {
	ConcurrencyLimit int           `mapstructure:"concurrency_limit"`
	MaxBatchSize     int           `mapstructure:"max_batch_size"`
	MaxPayloadBytes  int           `mapstructure:"max_payload_bytes"`
	UnitCost         float64       `mapstructure:"unit_cost"`
	JobRetention     time.Duration `mapstructure:"job_retention"`
	ItemTimeout      time.Duration `mapstructure:"item_timeout"`
	MinTypeScore     float64       `mapstructure:"min_type_score"`
}

type ResolverConfig struct {
	TitleWeight             float64            `mapstructure:"title_weight"`
	ChannelWeight           float64            `mapstructure:"channel_weight"`
	HighConfidenceThreshold float64            `mapstructure:"high_confidence_threshold"`
	MinAcceptThreshold      float64            `mapstructure:"min_accept_threshold"`
	MinTitleLength          int                `mapstructure:"min_title_length"`
	JunkTitles              []string           `mapstructure:"junk_titles"`
	AnchorBonuses           map[string]float64 `mapstructure:"anchor_bonuses"`
	FallbackQueries         []string           `mapstructure:"fallback_queries"`
}

type GateConfig struct {
	MinAnalysisLength    int      `mapstructure:"min_analysis_length"`
	MinRawMaterialLength int      `mapstructure:"min_raw_material_length"`
	SentinelPrefixes     []string `mapstructure:"sentinel_prefixes"`
	RawMaterialTypes     []string `mapstructure:"raw_material_types"`
}

// ConnString returns the database connection string for the configured driver.
func (c *DatabaseConfig) ConnString() string {
	if c.Driver == "postgres" {
		return c.DSN
	}
	return c.Path
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("vision.api_key", "VISION_API_KEY")
	v.BindEnv("vision.base_url", "VISION_BASE_URL")
	v.BindEnv("vision.model", "VISION_MODEL")
	v.BindEnv("index.api_key", "INDEX_API_KEY")
	v.BindEnv("index.base_url", "INDEX_BASE_URL")
	v.BindEnv("database.dsn", "DATABASE_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/recap.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "captures")

	v.SetDefault("vision.provider", "openai")
	v.SetDefault("vision.model", "gpt-4o-mini")
	v.SetDefault("vision.base_url", "https://api.openai.com/v1")
	v.SetDefault("vision.timeout", 60*time.Second)

	v.SetDefault("index.max_results", 10)
	v.SetDefault("index.timeout", 15*time.Second)

	v.SetDefault("pipeline.concurrency_limit", 3)
	v.SetDefault("pipeline.max_batch_size", 50)
	v.SetDefault("pipeline.max_payload_bytes", 5*1024*1024)
	v.SetDefault("pipeline.unit_cost", 0.08)
	v.SetDefault("pipeline.job_retention", time.Hour)
	v.SetDefault("pipeline.item_timeout", 3*time.Minute)
	v.SetDefault("pipeline.min_type_score", 0.5)

	v.SetDefault("resolver.title_weight", 0.6)
	v.SetDefault("resolver.channel_weight", 0.2)
	v.SetDefault("resolver.high_confidence_threshold", 0.6)
	v.SetDefault("resolver.min_accept_threshold", 0.45)
	v.SetDefault("resolver.min_title_length", 4)
	v.SetDefault("resolver.junk_titles", []string{
		"the only way", "watch now", "live", "shorts", "home", "subscribe",
	})
	v.SetDefault("resolver.fallback_queries", []string{})

	v.SetDefault("gate.min_analysis_length", 50)
	v.SetDefault("gate.min_raw_material_length", 200)
	v.SetDefault("gate.sentinel_prefixes", []string{
		"Analysis unavailable",
		"Failed to generate",
	})
	v.SetDefault("gate.raw_material_types", []string{"video"})
}
