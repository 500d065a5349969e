package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "playbackd.cfg.json"

// PlaybackConfig holds the synchronization tunables.
type PlaybackConfig struct {
	PacketWindow   time.Duration `mapstructure:"packetWindow" validate:"gt=0"`
	GapThreshold   time.Duration `mapstructure:"gapThreshold" validate:"gt=0"`
	OfflineAfter   time.Duration `mapstructure:"offlineAfter" validate:"gt=0"`
	DriftThreshold time.Duration `mapstructure:"driftThreshold" validate:"gt=0"`
	PrefetchRatio  float64       `mapstructure:"prefetchRatio" validate:"gt=0,lte=1"`
	OverspeedKmh   float64       `mapstructure:"overspeedKmh" validate:"gte=0"`
	ETAPollTicks   int           `mapstructure:"etaPollTicks" validate:"gt=0"`
	CacheWindows   int           `mapstructure:"cacheWindows" validate:"gte=0"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval" validate:"gte=0"`
}

// MemoryConfig holds in-memory storage settings. A non-empty OutputDir
// exports the store there on close.
type MemoryConfig struct {
	OutputDir string `json:"outputDir" mapstructure:"outputDir"`
	Compress  bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	PostGIS  bool   `json:"postgis" mapstructure:"postgis"`
}

// StorageConfig selects the repository backend
type StorageConfig struct {
	Type          string         `json:"type" mapstructure:"type" validate:"oneof=memory sqlite postgres"`
	FlushInterval time.Duration  `json:"flushInterval" mapstructure:"flushInterval" validate:"gt=0"`
	Memory        MemoryConfig   `json:"memory" mapstructure:"memory"`
	SQLite        SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres      PostgresConfig `json:"postgres" mapstructure:"postgres"`
	SeedFile      string         `json:"seedFile" mapstructure:"seedFile"`
}

// InfluxConfig holds InfluxDB telemetry settings
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Protocol   string `json:"protocol" mapstructure:"protocol" validate:"oneof=http https"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// URL returns the server address.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// APIConfig holds the video gateway settings.
type APIConfig struct {
	ServerURL     string `json:"serverUrl" mapstructure:"serverUrl" validate:"omitempty,url"`
	APIKey        string `json:"apiKey" mapstructure:"apiKey"`
	UploadExports bool   `json:"uploadExports" mapstructure:"uploadExports"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName" validate:"required"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout" validate:"gt=0"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// StreamConfig describes a websocket endpoint.
type StreamConfig struct {
	URL            string        `json:"url" mapstructure:"url" validate:"omitempty,url"`
	Secret         string        `json:"secret" mapstructure:"secret"`
	ReconnectDelay time.Duration `json:"reconnectDelay" mapstructure:"reconnectDelay" validate:"gte=0"`
}

// SurfaceConfig describes the map surface stream.
type SurfaceConfig struct {
	StreamConfig `mapstructure:",squash"`
	Projection   int `json:"projection" mapstructure:"projection" validate:"oneof=4326 3857"`
}

var validate = validator.New()

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./playbacklogs")

	viper.SetDefault("playback.packetWindow", "10s")
	viper.SetDefault("playback.gapThreshold", "20s")
	viper.SetDefault("playback.offlineAfter", "30m")
	viper.SetDefault("playback.driftThreshold", "60s")
	viper.SetDefault("playback.prefetchRatio", 0.7)
	viper.SetDefault("playback.overspeedKmh", 80)
	viper.SetDefault("playback.etaPollTicks", 30)
	viper.SetDefault("playback.cacheWindows", 16)

	viper.SetDefault("api.serverUrl", "http://localhost:5000/api")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.uploadExports", false)

	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("shutdownTimeout", "30s")
	viper.SetDefault("eventloop.queueSize", 1024)

	viper.SetDefault("feed.url", "")
	viper.SetDefault("feed.secret", "")
	viper.SetDefault("feed.reconnectDelay", "5s")
	viper.SetDefault("surface.url", "")
	viper.SetDefault("surface.secret", "")
	viper.SetDefault("surface.reconnectDelay", "5s")
	viper.SetDefault("surface.projection", 4326)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "fleet")
	viper.SetDefault("db.postgis", false)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.flushInterval", "2s")
	viper.SetDefault("storage.memory.outputDir", "")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "1m")
	viper.SetDefault("storage.seedFile", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "fleet-metrics")
	viper.SetDefault("influx.backupPath", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "playbackd")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return Validate()
}

// Validate checks every typed section.
func Validate() error {
	sections := []any{
		GetPlaybackConfig(),
		GetStorageConfig(),
		GetInfluxConfig(),
		GetAPIConfig(),
		GetOTelConfig(),
		GetFeedConfig(),
		GetSurfaceConfig(),
	}
	for _, s := range sections {
		if err := validate.Struct(s); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

func GetPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		PacketWindow:   viper.GetDuration("playback.packetWindow"),
		GapThreshold:   viper.GetDuration("playback.gapThreshold"),
		OfflineAfter:   viper.GetDuration("playback.offlineAfter"),
		DriftThreshold: viper.GetDuration("playback.driftThreshold"),
		PrefetchRatio:  viper.GetFloat64("playback.prefetchRatio"),
		OverspeedKmh:   viper.GetFloat64("playback.overspeedKmh"),
		ETAPollTicks:   viper.GetInt("playback.etaPollTicks"),
		CacheWindows:   viper.GetInt("playback.cacheWindows"),
	}
}

func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:          viper.GetString("storage.type"),
		FlushInterval: viper.GetDuration("storage.flushInterval"),
		Memory: MemoryConfig{
			OutputDir: viper.GetString("storage.memory.outputDir"),
			Compress:  viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
			PostGIS:  viper.GetBool("db.postgis"),
		},
		SeedFile: viper.GetString("storage.seedFile"),
	}
}

func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Protocol:   viper.GetString("influx.protocol"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL:     viper.GetString("api.serverUrl"),
		APIKey:        viper.GetString("api.apiKey"),
		UploadExports: viper.GetBool("api.uploadExports"),
	}
}

func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

func GetFeedConfig() StreamConfig {
	return StreamConfig{
		URL:            viper.GetString("feed.url"),
		Secret:         viper.GetString("feed.secret"),
		ReconnectDelay: viper.GetDuration("feed.reconnectDelay"),
	}
}

func GetSurfaceConfig() SurfaceConfig {
	return SurfaceConfig{
		StreamConfig: StreamConfig{
			URL:            viper.GetString("surface.url"),
			Secret:         viper.GetString("surface.secret"),
			ReconnectDelay: viper.GetDuration("surface.reconnectDelay"),
		},
		Projection: viper.GetInt("surface.projection"),
	}
}
