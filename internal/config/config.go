package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/stockyard/extension/internal/catalog"
	"github.com/stockyard/extension/pkg/core"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "stockyard.cfg.json"

// SpawnConfig holds spawn/despawn controller settings
type SpawnConfig struct {
	Interval        time.Duration `json:"interval" mapstructure:"interval"`
	SpawnDistance   float64       `json:"spawnDistance" mapstructure:"spawnDistance"`
	DespawnDistance float64       `json:"despawnDistance" mapstructure:"despawnDistance"`
	StationarySpeed float64       `json:"stationarySpeed" mapstructure:"stationarySpeed"`
}

// GenerationConfig holds job generation settings
type GenerationConfig struct {
	Attempts    int           `json:"attempts" mapstructure:"attempts"`
	FrameBudget time.Duration `json:"frameBudget" mapstructure:"frameBudget"`
}

// JSONConfig holds JSON file storage backend settings
type JSONConfig struct {
	Path     string `json:"path" mapstructure:"path"`
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// DBConfig holds Postgres connection settings
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// StorageConfig selects and configures the save backend
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	JSON   JSONConfig   `json:"json" mapstructure:"json"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
	DB     DBConfig     `json:"db" mapstructure:"db"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds InfluxDB statistics sink settings
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// GraylogConfig holds GELF sink settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// MonitorConfig holds the status file writer settings
type MonitorConfig struct {
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./stockyardlogs")

	viper.SetDefault("spawn.interval", "5s")
	viper.SetDefault("spawn.spawnDistance", 1000.0)
	viper.SetDefault("spawn.despawnDistance", 1500.0)
	viper.SetDefault("spawn.stationarySpeed", 0.1)

	viper.SetDefault("generation.attempts", 30)
	viper.SetDefault("generation.frameBudget", "4ms")

	viper.SetDefault("storage.type", "json")
	viper.SetDefault("storage.json.path", "./stockyard_save.json")
	viper.SetDefault("storage.json.compress", false)
	viper.SetDefault("storage.sqlite.path", "./stockyard.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "stockyard")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "stockyard")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "stockyard")
	viper.SetDefault("influx.bucket", "stockyard_stats")
	viper.SetDefault("influx.backupPath", "./stockyardlogs/influx_backup.log.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("monitor.statusFile", "")
	viper.SetDefault("monitor.interval", "10s")

	viper.SetDefault("catalog.defaultCarLength", 15.0)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// LoadDefaults sets default values without reading a file.
func LoadDefaults() {
	setDefaults()
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

// GetSpawnConfig returns spawn controller settings.
func GetSpawnConfig() SpawnConfig {
	return SpawnConfig{
		Interval:        viper.GetDuration("spawn.interval"),
		SpawnDistance:   viper.GetFloat64("spawn.spawnDistance"),
		DespawnDistance: viper.GetFloat64("spawn.despawnDistance"),
		StationarySpeed: viper.GetFloat64("spawn.stationarySpeed"),
	}
}

// GetGenerationConfig returns job generation settings.
func GetGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Attempts:    viper.GetInt("generation.attempts"),
		FrameBudget: viper.GetDuration("generation.frameBudget"),
	}
}

// GetDBConfig returns Postgres connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetStorageConfig returns save backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		JSON: JSONConfig{
			Path:     viper.GetString("storage.json.path"),
			Compress: viper.GetBool("storage.json.compress"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		DB: GetDBConfig(),
	}
}

// GetOTelConfig returns OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns InfluxDB sink settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetGraylogConfig returns GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetMonitorConfig returns status file settings. An empty path disables
// the writer.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StatusFile: viper.GetString("monitor.statusFile"),
		Interval:   viper.GetDuration("monitor.interval"),
	}
}

// GetCatalogConfig decodes the catalog tables.
func GetCatalogConfig() (catalog.Tables, error) {
	var t catalog.Tables
	if err := viper.UnmarshalKey("catalog", &t); err != nil {
		return catalog.Tables{}, fmt.Errorf("decoding catalog: %w", err)
	}
	if t.DefaultCarLength == 0 {
		t.DefaultCarLength = viper.GetFloat64("catalog.defaultCarLength")
	}
	return t, nil
}

// GetYards decodes the yards section. Hosts that provide their own yards
// leave it empty.
func GetYards() ([]*core.Yard, error) {
	var yards []*core.Yard
	if err := viper.UnmarshalKey("yards", &yards); err != nil {
		return nil, fmt.Errorf("decoding yards: %w", err)
	}
	return yards, nil
}
