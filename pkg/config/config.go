package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	Checker CheckerConfig
	Batch   BatchConfig
	Account AccountConfig
	Export  ExportConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	ViewTTL  int
}

type CheckerConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type BatchConfig struct {
	PollIntervalSec       int
	RecoveryLookbackHours int
	ResultFetchLimit      int
	CreditCostPerCheck    int
}

type AccountConfig struct {
	Domain string
	Brand  string
}

type ExportConfig struct {
	Endpoint string
	Dir      string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/promptreviews")

	viper.SetEnvPrefix("PROMPTREVIEWS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/visibility.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.viewTTL", 300)

	viper.SetDefault("checker.model", "gpt-4o")
	viper.SetDefault("checker.temperature", 0.2)
	viper.SetDefault("checker.maxTokens", 2048)
	viper.SetDefault("checker.timeoutSec", 60)

	viper.SetDefault("batch.pollIntervalSec", 3)
	viper.SetDefault("batch.recoveryLookbackHours", 2)
	viper.SetDefault("batch.resultFetchLimit", 500)
	viper.SetDefault("batch.creditCostPerCheck", 1)

	viper.SetDefault("export.dir", "./data/exports")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
