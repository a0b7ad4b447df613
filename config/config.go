package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/chronoswap/chronoswap/chain"
	"github.com/chronoswap/chronoswap/storage"
)

type Config struct {
	Server struct {
		Host     string `mapstructure:"host" json:"host,omitempty"`
		Port     int64  `mapstructure:"port" json:"port,omitempty"`
		Database struct {
			DSN string `mapstructure:"dsn" json:"dsn,omitempty"`
		} `mapstructure:"database" json:"database,omitempty"`
	} `mapstructure:"server" json:"server"`

	Chain chain.Config `mapstructure:"chain" json:"chain,omitempty"`

	Admin struct {
		// Owners may pause the engine and trigger an emergency wind-down.
		Owners []string `mapstructure:"owners" json:"owners,omitempty"`
	} `mapstructure:"admin" json:"admin,omitempty"`

	Redis storage.RedisConfig `mapstructure:"redis" json:"redis,omitempty"`

	BlockStorage storage.BlockStorageConfig `mapstructure:"block_storage" json:"block_storage,omitempty"`

	Datadog struct {
		Host string `mapstructure:"host" json:"host,omitempty"`
		Port string `mapstructure:"port" json:"port,omitempty"`
	} `mapstructure:"datadog" json:"datadog"`
}

func GetConfigure() (*Config, error) {
	configName := os.Getenv("CS_CONFIG_NAME")
	if configName == "" {
		configName = "config"
	}

	return ReadConfig(configName)
}

func ReadConfig(configName string) (*Config, error) {
	viper.SetConfigName(configName)
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("Datadog.Host", "localhost")
	viper.SetDefault("Datadog.Port", "8125")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fail to reading config file, %w", err)
	}
	var cfg Config
	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	return &cfg, nil
}
