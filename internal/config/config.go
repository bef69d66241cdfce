// Package config loads the relay's runtime configuration: viper with a "__"
// key delimiter, environment overrides, and struct-tag validation.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppConfig is the validated, typed view of the relay's configuration.
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	// BrokerHost/BrokerPort is the device-facing broker listener (default 6060).
	BrokerHost string `mapstructure:"broker_host" validate:"required"`
	BrokerPort int    `mapstructure:"broker_port" validate:"required"`

	// BridgeHost/BridgePort is the point-to-point browser bridge listener (default 6054).
	BridgeHost string `mapstructure:"bridge_host" validate:"required"`
	BridgePort int    `mapstructure:"bridge_port" validate:"required"`

	// StatusAddr serves the gin/websocket reference collaborator (empty disables it).
	StatusAddr string `mapstructure:"status_addr"`

	CallTimeout      time.Duration `mapstructure:"call_timeout" validate:"required"`
	PingInterval     time.Duration `mapstructure:"ping_interval" validate:"required"`
	PingTimeout      time.Duration `mapstructure:"ping_timeout" validate:"required"`
	AudioQueueDepth  int           `mapstructure:"audio_queue_depth" validate:"required,gt=0"`
	BridgeQueueDepth int           `mapstructure:"bridge_queue_depth" validate:"required,gt=0"`
	MaxPayloadBytes  int           `mapstructure:"max_payload_bytes" validate:"required,gt=0"`
}

// InitConfig builds a *viper.Viper populated with defaults, then layers an
// optional .env file (path from ENV_PATH) and environment variables on top.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefaults(vConfig)

	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("no .env file found, reading from environment variables only: %v", err)
	}

	return vConfig, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "intercom-relay")
	v.SetDefault("VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("BROKER_HOST", "0.0.0.0")
	v.SetDefault("BROKER_PORT", 6060)
	v.SetDefault("BRIDGE_HOST", "0.0.0.0")
	v.SetDefault("BRIDGE_PORT", 6054)
	v.SetDefault("STATUS_ADDR", "")

	v.SetDefault("CALL_TIMEOUT", "30s")
	v.SetDefault("PING_INTERVAL", "10s")
	v.SetDefault("PING_TIMEOUT", "30s")
	v.SetDefault("AUDIO_QUEUE_DEPTH", 10)
	v.SetDefault("BRIDGE_QUEUE_DEPTH", 8)
	v.SetDefault("MAX_PAYLOAD_BYTES", 4096)
}

// GetApplicationConfig unmarshals v into a validated AppConfig.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
