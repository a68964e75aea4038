package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Configuration struct {
	Pesapal  PesapalConfig  `validate:"required"`
	HTTP     HTTPConfig     `validate:"required"`
	Callback CallbackConfig
	Logging  LoggingConfig `validate:"required"`
}

type PesapalConfig struct {
	ConsumerKey         string `mapstructure:"consumer_key" validate:"required"`
	ConsumerSecret      string `mapstructure:"consumer_secret" validate:"required"`
	Environment         string `mapstructure:"environment" validate:"required,oneof=sandbox production"`
	IPNURL              string `mapstructure:"ipn_url" validate:"required,url"`
	IPNNotificationType string `mapstructure:"ipn_notification_type" validate:"required,oneof=GET POST"`
	CallbackURL         string `mapstructure:"callback_url" validate:"required,url"`
	CancellationURL     string `mapstructure:"cancellation_url" validate:"omitempty,url"`
	Branch              string `mapstructure:"branch"`
}

type HTTPConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" validate:"required"`
	RetryMax int           `mapstructure:"retry_max" validate:"gte=0"`
}

// CallbackConfig points at the downstream system that receives payment outcomes.
// Leaving URL empty disables forwarding.
type CallbackConfig struct {
	URL    string `mapstructure:"url" validate:"omitempty,url"`
	Secret string `mapstructure:"secret"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required"`
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// PESAPAL_CONSUMER_KEY, HTTP_RETRY_MAX, ...
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("pesapal.consumer_key", "")
	v.SetDefault("pesapal.consumer_secret", "")
	v.SetDefault("pesapal.environment", "sandbox")
	v.SetDefault("pesapal.ipn_url", "")
	v.SetDefault("pesapal.ipn_notification_type", "GET")
	v.SetDefault("pesapal.callback_url", "")
	v.SetDefault("pesapal.cancellation_url", "")
	v.SetDefault("pesapal.branch", "")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.retry_max", 0)
	v.SetDefault("callback.url", "")
	v.SetDefault("callback.secret", "")
	v.SetDefault("logging.level", "info")
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}
