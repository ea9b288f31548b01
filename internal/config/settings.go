package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. TNXGATE_AUTH_JWT_SECRET.
const EnvPrefix = "TNXGATE"

// Settings are process-level options loaded through viper.
type Settings struct {
	Workspace string `mapstructure:"workspace" validate:"required"`
	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=text json"`
	HTTP      struct {
		Addr     string `mapstructure:"addr" validate:"required"`
		BasePath string `mapstructure:"base_path" validate:"required,startswith=/"`
	} `mapstructure:"http"`
	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=16"`
		JWTIssuer string `mapstructure:"jwt_issuer"`
	} `mapstructure:"auth"`
	Agent struct {
		Endpoint       string  `mapstructure:"endpoint" validate:"omitempty,url"`
		APIKey         string  `mapstructure:"api_key"`
		RetryMax       int     `mapstructure:"retry_max" validate:"gte=0,lte=10"`
		RetryWaitMinMS int     `mapstructure:"retry_wait_min_ms" validate:"gt=0"`
		RetryWaitMaxMS int     `mapstructure:"retry_wait_max_ms" validate:"gtefield=RetryWaitMinMS"`
		RatePerSecond  float64 `mapstructure:"rate_per_second" validate:"gt=0"`
		StaticVerdict  string  `mapstructure:"static_verdict" validate:"omitempty,oneof=pass conditional_pass fail"`
	} `mapstructure:"agent"`
	Blob struct {
		Root string `mapstructure:"root" validate:"required"`
	} `mapstructure:"blob"`
	Dispatch struct {
		Lanes     int `mapstructure:"lanes" validate:"gte=1,lte=256"`
		QueueSize int `mapstructure:"queue_size" validate:"gte=1"`
	} `mapstructure:"dispatch"`
	Idempotency struct {
		TTLHours int `mapstructure:"ttl_hours" validate:"gt=0"`
	} `mapstructure:"idempotency"`
	Secrets struct {
		Provider   string `mapstructure:"provider" validate:"omitempty,oneof=aws"`
		Region     string `mapstructure:"region" validate:"required_if=Provider aws"`
		SecretName string `mapstructure:"secret_name" validate:"required_if=Provider aws"`
	} `mapstructure:"secrets"`
}

// SetDefaults registers every settings key on v so environment overrides resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workspace", ".")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("http.addr", "127.0.0.1:8080")
	v.SetDefault("http.base_path", "/v1")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")
	v.SetDefault("agent.endpoint", "")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.retry_max", 3)
	v.SetDefault("agent.retry_wait_min_ms", 200)
	v.SetDefault("agent.retry_wait_max_ms", 5000)
	v.SetDefault("agent.rate_per_second", 5.0)
	v.SetDefault("agent.static_verdict", "")
	v.SetDefault("blob.root", "blobs")
	v.SetDefault("dispatch.lanes", 8)
	v.SetDefault("dispatch.queue_size", 64)
	v.SetDefault("idempotency.ttl_hours", 24)
	v.SetDefault("secrets.provider", "")
	v.SetDefault("secrets.region", "")
	v.SetDefault("secrets.secret_name", "")
}

// NewViper returns a viper instance wired for TNXGATE_* environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// LoadSettings reads an optional settings file into v and decodes it.
func LoadSettings(v *viper.Viper, path string) (*Settings, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &s, nil
}

// Validate checks struct constraints and formats the first failures readably.
func (s *Settings) Validate() error {
	err := validator.New().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if ok := asValidationErrors(err, &verrs); !ok {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
