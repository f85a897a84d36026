// Package config loads the coordinator and device configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the coordinator.
const EnvPrefix = "PANIC"

// Auth ...
type Auth struct {
	AppKey     string
	SigningKey string
	TokenTTL   time.Duration
}

// S3 describes the bucket the coordinator brokers uploads for.
type S3 struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// Upload ...
type Upload struct {
	PartURLExpiry   time.Duration
	ObjectURLExpiry time.Duration
	AllowedKeys     []string
}

// Server is the coordinator configuration.
type Server struct {
	Listen string
	Debug  bool
	Auth   Auth
	S3     S3
	Upload Upload
}

// NewViper returns a viper instance with the coordinator defaults and environment binding.
// auth.app_key is read from PANIC_AUTH_APP_KEY, s3.bucket from PANIC_S3_BUCKET and so on.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("listen", ":8080")
	v.SetDefault("debug", false)
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.path_style", true)
	v.SetDefault("upload.part_url_expiry", 30*time.Minute)
	v.SetDefault("upload.object_url_expiry", 15*time.Minute)
	v.SetDefault("upload.allowed_keys", []string{})

	// Unset keys are only visible to AutomaticEnv when viper knows about them.
	for _, key := range []string{"auth.app_key", "auth.signing_key", "s3.endpoint", "s3.bucket", "s3.access_key_id", "s3.secret_access_key"} {
		v.SetDefault(key, "")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// LoadServer reads the optional config file and returns the validated configuration.
func LoadServer(v *viper.Viper, configPath string) (Server, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Server{}, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	config := Server{
		Listen: v.GetString("listen"),
		Debug:  v.GetBool("debug"),
		Auth: Auth{
			AppKey:     v.GetString("auth.app_key"),
			SigningKey: v.GetString("auth.signing_key"),
			TokenTTL:   v.GetDuration("auth.token_ttl"),
		},
		S3: S3{
			Endpoint:        v.GetString("s3.endpoint"),
			Region:          v.GetString("s3.region"),
			Bucket:          v.GetString("s3.bucket"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
			PathStyle:       v.GetBool("s3.path_style"),
		},
		Upload: Upload{
			PartURLExpiry:   v.GetDuration("upload.part_url_expiry"),
			ObjectURLExpiry: v.GetDuration("upload.object_url_expiry"),
			AllowedKeys:     v.GetStringSlice("upload.allowed_keys"),
		},
	}

	if err := config.Validate(); err != nil {
		return Server{}, err
	}

	return config, nil
}

// Validate ...
func (c Server) Validate() error {
	var errs []error

	if c.Auth.AppKey == "" {
		errs = append(errs, errors.New("auth.app_key is required"))
	}
	if len(c.Auth.SigningKey) < 32 {
		errs = append(errs, errors.New("auth.signing_key must be at least 32 bytes long"))
	}
	if c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3.bucket is required"))
	}
	if c.S3.Region == "" {
		errs = append(errs, errors.New("s3.region is required"))
	}
	// Presigned S3 URLs are valid for at most 7 days.
	for name, expiry := range map[string]time.Duration{
		"upload.part_url_expiry":   c.Upload.PartURLExpiry,
		"upload.object_url_expiry": c.Upload.ObjectURLExpiry,
	} {
		if expiry <= 0 || expiry > 7*24*time.Hour {
			errs = append(errs, fmt.Errorf("%s must be between 1s and 168h, got %s", name, expiry))
		}
	}

	return errors.Join(errs...)
}
