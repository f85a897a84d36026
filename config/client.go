package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
)

// Device-side environment variables.
const (
	APIURLKey    = "PANIC_API_URL"
	AppSecretKey = "PANIC_APP_SECRET"
	UsernameKey  = "PANIC_USERNAME"
	PartSizeKey  = "PANIC_PART_SIZE"
	DebugKey     = "PANIC_DEBUG"
)

// MinPartSize is the smallest part size S3 accepts for all but the last part.
const MinPartSize = 5 * 1024 * 1024

// Client is the configuration of a recording device.
type Client struct {
	APIURL    string
	AppSecret string
	Username  string
	// PartSize is 0 when not configured.
	PartSize int
	Debug    bool
}

// ParsePartSize parses a human readable part size such as "8MiB". name labels the source of
// raw in errors.
func ParsePartSize(name, raw string) (int, error) {
	size, err := units.RAMInBytes(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if size < MinPartSize {
		return 0, fmt.Errorf("%s must be at least %s, got %s", name, units.BytesSize(MinPartSize), units.BytesSize(float64(size)))
	}
	return int(size), nil
}

// LoadClient reads the device configuration from the environment.
func LoadClient(envRepo env.Repository) (Client, error) {
	config := Client{
		APIURL:    strings.TrimSpace(envRepo.Get(APIURLKey)),
		AppSecret: envRepo.Get(AppSecretKey),
		Username:  envRepo.Get(UsernameKey),
	}

	if raw := strings.TrimSpace(envRepo.Get(PartSizeKey)); raw != "" {
		size, err := ParsePartSize(PartSizeKey, raw)
		if err != nil {
			return Client{}, err
		}
		config.PartSize = size
	}

	if raw := strings.TrimSpace(envRepo.Get(DebugKey)); raw != "" {
		debug, err := strconv.ParseBool(raw)
		if err != nil {
			return Client{}, fmt.Errorf("parse %s: %w", DebugKey, err)
		}
		config.Debug = debug
	}

	return config, nil
}

// Validate checks what every coordinator call needs.
func (c Client) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("%s is required", APIURLKey)
	}
	parsed, err := url.Parse(c.APIURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", APIURLKey, c.APIURL)
	}
	if c.AppSecret == "" {
		return errors.New(AppSecretKey + " is required")
	}
	return nil
}
