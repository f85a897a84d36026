package partupload

import (
	"net"
	"net/http"
	"time"
)

// Config holds configuration for the part uploader.
type Config struct {
	// MaxAttemptsPerPart is the number of PUT attempts for one part, each with a fresh grant.
	// Default: 3
	MaxAttemptsPerPart int

	// RetryWait is the pause between two attempts of the same part.
	// Default: 2 seconds
	RetryWait time.Duration

	// PartTimeout bounds a single PUT attempt, so a stalled network fails the part instead of
	// hanging the worker.
	// Default: 60 seconds
	PartTimeout time.Duration

	// HungThreshold is the duration after which a part upload is considered hung
	// if it exceeds the average upload time by this amount. Zero disables the detection.
	// Default: 30 seconds
	HungThreshold time.Duration

	// HTTPClient is the HTTP client used for the object-store PUTs.
	// If nil, DefaultHTTPClient is used.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttemptsPerPart: 3,
		RetryWait:          2 * time.Second,
		PartTimeout:        60 * time.Second,
		HungThreshold:      30 * time.Second,
		HTTPClient:         nil, // Will be created by Uploader
	}
}

// DefaultHTTPClient creates an HTTP client for direct object-store uploads.
// There is a single in-flight request per run, so the pool stays small.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No overall timeout - each attempt is bounded via context
		Timeout: 0,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   20 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          4,
			MaxConnsPerHost:       2,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
		},
	}
}

func (c Config) attempts() int {
	if c.MaxAttemptsPerPart < 1 {
		return 1
	}
	return c.MaxAttemptsPerPart
}
