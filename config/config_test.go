package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRepository map[string]string

func (r mapRepository) List() []string {
	var envs []string
	for k, v := range r {
		envs = append(envs, k+"="+v)
	}
	return envs
}

func (r mapRepository) Unset(key string) error {
	delete(r, key)
	return nil
}

func (r mapRepository) Get(key string) string {
	return r[key]
}

func (r mapRepository) Set(key, value string) error {
	r[key] = value
	return nil
}

const signingKey = "0123456789abcdef0123456789abcdef"

func TestLoadServer_FromEnvironment(t *testing.T) {
	// Given
	t.Setenv("PANIC_AUTH_APP_KEY", "app-secret")
	t.Setenv("PANIC_AUTH_SIGNING_KEY", signingKey)
	t.Setenv("PANIC_S3_BUCKET", "recordings")
	t.Setenv("PANIC_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("PANIC_UPLOAD_PART_URL_EXPIRY", "20m")

	// When
	config, err := LoadServer(NewViper(), "")

	// Then
	require.NoError(t, err)
	assert.Equal(t, ":8080", config.Listen)
	assert.Equal(t, "app-secret", config.Auth.AppKey)
	assert.Equal(t, time.Hour, config.Auth.TokenTTL)
	assert.Equal(t, "recordings", config.S3.Bucket)
	assert.Equal(t, "http://minio:9000", config.S3.Endpoint)
	assert.Equal(t, "us-east-1", config.S3.Region)
	assert.True(t, config.S3.PathStyle)
	assert.Equal(t, 20*time.Minute, config.Upload.PartURLExpiry)
	assert.Equal(t, 15*time.Minute, config.Upload.ObjectURLExpiry)
}

func TestLoadServer_FromFile(t *testing.T) {
	// Given
	path := filepath.Join(t.TempDir(), "panicstream.yml")
	content := `
listen: 127.0.0.1:9999
auth:
  app_key: from-file
  signing_key: ` + signingKey + `
  token_ttl: 10m
s3:
  region: eu-central-1
  bucket: file-bucket
  path_style: false
upload:
  allowed_keys:
    - "panic_*.ts"
    - "devices/**"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PANIC_S3_BUCKET", "env-bucket")

	// When
	config, err := LoadServer(NewViper(), path)

	// Then
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", config.Listen)
	assert.Equal(t, "from-file", config.Auth.AppKey)
	assert.Equal(t, 10*time.Minute, config.Auth.TokenTTL)
	assert.Equal(t, "eu-central-1", config.S3.Region)
	assert.Equal(t, "env-bucket", config.S3.Bucket, "environment overrides the file")
	assert.False(t, config.S3.PathStyle)
	assert.Equal(t, []string{"panic_*.ts", "devices/**"}, config.Upload.AllowedKeys)
}

func TestLoadServer_Invalid(t *testing.T) {
	t.Setenv("PANIC_AUTH_SIGNING_KEY", "short")

	_, err := LoadServer(NewViper(), "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.app_key is required")
	assert.Contains(t, err.Error(), "auth.signing_key must be at least 32 bytes long")
	assert.Contains(t, err.Error(), "s3.bucket is required")
}

func TestLoadServer_MissingFile(t *testing.T) {
	_, err := LoadServer(NewViper(), filepath.Join(t.TempDir(), "missing.yml"))

	assert.Error(t, err)
}

func TestLoadClient(t *testing.T) {
	tests := []struct {
		name    string
		envs    mapRepository
		want    Client
		wantErr string
	}{
		{
			name: "defaults",
			envs: mapRepository{APIURLKey: "https://panic.example.com", AppSecretKey: "secret"},
			want: Client{APIURL: "https://panic.example.com", AppSecret: "secret"},
		},
		{
			name: "part size and debug",
			envs: mapRepository{APIURLKey: "https://panic.example.com", AppSecretKey: "secret", UsernameKey: "alice", PartSizeKey: "8MiB", DebugKey: "true"},
			want: Client{APIURL: "https://panic.example.com", AppSecret: "secret", Username: "alice", PartSize: 8 * 1024 * 1024, Debug: true},
		},
		{
			name:    "part size below the store minimum",
			envs:    mapRepository{PartSizeKey: "1MB"},
			wantErr: "PANIC_PART_SIZE must be at least 5MiB, got 1MiB",
		},
		{
			name:    "invalid part size",
			envs:    mapRepository{PartSizeKey: "lots"},
			wantErr: "parse PANIC_PART_SIZE: invalid size: 'lots'",
		},
		{
			name:    "invalid debug flag",
			envs:    mapRepository{DebugKey: "sometimes"},
			wantErr: `parse PANIC_DEBUG: strconv.ParseBool: parsing "sometimes": invalid syntax`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadClient(tt.envs)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePartSize(t *testing.T) {
	size, err := ParsePartSize("--part-size", "16MiB")
	require.NoError(t, err)
	assert.Equal(t, 16*1024*1024, size)

	_, err = ParsePartSize("--part-size", "64KiB")
	assert.EqualError(t, err, "--part-size must be at least 5MiB, got 64KiB")

	_, err = ParsePartSize("--part-size", "huge")
	assert.EqualError(t, err, "parse --part-size: invalid size: 'huge'")
}

func TestClient_Validate(t *testing.T) {
	assert.NoError(t, Client{APIURL: "http://localhost:8080", AppSecret: "s"}.Validate())
	assert.EqualError(t, Client{AppSecret: "s"}.Validate(), "PANIC_API_URL is required")
	assert.Error(t, Client{APIURL: "localhost:8080", AppSecret: "s"}.Validate())
	assert.EqualError(t, Client{APIURL: "https://panic.example.com"}.Validate(), "PANIC_APP_SECRET is required")
}
