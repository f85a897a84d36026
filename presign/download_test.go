package presign

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meancat/panicstream/api"
	"github.com/meancat/panicstream/internal/filecheck"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Download(t *testing.T) {
	// Given
	content := strings.Repeat("ts-packet", 200*1024)

	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recordings/panic_1.ts", r.URL.Path)
		http.ServeContent(w, r, "panic_1.ts", time.Now(), bytes.NewReader([]byte(content)))
	}))
	defer store.Close()

	coordinator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/upload/download", r.URL.Path)
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewEncoder(w).Encode(api.DownloadResponse{URL: store.URL + "/recordings/" + r.URL.Query().Get("key")}))
	}))
	defer coordinator.Close()

	dest := filepath.Join(t.TempDir(), "panic_1.ts")

	// When
	err := newTestClient(coordinator.URL, "jwt-token").Download(context.Background(), "panic_1.ts", dest)

	// Then
	require.NoError(t, err)
	assert.NoError(t, filecheck.New(dest).IsFile().Size(int64(len(content))).Content([]byte(content)).Check())
}

func TestClient_Download_Unauthorized(t *testing.T) {
	coordinator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer coordinator.Close()

	err := newTestClient(coordinator.URL, "").Download(context.Background(), "panic_1.ts", filepath.Join(t.TempDir(), "out.ts"))

	require.Error(t, err)
	assert.Equal(t, api.KindUnauthorized, api.KindOf(err))
}
