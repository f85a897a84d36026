package objectstore

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/meancat/panicstream/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completeBody struct {
	Parts []struct {
		PartNumber int
		ETag       string
	} `xml:"Part"`
}

type fakeS3 struct {
	mu        sync.Mutex
	requests  []string
	completed completeBody
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	query := r.URL.Query()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	switch {
	case r.Method == http.MethodPost && query.Has("uploads"):
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<InitiateMultipartUploadResult><Bucket>recordings</Bucket><Key>panic_1.ts</Key><UploadId>upload-1</UploadId></InitiateMultipartUploadResult>`)
	case r.Method == http.MethodPost && query.Get("uploadId") != "":
		body, _ := io.ReadAll(r.Body)
		_ = xml.Unmarshal(body, &f.completed)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<CompleteMultipartUploadResult><Bucket>recordings</Bucket><Key>panic_1.ts</Key><ETag>"final"</ETag></CompleteMultipartUploadResult>`)
	case r.Method == http.MethodDelete && query.Get("uploadId") == "missing":
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchUpload</Code><Message>The specified upload does not exist.</Message></Error>`)
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestStore(endpoint string) *S3Store {
	cfg := aws.Config{
		Region:           "us-east-1",
		Credentials:      credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		RetryMaxAttempts: 1,
	}
	return NewS3StoreFromConfig(cfg, Options{
		Endpoint:  endpoint,
		Bucket:    "recordings",
		PathStyle: true,
	}, log.NewLogger())
}

func TestS3Store_MultipartLifecycle(t *testing.T) {
	fake := &fakeS3{}
	server := httptest.NewServer(fake)
	defer server.Close()

	store := newTestStore(server.URL)
	ctx := context.Background()

	// When
	uploadID, err := store.CreateMultipartUpload(ctx, "panic_1.ts")
	require.NoError(t, err)

	err = store.CompleteMultipartUpload(ctx, "panic_1.ts", uploadID, []api.CompletedPart{
		{PartNumber: 2, ETag: "\"b\""},
		{PartNumber: 1, ETag: "\"a\""},
		{PartNumber: 3, ETag: "\"c\""},
	})
	require.NoError(t, err)

	err = store.AbortMultipartUpload(ctx, "panic_1.ts", uploadID)
	require.NoError(t, err)

	// Then
	assert.Equal(t, "upload-1", uploadID)
	require.Len(t, fake.completed.Parts, 3)
	for i, part := range fake.completed.Parts {
		assert.Equal(t, i+1, part.PartNumber)
	}
	assert.Equal(t, "\"a\"", fake.completed.Parts[0].ETag)
	assert.Equal(t, []string{
		"POST /recordings/panic_1.ts",
		"POST /recordings/panic_1.ts",
		"DELETE /recordings/panic_1.ts",
	}, fake.requests)
}

func TestS3Store_AbortUnknownUpload(t *testing.T) {
	server := httptest.NewServer(&fakeS3{})
	defer server.Close()

	err := newTestStore(server.URL).AbortMultipartUpload(context.Background(), "panic_1.ts", "missing")

	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrBadRequest))
}

func TestS3Store_PresignUploadPart(t *testing.T) {
	store := newTestStore("http://127.0.0.1:9000")

	grant, err := store.PresignUploadPart(context.Background(), "dir/panic_1.ts", "upload-1", 3, 30*time.Minute)
	require.NoError(t, err)

	parsed, err := url.Parse(grant.URL)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", parsed.Host)
	assert.Equal(t, "/recordings/dir/panic_1.ts", parsed.Path)
	assert.Equal(t, "3", parsed.Query().Get("partNumber"))
	assert.Equal(t, "upload-1", parsed.Query().Get("uploadId"))
	assert.Equal(t, "1800", parsed.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, parsed.Query().Get("X-Amz-Signature"))
	assert.NotContains(t, grant.Headers, "Host")
}

func TestS3Store_PresignUploadPart_InvalidPartNumber(t *testing.T) {
	store := newTestStore("http://127.0.0.1:9000")

	for _, partNumber := range []int{0, -1, 10001} {
		_, err := store.PresignUploadPart(context.Background(), "key", "upload-1", partNumber, time.Minute)
		assert.True(t, errors.Is(err, api.ErrBadRequest), "part %d", partNumber)
	}
}

func TestS3Store_PresignPutObject(t *testing.T) {
	store := newTestStore("http://127.0.0.1:9000")

	grant, err := store.PresignPutObject(context.Background(), "panic_chunks/a.ts", "video/MP2T", 15*time.Minute)
	require.NoError(t, err)

	parsed, err := url.Parse(grant.URL)
	require.NoError(t, err)

	assert.Equal(t, "/recordings/panic_chunks/a.ts", parsed.Path)
	assert.Equal(t, "900", parsed.Query().Get("X-Amz-Expires"))
	assert.Equal(t, "content-type;host", parsed.Query().Get("X-Amz-SignedHeaders"))
	assert.Equal(t, "video/MP2T", grant.Headers["Content-Type"])
}

func TestS3Store_PresignPutObject_WithoutContentType(t *testing.T) {
	store := newTestStore("http://127.0.0.1:9000")

	grant, err := store.PresignPutObject(context.Background(), "dir/panic_1.ts", "", 15*time.Minute)
	require.NoError(t, err)

	parsed, err := url.Parse(grant.URL)
	require.NoError(t, err)

	assert.Equal(t, "host", parsed.Query().Get("X-Amz-SignedHeaders"))
	assert.NotContains(t, grant.Headers, "Content-Type")
}

func TestS3Store_PresignGetObject(t *testing.T) {
	store := newTestStore("http://127.0.0.1:9000")

	presignedURL, err := store.PresignGetObject(context.Background(), "panic_1.ts", time.Hour)
	require.NoError(t, err)

	parsed, err := url.Parse(presignedURL)
	require.NoError(t, err)
	assert.Equal(t, "/recordings/panic_1.ts", parsed.Path)
	assert.Equal(t, "3600", parsed.Query().Get("X-Amz-Expires"))
}

func TestLoadAWSConfig_RequiresRegion(t *testing.T) {
	_, err := loadAWSConfig(context.Background(), "", "id", "secret", log.NewLogger())

	assert.EqualError(t, err, "region must not be empty")
}

func TestSignedHeaders(t *testing.T) {
	headers := signedHeaders(http.Header{
		"Host":         {"store"},
		"content-type": {"video/MP2T"},
		"X-Amz-Meta-A": {"1", "2"},
	})

	assert.Equal(t, map[string]string{
		"Content-Type": "video/MP2T",
		"X-Amz-Meta-A": "1,2",
	}, headers)
}
