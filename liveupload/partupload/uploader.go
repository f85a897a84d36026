// Package partupload PUTs part bytes directly to presigned object-store URLs.
// It supports bounded per-part retries with fresh grants and hung request detection.
package partupload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/meancat/panicstream/api"
)

// Part is one contiguous byte range of the target object.
type Part struct {
	Number int
	Data   []byte
}

// GrantFunc returns a fresh, single-use grant for the given part number.
// It is called once per attempt because grants must not be reused.
type GrantFunc func(ctx context.Context, partNumber int) (api.PartGrant, error)

// Uploader handles sequential part uploads with retry and hung detection.
type Uploader struct {
	config     Config
	httpClient *http.Client
	logger     log.Logger
	stats      *Stats
}

// New creates a new Uploader with the given configuration.
func New(config Config, logger log.Logger) *Uploader {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}

	return &Uploader{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		stats:      NewStats(),
	}
}

// UploadPart uploads one part and returns the ETag reported by the object store.
// Unauthorized and bad request failures of the grant call end the retries early.
func (u *Uploader) UploadPart(ctx context.Context, part Part, grantFn GrantFunc) (string, error) {
	if len(part.Data) == 0 {
		return "", api.NewError("upload part", api.KindBadRequest, fmt.Errorf("part %d is empty", part.Number))
	}

	attempts := u.config.attempts()
	var etag string

	err := retry.Times(uint(attempts-1)).Wait(u.config.RetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("part %d upload cancelled: %w", part.Number, err), true
		}

		u.logger.Debugf("Uploading part %d (%s, attempt %d/%d) [finished=%d] [avg=%v]",
			part.Number, units.HumanSize(float64(len(part.Data))), attempt+1, attempts,
			u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

		grant, err := grantFn(ctx, part.Number)
		if err != nil {
			u.logger.Warnf("Presigning part %d failed: %v", part.Number, err)
			return err, !api.Retryable(err) || ctx.Err() != nil
		}

		start := time.Now()
		partCtx, cancelPart := u.attemptContext(ctx)
		if int(attempt) < attempts-1 && u.config.HungThreshold > 0 {
			go u.detectHungUpload(partCtx, cancelPart, start, part.Number)
		}

		etag, err = u.put(partCtx, bytes.NewReader(part.Data), int64(len(part.Data)), grant)
		cancelPart()

		if err == nil {
			took := time.Since(start)
			u.stats.Update(took, int64(len(part.Data)))
			u.logger.Debugf("Part %d uploaded in %v, ETag: %s", part.Number, took.Round(time.Millisecond), etag)
			return nil, false
		}

		u.logger.Warnf("Part %d attempt %d failed: %v", part.Number, attempt+1, err)
		return err, ctx.Err() != nil
	})
	if err != nil {
		return "", fmt.Errorf("upload part %d: %w", part.Number, err)
	}

	return etag, nil
}

// UploadFile PUTs a finished file as a single object to a presigned URL.
func (u *Uploader) UploadFile(ctx context.Context, path string, grant api.PartGrant) (string, error) {
	var etag string
	attempts := u.config.attempts()

	err := retry.Times(uint(attempts-1)).Wait(u.config.RetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		file, err := os.Open(path)
		if err != nil {
			return api.NewError("open file", api.KindIO, err), true
		}
		defer file.Close() //nolint:errcheck

		info, err := file.Stat()
		if err != nil {
			return api.NewError("stat file", api.KindIO, err), true
		}

		u.logger.Debugf("Uploading %s (%s, attempt %d/%d)", path, units.HumanSize(float64(info.Size())), attempt+1, attempts)

		start := time.Now()
		etag, err = u.put(ctx, file, info.Size(), grant)
		if err != nil {
			u.logger.Warnf("Upload attempt %d failed: %v", attempt+1, err)
			return err, ctx.Err() != nil
		}
		u.stats.Update(time.Since(start), info.Size())
		return nil, false
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}

	return etag, nil
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// CloseIdleConnections closes idle connections in the HTTP client.
func (u *Uploader) CloseIdleConnections() {
	if transport, ok := u.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

func (u *Uploader) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.config.PartTimeout > 0 {
		return context.WithTimeout(ctx, u.config.PartTimeout)
	}
	return context.WithCancel(ctx)
}

func (u *Uploader) detectHungUpload(ctx context.Context, cancel context.CancelFunc, start time.Time, partNumber int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.stats.FinishedCount() > 0 {
				elapsed := time.Since(start)
				avg := u.stats.Average()
				if elapsed-avg > u.config.HungThreshold {
					u.logger.Warnf("Found hung part upload (part %d); canceling request after %s (avg: %s)",
						partNumber, elapsed.Round(time.Second), avg.Round(time.Second))
					cancel()
					return
				}
			}
		}
	}
}

func (u *Uploader) put(ctx context.Context, body io.Reader, size int64, grant api.PartGrant) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, grant.URL, body)
	if err != nil {
		return "", api.NewError("put", api.KindTransport, fmt.Errorf("create request: %w", err))
	}

	// Only the headers the grant was signed with; no default Content-Type.
	for k, v := range grant.Headers {
		req.Header.Set(k, v)
	}
	req.ContentLength = size

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", api.NewError("put", api.KindTransport, fmt.Errorf("request cancelled: %w", ctx.Err()))
		}
		return "", api.NewError("put", api.KindTransport, fmt.Errorf("do request: %w", err))
	}
	defer func(body io.ReadCloser) {
		_, _ = io.Copy(io.Discard, body)
		if err := body.Close(); err != nil {
			u.logger.Warnf("close response body: %s", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody := make([]byte, 1024)
		n, _ := io.ReadAtLeast(resp.Body, errorBody, 1)
		return "", &api.Error{
			Op:         "put",
			Kind:       api.KindTransport,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("upload failed: %s", string(errorBody[:n])),
		}
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", api.NewError("put", api.KindStoreInconsistency, fmt.Errorf("no ETag in response"))
	}

	return etag, nil
}
