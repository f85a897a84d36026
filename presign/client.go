// Package presign is the client of the presigning coordinator. It asks for upload
// authorizations; it never sends payload bytes.
package presign

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/meancat/panicstream/api"
)

// Client talks to the presigning coordinator over HTTP/JSON.
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	token      string
	logger     log.Logger
}

// DefaultCallTimeout bounds a single control-plane request.
const DefaultCallTimeout = 60 * time.Second

// NewClient creates a client with the default retrying HTTP client.
// The token may be empty until FetchToken or WithToken is used.
func NewClient(baseURL string, token string, logger log.Logger) *Client {
	httpClient := retryhttp.NewClient(logger)
	httpClient.HTTPClient.Timeout = DefaultCallTimeout
	return NewClientWithHTTPClient(httpClient, baseURL, token, logger)
}

// NewClientWithHTTPClient ...
func NewClientWithHTTPClient(httpClient *retryablehttp.Client, baseURL string, token string, logger log.Logger) *Client {
	// Keep the last response once retries are exhausted so its status code can be classified.
	if httpClient.ErrorHandler == nil {
		httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      token,
		logger:     logger,
	}
}

// WithToken returns a copy of the client that sends token on every request.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// Token ...
func (c *Client) Token() string {
	return c.token
}

// FetchToken exchanges the shared app secret for a short-lived bearer token.
func (c *Client) FetchToken(ctx context.Context, appSecret, username string) (string, error) {
	var response api.TokenResponse
	if err := c.do(ctx, "fetch token", http.MethodPost, "/api/auth/token", appSecret, api.TokenRequest{Username: username}, &response); err != nil {
		return "", err
	}
	if response.Token == "" {
		return "", api.NewError("fetch token", api.KindStoreInconsistency, fmt.Errorf("empty token in response"))
	}
	return response.Token, nil
}

// StartMultipart ...
func (c *Client) StartMultipart(ctx context.Context, keyHint string) (api.StartMultipartResponse, error) {
	var response api.StartMultipartResponse
	if err := c.do(ctx, "start multipart", http.MethodPost, "/api/upload/multipart/start", c.token, api.StartMultipartRequest{KeyHint: keyHint}, &response); err != nil {
		return api.StartMultipartResponse{}, err
	}
	if response.UploadID == "" || response.ObjectKey == "" {
		return api.StartMultipartResponse{}, api.NewError("start multipart", api.KindStoreInconsistency, fmt.Errorf("missing uploadId or objectKey in response"))
	}
	c.logger.Debugf("Multipart upload started: uploadId=%s objectKey=%s", response.UploadID, response.ObjectKey)
	return response, nil
}

// PresignPart asks for a single-use PUT grant for one part.
func (c *Client) PresignPart(ctx context.Context, uploadID string, partNumber int, objectKey string) (api.PartGrant, error) {
	var response api.PartGrant
	request := api.PresignPartRequest{
		UploadID:   &uploadID,
		PartNumber: &partNumber,
		ObjectKey:  &objectKey,
	}
	query := url.Values{}
	query.Set("uploadId", uploadID)
	query.Set("partNumber", strconv.Itoa(partNumber))
	query.Set("objectKey", objectKey)
	path := "/api/upload/multipart/presign?" + query.Encode()
	if err := c.do(ctx, "presign part", http.MethodPost, path, c.token, request, &response); err != nil {
		return api.PartGrant{}, err
	}
	if response.URL == "" {
		return api.PartGrant{}, api.NewError("presign part", api.KindStoreInconsistency, fmt.Errorf("missing url in response"))
	}
	return response, nil
}

// CompleteMultipart ...
func (c *Client) CompleteMultipart(ctx context.Context, uploadID, objectKey string, parts []api.CompletedPart) error {
	request := api.CompleteMultipartRequest{
		UploadID:  uploadID,
		ObjectKey: objectKey,
		Parts:     parts,
	}
	var response api.OKResponse
	return c.do(ctx, "complete multipart", http.MethodPost, "/api/upload/multipart/complete", c.token, request, &response)
}

// AbortMultipart ...
func (c *Client) AbortMultipart(ctx context.Context, uploadID, objectKey string) error {
	request := api.AbortMultipartRequest{
		UploadID:  uploadID,
		ObjectKey: objectKey,
	}
	var response api.OKResponse
	return c.do(ctx, "abort multipart", http.MethodPost, "/api/upload/multipart/abort", c.token, request, &response)
}

// PresignObject asks for a single-object PUT grant for an arbitrary key.
func (c *Client) PresignObject(ctx context.Context, key string) (api.PartGrant, error) {
	var response api.PresignResponse
	if err := c.do(ctx, "presign object", http.MethodPost, "/api/upload/presign", c.token, api.PresignRequest{Key: key}, &response); err != nil {
		return api.PartGrant{}, err
	}
	return api.PartGrant{URL: response.URL, Headers: response.Headers}, nil
}

// PresignedURL asks for a PUT URL for a recording chunk by file name. The coordinator decides
// the key prefix and the mandatory Content-Type.
func (c *Client) PresignedURL(ctx context.Context, filename string) (string, error) {
	var response string
	path := "/api/upload/presigned?filename=" + url.QueryEscape(filename)
	if err := c.do(ctx, "presigned url", http.MethodGet, path, c.token, nil, &response); err != nil {
		return "", err
	}
	return response, nil
}

// DownloadURL asks for a time-boxed GET URL of a finished recording.
func (c *Client) DownloadURL(ctx context.Context, key string) (string, error) {
	var response api.DownloadResponse
	path := "/api/upload/download?key=" + url.QueryEscape(key)
	if err := c.do(ctx, "download url", http.MethodGet, path, c.token, nil, &response); err != nil {
		return "", err
	}
	return response.URL, nil
}

func (c *Client) do(ctx context.Context, op, method, path, bearer string, requestBody interface{}, responseBody interface{}) error {
	var body []byte
	if requestBody != nil {
		var err error
		body, err = json.Marshal(requestBody)
		if err != nil {
			return api.NewError(op, api.KindBadRequest, err)
		}
	}

	var reader interface{}
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return api.NewError(op, api.KindBadRequest, err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return api.NewError(op, api.KindTransport, err)
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Warnf("%s: close response body: %s", op, err)
		}
	}(resp.Body)

	dump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("%s response dump: %s", op, string(dump))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(responseBody); err != nil {
		return api.NewError(op, api.KindTransport, fmt.Errorf("decode response: %w", err))
	}

	return nil
}

func unwrapError(op string, resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return &api.Error{Op: op, Kind: api.KindForStatus(resp.StatusCode), StatusCode: resp.StatusCode, Err: err}
	}

	message := strings.TrimSpace(string(errorResp))
	var errorBody api.ErrorResponse
	if json.Unmarshal(errorResp, &errorBody) == nil && errorBody.Error != "" {
		message = errorBody.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &api.Error{
		Op:         op,
		Kind:       api.KindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Err:        errors.New(message),
	}
}
