// Package api holds the JSON wire types shared by the presigning coordinator and its
// clients, and the error kinds both sides branch on.
package api

// TokenRequest ...
type TokenRequest struct {
	Username string `json:"username,omitempty"`
}

// TokenResponse ...
type TokenResponse struct {
	Token string `json:"token"`
}

// PresignRequest asks for a single-object PUT URL for an arbitrary key.
type PresignRequest struct {
	Key string `json:"key"`
}

// PresignResponse ...
type PresignResponse struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// StartMultipartRequest ...
type StartMultipartRequest struct {
	KeyHint string `json:"keyHint"`
}

// StartMultipartResponse ...
type StartMultipartResponse struct {
	UploadID  string `json:"uploadId"`
	ObjectKey string `json:"objectKey"`
}

// PresignPartRequest uses pointers so that a missing field can be told apart from a zero value.
type PresignPartRequest struct {
	UploadID   *string `json:"uploadId"`
	PartNumber *int    `json:"partNumber"`
	ObjectKey  *string `json:"objectKey"`
}

// PartGrant is a single-use authorization to PUT one part. Headers must be sent verbatim.
type PartGrant struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// CompletedPart is one successfully uploaded part of a multipart upload.
type CompletedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"eTag"`
}

// CompleteMultipartRequest ...
type CompleteMultipartRequest struct {
	UploadID  string          `json:"uploadId"`
	ObjectKey string          `json:"objectKey"`
	Parts     []CompletedPart `json:"parts"`
}

// AbortMultipartRequest ...
type AbortMultipartRequest struct {
	UploadID  string `json:"uploadId"`
	ObjectKey string `json:"objectKey"`
}

// DownloadResponse ...
type DownloadResponse struct {
	URL string `json:"url"`
}

// OKResponse ...
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the body of every non-2xx coordinator response.
type ErrorResponse struct {
	Error string `json:"error"`
}
