package server

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/meancat/panicstream/api"
	"github.com/samber/lo"
)

const (
	// DefaultPartURLExpiry is the lifetime of a part grant.
	DefaultPartURLExpiry = 30 * time.Minute
	// DefaultObjectURLExpiry is the lifetime of single-object upload and download URLs.
	DefaultObjectURLExpiry = 15 * time.Minute

	chunkPrefix      = "panic_chunks/"
	chunkContentType = "video/MP2T"
	maxPartNumber    = 10000
)

// Store is the object-store side of the coordinator.
type Store interface {
	CreateMultipartUpload(ctx context.Context, key string) (string, error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int, expiry time.Duration) (api.PartGrant, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []api.CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	PresignPutObject(ctx context.Context, key, contentType string, expiry time.Duration) (api.PartGrant, error)
	PresignGetObject(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ServiceConfig ...
type ServiceConfig struct {
	PartURLExpiry   time.Duration
	ObjectURLExpiry time.Duration
	// AllowedKeys are doublestar patterns object keys must match. Empty allows every key.
	AllowedKeys []string
}

// UploadService validates presigning intents and forwards them to the store.
// It keeps no per-upload state.
type UploadService struct {
	store  Store
	config ServiceConfig
	logger log.Logger
}

// NewUploadService ...
func NewUploadService(store Store, config ServiceConfig, logger log.Logger) (*UploadService, error) {
	if config.PartURLExpiry <= 0 {
		config.PartURLExpiry = DefaultPartURLExpiry
	}
	if config.ObjectURLExpiry <= 0 {
		config.ObjectURLExpiry = DefaultObjectURLExpiry
	}
	for _, pattern := range config.AllowedKeys {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid allowed key pattern: %s", pattern)
		}
	}

	return &UploadService{
		store:  store,
		config: config,
		logger: logger,
	}, nil
}

// StartMultipart starts a multipart upload. The object key is the key hint itself.
func (s *UploadService) StartMultipart(ctx context.Context, keyHint string) (api.StartMultipartResponse, error) {
	if err := s.checkKey("start multipart", keyHint); err != nil {
		return api.StartMultipartResponse{}, err
	}

	uploadID, err := s.store.CreateMultipartUpload(ctx, keyHint)
	if err != nil {
		return api.StartMultipartResponse{}, err
	}

	s.logger.Infof("Started multipart upload %s for %s", uploadID, keyHint)

	return api.StartMultipartResponse{UploadID: uploadID, ObjectKey: keyHint}, nil
}

// PresignPart returns a grant for one part. Missing or invalid parameters are rejected without
// calling the store.
func (s *UploadService) PresignPart(ctx context.Context, request api.PresignPartRequest) (api.PartGrant, error) {
	const op = "presign part"

	uploadID := lo.FromPtr(request.UploadID)
	objectKey := lo.FromPtr(request.ObjectKey)
	if strings.TrimSpace(uploadID) == "" || strings.TrimSpace(objectKey) == "" {
		return api.PartGrant{}, api.NewError(op, api.KindBadRequest, errors.New("uploadId and objectKey are required"))
	}
	if request.PartNumber == nil {
		return api.PartGrant{}, api.NewError(op, api.KindBadRequest, errors.New("partNumber is required"))
	}
	partNumber := *request.PartNumber
	if partNumber < 1 || partNumber > maxPartNumber {
		return api.PartGrant{}, api.NewError(op, api.KindBadRequest, fmt.Errorf("partNumber must be between 1 and %d, got %d", maxPartNumber, partNumber))
	}
	if err := s.checkKey(op, objectKey); err != nil {
		return api.PartGrant{}, err
	}

	return s.store.PresignUploadPart(ctx, objectKey, uploadID, partNumber, s.config.PartURLExpiry)
}

// CompleteMultipart forwards the part list sorted by part number.
func (s *UploadService) CompleteMultipart(ctx context.Context, request api.CompleteMultipartRequest) error {
	const op = "complete multipart"

	if request.UploadID == "" || request.ObjectKey == "" {
		return api.NewError(op, api.KindBadRequest, errors.New("uploadId and objectKey are required"))
	}
	if len(request.Parts) == 0 {
		return api.NewError(op, api.KindBadRequest, errors.New("parts must not be empty"))
	}
	invalid := lo.Filter(request.Parts, func(part api.CompletedPart, _ int) bool {
		return part.PartNumber < 1 || part.ETag == ""
	})
	if len(invalid) > 0 {
		return api.NewError(op, api.KindBadRequest, fmt.Errorf("invalid part %d", invalid[0].PartNumber))
	}
	if duplicates := lo.FindDuplicatesBy(request.Parts, func(part api.CompletedPart) int { return part.PartNumber }); len(duplicates) > 0 {
		return api.NewError(op, api.KindBadRequest, fmt.Errorf("duplicate part %d", duplicates[0].PartNumber))
	}

	parts := make([]api.CompletedPart, len(request.Parts))
	copy(parts, request.Parts)
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].PartNumber < parts[j].PartNumber
	})

	return s.store.CompleteMultipartUpload(ctx, request.ObjectKey, request.UploadID, parts)
}

// AbortMultipart is best effort: a store failure is logged and not reported.
func (s *UploadService) AbortMultipart(ctx context.Context, request api.AbortMultipartRequest) {
	if request.UploadID == "" || request.ObjectKey == "" {
		s.logger.Warnf("Ignoring abort without uploadId or objectKey")
		return
	}

	if err := s.store.AbortMultipartUpload(ctx, request.ObjectKey, request.UploadID); err != nil {
		s.logger.Warnf("Failed to abort multipart upload %s (%s): %s", request.UploadID, request.ObjectKey, err)
	}
}

// PresignChunk presigns a PUT of a recording chunk under the chunk prefix with the mandatory
// transport-stream content type.
func (s *UploadService) PresignChunk(ctx context.Context, filename string) (api.PartGrant, error) {
	const op = "presign chunk"

	filename = strings.TrimSpace(filename)
	if filename == "" {
		return api.PartGrant{}, api.NewError(op, api.KindBadRequest, errors.New("filename is required"))
	}
	if strings.Contains(filename, "/") || filename != path.Base(filename) {
		return api.PartGrant{}, api.NewError(op, api.KindBadRequest, fmt.Errorf("invalid filename: %s", filename))
	}

	return s.store.PresignPutObject(ctx, chunkPrefix+filename, chunkContentType, s.config.ObjectURLExpiry)
}

// PresignObject presigns a single-object PUT for an arbitrary key.
func (s *UploadService) PresignObject(ctx context.Context, key string) (api.PartGrant, error) {
	const op = "presign object"

	if strings.TrimSpace(key) == "" {
		return api.PartGrant{}, api.NewError(op, api.KindBadRequest, errors.New("key is required"))
	}
	if err := s.checkKey(op, key); err != nil {
		return api.PartGrant{}, err
	}

	return s.store.PresignPutObject(ctx, key, "", s.config.ObjectURLExpiry)
}

// PresignDownload presigns a GET of a finished object.
func (s *UploadService) PresignDownload(ctx context.Context, key string) (string, error) {
	const op = "presign download"

	if strings.TrimSpace(key) == "" {
		return "", api.NewError(op, api.KindBadRequest, errors.New("key is required"))
	}
	if err := s.checkKey(op, key); err != nil {
		return "", err
	}

	return s.store.PresignGetObject(ctx, key, s.config.ObjectURLExpiry)
}

func (s *UploadService) checkKey(op, key string) error {
	if strings.TrimSpace(key) == "" {
		return api.NewError(op, api.KindBadRequest, errors.New("key must not be empty"))
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return api.NewError(op, api.KindBadRequest, fmt.Errorf("invalid key: %s", key))
	}
	if len(s.config.AllowedKeys) == 0 {
		return nil
	}

	for _, pattern := range s.config.AllowedKeys {
		if matched, err := doublestar.Match(pattern, key); err == nil && matched {
			return nil
		}
	}

	return api.NewError(op, api.KindBadRequest, fmt.Errorf("key %s is not allowed", key))
}
