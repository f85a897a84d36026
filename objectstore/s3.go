// Package objectstore brokers multipart uploads against an S3-compatible bucket.
// It only issues control-plane calls and presigned URLs; payload bytes never pass through it.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/meancat/panicstream/api"
	"github.com/samber/lo"
)

// Options describes the bucket and how to reach it.
type Options struct {
	Region          string
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// PathStyle addresses the bucket in the path instead of the host name, as most
	// self-hosted S3-compatible stores require.
	PathStyle bool
}

// S3Store implements the coordinator's store on the S3 multipart API.
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	logger    log.Logger
}

// NewS3Store loads the AWS configuration and creates a store for opts.Bucket.
func NewS3Store(ctx context.Context, opts Options, logger log.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSConfig(ctx, opts.Region, opts.AccessKeyID, opts.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewS3StoreFromConfig(*cfg, opts, logger), nil
}

// NewS3StoreFromConfig ...
func NewS3StoreFromConfig(cfg aws.Config, opts Options, logger log.Logger) *S3Store {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    opts.Bucket,
		logger:    logger,
	}
}

// CreateMultipartUpload starts a multipart upload for key and returns its upload ID.
func (s *S3Store) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", s.storeError("create multipart upload", key, err)
	}
	if out.UploadId == nil || *out.UploadId == "" {
		return "", api.NewError("create multipart upload", api.KindStoreInconsistency, fmt.Errorf("no upload id for %s", key))
	}

	s.logger.Debugf("Created multipart upload %s for %s", *out.UploadId, key)

	return *out.UploadId, nil
}

// PresignUploadPart signs a PUT of a single part.
func (s *S3Store) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int, expiry time.Duration) (api.PartGrant, error) {
	if partNumber < 1 || partNumber > 10000 {
		return api.PartGrant{}, api.NewError("presign part", api.KindBadRequest, fmt.Errorf("part number %d out of range", partNumber))
	}

	req, err := s.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return api.PartGrant{}, s.storeError("presign part", key, err)
	}

	return api.PartGrant{URL: req.URL, Headers: signedHeaders(req.SignedHeader)}, nil
}

// CompleteMultipartUpload assembles the object from parts in ascending part-number order.
func (s *S3Store) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []api.CompletedPart) error {
	completed := lo.Map(parts, func(part api.CompletedPart, _ int) types.CompletedPart {
		return types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.PartNumber)),
		}
	})
	sort.Slice(completed, func(i, j int) bool {
		return *completed[i].PartNumber < *completed[j].PartNumber
	})

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return s.storeError("complete multipart upload", key, err)
	}

	s.logger.Infof("Completed multipart upload %s (%s, %d parts)", uploadID, key, len(completed))

	return nil
}

// AbortMultipartUpload ...
func (s *S3Store) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return s.storeError("abort multipart upload", key, err)
	}

	s.logger.Infof("Aborted multipart upload %s (%s)", uploadID, key)

	return nil
}

// PresignPutObject signs a single-object PUT. A non-empty contentType becomes part of the
// signature and is returned among the headers the uploader must send.
func (s *S3Store) PresignPutObject(ctx context.Context, key, contentType string, expiry time.Duration) (api.PartGrant, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	optFns := []func(*s3.PresignOptions){s3.WithPresignExpires(expiry)}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
		optFns = append(optFns, withSignedHeader("Content-Type", contentType))
	}

	req, err := s.presigner.PresignPutObject(ctx, input, optFns...)
	if err != nil {
		return api.PartGrant{}, s.storeError("presign put object", key, err)
	}

	headers := signedHeaders(req.SignedHeader)
	if contentType != "" {
		headers["Content-Type"] = contentType
	}

	return api.PartGrant{URL: req.URL, Headers: headers}, nil
}

// withSignedHeader sets a header at the start of the finalize step, ahead of the presigner,
// so SigV4 covers it and the store rejects PUTs that send a different value.
func withSignedHeader(name, value string) func(*s3.PresignOptions) {
	return func(po *s3.PresignOptions) {
		po.ClientOptions = append(po.ClientOptions, func(o *s3.Options) {
			o.APIOptions = append(o.APIOptions, func(stack *middleware.Stack) error {
				return stack.Finalize.Add(middleware.FinalizeMiddlewareFunc("SignedHeader"+name,
					func(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (middleware.FinalizeOutput, middleware.Metadata, error) {
						if req, ok := in.Request.(*smithyhttp.Request); ok {
							req.Header.Set(name, value)
						}
						return next.HandleFinalize(ctx, in)
					}), middleware.Before)
			})
		})
	}
}

// PresignGetObject signs a download of key.
func (s *S3Store) PresignGetObject(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", s.storeError("presign get object", key, err)
	}

	return req.URL, nil
}

// signedHeaders flattens the headers a presigned request was signed with. Host is set by the
// HTTP client from the URL, so it is left out.
func signedHeaders(header http.Header) map[string]string {
	headers := map[string]string{}
	for name, values := range header {
		if strings.EqualFold(name, "Host") || len(values) == 0 {
			continue
		}
		headers[http.CanonicalHeaderKey(name)] = strings.Join(values, ",")
	}
	return headers
}

func (s *S3Store) storeError(op, key string, err error) error {
	kind := api.KindTransport

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		s.logger.Debugf("%s %s: %s (%s)", op, key, apiError.ErrorCode(), apiError.ErrorMessage())
		switch apiError.ErrorCode() {
		case "NoSuchUpload", "InvalidPart", "InvalidPartOrder", "EntityTooSmall", "InvalidArgument":
			kind = api.KindBadRequest
		}
	}

	return api.NewError(op, kind, err)
}

func loadAWSConfig(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("Using static aws credentials")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	} else {
		logger.Debugf("aws credentials not defined, loading credentials from environment...")
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %w", err)
	}

	return &cfg, nil
}
