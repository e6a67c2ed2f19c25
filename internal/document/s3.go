package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"cfgedit/internal/cfgedit"
	"cfgedit/internal/config"
)

// S3API is the subset of the S3 client used by S3Service.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Service stores documents as objects under a bucket prefix. The version
// stamp is the object's ETag and saves are conditional writes: If-Match on
// the loaded ETag, or If-None-Match "*" when creating.
type S3Service struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Service builds an S3 client from cfg. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain
// applies. A custom endpoint switches to path-style addressing for
// S3-compatible stores.
func NewS3Service(ctx context.Context, cfg config.DocumentsConfig) (*S3Service, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3ServiceFromClient(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

// NewS3ServiceFromClient wraps an existing client.
func NewS3ServiceFromClient(client S3API, bucket, prefix string) *S3Service {
	return &S3Service{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Service) key(id string) string {
	return s.prefix + strings.TrimPrefix(id, "/")
}

func (s *S3Service) Load(ctx context.Context, id string) (*cfgedit.Document, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("loading %s: %w", id, cfgedit.ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", s.key(id), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", s.key(id), err)
	}
	return &cfgedit.Document{ID: id, Content: string(data), VersionStamp: aws.ToString(out.ETag)}, nil
}

func (s *S3Service) Save(ctx context.Context, req cfgedit.SaveRequest) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(req.DocumentID)),
		Body:          strings.NewReader(req.Content),
		ContentLength: aws.Int64(int64(len(req.Content))),
		Metadata:      map[string]string{"editor": req.Editor},
	}
	if req.BasedOn == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(req.BasedOn)
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		switch {
		case isPreconditionFailed(err):
			return "", fmt.Errorf("saving %s: %w", req.DocumentID, cfgedit.ErrVersionConflict)
		case isNotFound(err):
			return "", fmt.Errorf("saving %s: %w", req.DocumentID, cfgedit.ErrDocumentNotFound)
		}
		return "", fmt.Errorf("failed to put object %s: %w", s.key(req.DocumentID), err)
	}
	return aws.ToString(out.ETag), nil
}

// List returns the ids of all objects under the prefix.
func (s *S3Service) List(ctx context.Context) ([]string, error) {
	var ids []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			ids = append(ids, strings.TrimPrefix(aws.ToString(obj.Key), s.prefix))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return httpStatus(err) == http.StatusNotFound
}

// isPreconditionFailed matches a failed If-Match/If-None-Match (412) and a
// concurrent conditional write (409).
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	switch httpStatus(err) {
	case http.StatusPreconditionFailed, http.StatusConflict:
		return true
	}
	return false
}

func httpStatus(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

var _ cfgedit.DocumentService = (*S3Service)(nil)
