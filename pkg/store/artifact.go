package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

// objectAPI is the S3 surface the artifact store needs; tests stub it.
type objectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ArtifactStore writes report twins to an S3-compatible bucket. Writes are
// HEAD-before-PUT: an object fresher than the freshness window is not
// overwritten, which makes redelivered queue messages idempotent.
type ArtifactStore struct {
	client    objectAPI
	bucket    string
	prefix    string
	freshness time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewArtifactStore builds a store from the default AWS credential chain.
// S3_ENDPOINT_URL switches to path-style addressing for MinIO and friends.
func NewArtifactStore(ctx context.Context, cfg *config.StoreConfig, freshness time.Duration) (*ArtifactStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.S3EndpointURL)
			o.UsePathStyle = true
		}
	})
	return &ArtifactStore{
		client:    client,
		bucket:    cfg.S3Bucket,
		prefix:    cfg.S3Prefix,
		freshness: freshness,
		now:       time.Now,
	}, nil
}

// Keys returns the twin object keys for a run.
func (s *ArtifactStore) Keys(inv *models.Investigation, dedupBucket int64) ArtifactKeys {
	return KeysFor(s.prefix, inv, dedupBucket)
}

// Write persists the markdown and JSON twins. Returns false when a fresh
// artifact already exists and the write was skipped.
func (s *ArtifactStore) Write(ctx context.Context, inv *models.Investigation, dedupBucket int64, jsonBody []byte) (bool, error) {
	keys := s.Keys(inv, dedupBucket)

	fresh, err := s.headIsFresh(ctx, keys.Markdown)
	if err != nil {
		return false, err
	}
	if fresh {
		slog.Info("Artifact is fresh, skipping write",
			"key", keys.Markdown,
			"case_id", inv.CaseID)
		return false, nil
	}

	if err := s.put(ctx, keys.Markdown, "text/markdown", []byte(inv.ReportMarkdown), inv); err != nil {
		return false, err
	}
	if err := s.put(ctx, keys.JSON, "application/json", jsonBody, inv); err != nil {
		return false, err
	}

	slog.Info("Artifacts written",
		"markdown_key", keys.Markdown,
		"case_id", inv.CaseID,
		"run_id", inv.RunID)
	return true, nil
}

// ReadReport fetches the markdown twin for a report key.
func (s *ArtifactStore) ReadReport(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("reading artifact body %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// headIsFresh reports whether the object exists and is newer than the
// freshness window.
func (s *ArtifactStore) headIsFresh(ctx context.Context, key string) (bool, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("heading artifact %s: %w", key, err)
	}
	if out.LastModified == nil {
		return false, nil
	}
	return out.LastModified.After(runWindow(s.now(), s.freshness)), nil
}

func (s *ArtifactStore) put(ctx context.Context, key, contentType string, body []byte, inv *models.Investigation) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"x-run-id":  inv.RunID,
			"x-case-id": inv.CaseID,
		},
	})
	if err != nil {
		return fmt.Errorf("writing artifact %s: %w", key, err)
	}
	return nil
}

// isNotFound recognizes the SDK's missing-object errors.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}
