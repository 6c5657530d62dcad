// Package s3util adapts Amazon S3 to the object-store operations the
// ingestion pipeline needs: read, write, move, delete, and temporary
// access URLs. Containers are bucket names and object names are keys.
package s3util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/ingesterr"
)

// DefaultPresignExpiry is how long a temporary access URL stays valid. The
// provider may queue a job for hours before it fetches the audio.
const DefaultPresignExpiry = 12 * time.Hour

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store implements the pipeline's object store on S3.
type Store struct {
	client        s3API
	presigner     presignAPI
	presignExpiry time.Duration
}

// NewStore creates a Store from an S3 client. A zero expiry selects
// DefaultPresignExpiry.
func NewStore(client *s3.Client, presignExpiry time.Duration) *Store {
	if presignExpiry <= 0 {
		presignExpiry = DefaultPresignExpiry
	}
	return &Store{
		client:        client,
		presigner:     s3.NewPresignClient(client),
		presignExpiry: presignExpiry,
	}
}

// Read downloads an object into memory. Result artifacts and reports are
// small JSON documents, so no streaming is needed.
func (s *Store) Read(ctx context.Context, container, name string) ([]byte, error) {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("read %s/%s: %w", container, name, ingesterr.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("S3 GetObject %s/%s: %v: %w", container, name, err, ingesterr.ErrStorage)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read body %s/%s: %v: %w", container, name, err, ingesterr.ErrStorage)
	}
	log.Debug().Str("bucket", container).Str("key", name).Int("bytes", len(data)).Dur("duration", time.Since(start)).Msg("Object read")
	return data, nil
}

// Write uploads data, replacing any existing object of the same name.
func (s *Store) Write(ctx context.Context, container, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(container),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(name)),
		Tagging:     ProjectTagging(),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s/%s: %v: %w", container, name, err, ingesterr.ErrStorage)
	}
	log.Debug().Str("bucket", container).Str("key", name).Int("bytes", len(data)).Msg("Object written")
	return nil
}

// Delete removes an object. Deleting a missing object succeeds.
func (s *Store) Delete(ctx context.Context, container, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("S3 DeleteObject %s/%s: %v: %w", container, name, err, ingesterr.ErrStorage)
	}
	log.Debug().Str("bucket", container).Str("key", name).Msg("Object deleted")
	return nil
}

// Move copies an object to the destination and deletes the source.
//
// A missing source returns ErrObjectNotFound so callers can treat a repeated
// move as done. With overwrite=false an existing destination with the same
// ETag is taken as an earlier copy whose source delete never happened; a
// destination with different content returns ErrDestinationExists and the
// source is left in place.
func (s *Store) Move(ctx context.Context, srcContainer, srcName, dstContainer, dstName string, overwrite bool) error {
	src, err := s.head(ctx, srcContainer, srcName)
	if err != nil {
		return fmt.Errorf("move %s/%s: %w", srcContainer, srcName, err)
	}

	if !overwrite {
		dst, err := s.head(ctx, dstContainer, dstName)
		switch {
		case err == nil:
			if aws.ToString(dst.ETag) != aws.ToString(src.ETag) {
				return fmt.Errorf("move %s/%s to %s/%s: %w", srcContainer, srcName, dstContainer, dstName, ingesterr.ErrDestinationExists)
			}
			log.Info().Str("source", srcContainer+"/"+srcName).Str("destination", dstContainer+"/"+dstName).
				Msg("Destination already holds the object, completing move")
			return s.Delete(ctx, srcContainer, srcName)
		case !errors.Is(err, ingesterr.ErrObjectNotFound):
			return fmt.Errorf("move %s/%s: %w", srcContainer, srcName, err)
		}
	}

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstContainer),
		Key:        aws.String(dstName),
		CopySource: aws.String(copySource(srcContainer, srcName)),
	})
	if err != nil {
		return fmt.Errorf("S3 CopyObject %s/%s to %s/%s: %v: %w", srcContainer, srcName, dstContainer, dstName, err, ingesterr.ErrStorage)
	}
	if err := s.Delete(ctx, srcContainer, srcName); err != nil {
		return err
	}
	log.Info().Str("source", srcContainer+"/"+srcName).Str("destination", dstContainer+"/"+dstName).Msg("Object moved")
	return nil
}

// PresignGetURL returns a temporary GET URL for the object.
func (s *Store) PresignGetURL(ctx context.Context, container, name string) (string, error) {
	return GeneratePresignedURL(ctx, s.presigner, container, name, s.presignExpiry)
}

// GeneratePresignedURL creates a pre-signed GET URL for an S3 object.
func GeneratePresignedURL(ctx context.Context, presigner presignAPI, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket), Key: aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s/%s: %v: %w", bucket, key, err, ingesterr.ErrStorage)
	}
	return result.URL, nil
}

func (s *Store) head(ctx context.Context, container, name string) (*s3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s/%s: %w", container, name, ingesterr.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("S3 HeadObject %s/%s: %v: %w", container, name, err, ingesterr.ErrStorage)
	}
	return out, nil
}

// isNotFound reports whether err is S3's missing-object error. HeadObject
// has no body, so its 404 only surfaces as the generic NotFound code.
func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
