package s3util

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/fpang/speech-ingestion/internal/ingesterr"
)

// ObjectRef identifies an object by container (bucket) and name (key).
type ObjectRef struct {
	Container string
	Name      string
}

// FileName returns the last path segment of the object name.
func (r ObjectRef) FileName() string {
	return path.Base(r.Name)
}

// String renders the reference as an s3:// URL.
func (r ObjectRef) String() string {
	return "s3://" + r.Container + "/" + r.Name
}

// ParseObjectURL extracts the container and object name from a storage URL.
// Accepted forms:
//
//	s3://bucket/key
//	https://bucket.s3.region.amazonaws.com/key   (virtual-hosted, presigned URLs)
//	https://s3.region.amazonaws.com/bucket/key   (path style)
//	https://host/container/name                  (any other host, path style)
//
// Query strings (presign signatures) are ignored.
func ParseObjectURL(raw string) (ObjectRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ObjectRef{}, fmt.Errorf("parse object URL %q: %w", raw, ingesterr.ErrValidation)
	}

	var ref ObjectRef
	switch strings.ToLower(u.Scheme) {
	case "s3":
		ref = ObjectRef{Container: u.Host, Name: strings.TrimPrefix(u.Path, "/")}
	case "http", "https":
		if bucket, ok := virtualHostedBucket(u.Hostname()); ok {
			ref = ObjectRef{Container: bucket, Name: strings.TrimPrefix(u.Path, "/")}
		} else {
			container, name, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
			ref = ObjectRef{Container: container, Name: name}
		}
	default:
		return ObjectRef{}, fmt.Errorf("object URL %q: unsupported scheme %q: %w", raw, u.Scheme, ingesterr.ErrValidation)
	}

	if ref.Container == "" || ref.Name == "" {
		return ObjectRef{}, fmt.Errorf("object URL %q: missing container or name: %w", raw, ingesterr.ErrValidation)
	}
	return ref, nil
}

// virtualHostedBucket returns the bucket of an S3 virtual-hosted-style host
// such as "audio.s3.us-east-1.amazonaws.com".
func virtualHostedBucket(host string) (string, bool) {
	lower := strings.ToLower(host)
	if !strings.HasSuffix(lower, ".amazonaws.com") {
		return "", false
	}
	if strings.HasPrefix(lower, "s3.") || strings.HasPrefix(lower, "s3-") {
		return "", false
	}
	i := strings.LastIndex(lower, ".s3.")
	if i < 0 {
		i = strings.LastIndex(lower, ".s3-")
	}
	if i <= 0 {
		return "", false
	}
	return host[:i], true
}
