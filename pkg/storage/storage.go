// Package storage reads source images from and writes crops to an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidLocation is returned when a bucket or key cannot be derived.
	ErrInvalidLocation = errors.New("invalid object location")
)

// Object is an object's body with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// Store is the object store boundary.
type Store interface {
	Get(ctx context.Context, bucket, key string) (Object, error)
	Put(ctx context.Context, bucket, key string, obj Object, publicRead bool) error
	PublicURL(bucket, key string) string
}

// Location identifies an object.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return l.Bucket + "/" + l.Key
}

// ParseSource derives the source location from an image URL. The key is the
// URL path without its leading slash. A virtual-hosted S3 host or an s3://
// URL names the bucket; otherwise defaultBucket is used.
func ParseSource(imagePath, defaultBucket string) (Location, error) {
	if strings.TrimSpace(imagePath) == "" {
		return Location{}, fmt.Errorf("%w: empty image path", ErrInvalidLocation)
	}

	u, err := url.Parse(imagePath)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}

	loc := Location{
		Bucket: defaultBucket,
		Key:    strings.TrimPrefix(u.Path, "/"),
	}
	if u.Scheme == "s3" && u.Host != "" {
		loc.Bucket = u.Host
	} else if b, ok := virtualHostedBucket(u.Hostname()); ok {
		loc.Bucket = b
	}

	if loc.Key == "" {
		return Location{}, fmt.Errorf("%w: no key in %q", ErrInvalidLocation, imagePath)
	}
	if loc.Bucket == "" {
		return Location{}, fmt.Errorf("%w: no bucket for %q", ErrInvalidLocation, imagePath)
	}
	return loc, nil
}

// DestinationKey turns a destination path such as "/crops/a.jpg" into a key.
func DestinationKey(s3Path string) (string, error) {
	key := strings.TrimPrefix(strings.TrimSpace(s3Path), "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty destination path", ErrInvalidLocation)
	}
	return key, nil
}

// virtualHostedBucket recognizes <bucket>.s3.amazonaws.com,
// <bucket>.s3.<region>.amazonaws.com and <bucket>.s3-<region>.amazonaws.com.
func virtualHostedBucket(host string) (string, bool) {
	host = strings.ToLower(host)
	if !strings.HasSuffix(host, ".amazonaws.com") {
		return "", false
	}
	i := strings.Index(host, ".s3.")
	if i < 0 {
		i = strings.Index(host, ".s3-")
	}
	if i <= 0 {
		return "", false
	}
	return host[:i], true
}

// S3PublicURL is the default public URL of an object in a public-read bucket.
func S3PublicURL(bucket, key string) string {
	return "https://" + bucket + ".s3.amazonaws.com/" + escapeKey(key)
}

// joinURL appends an escaped key to a base URL.
func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + escapeKey(key)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
