package staging

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const (
	SchemeGCS   = "gs"
	SchemeS3    = "s3"
	SchemeLocal = "file"
)

var ErrNoStore = errors.New("no object store for location")

// Location addresses an object or prefix. Local locations carry the
// filesystem path in Key and no bucket.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

// ParseLocation accepts gs://bucket/key, s3://bucket/key, file:///path and
// plain filesystem paths.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, errors.New("empty location")
	}

	scheme, rest, found := strings.Cut(s, "://")
	if !found {
		return Location{Scheme: SchemeLocal, Key: filepath.Clean(s)}, nil
	}

	switch scheme {
	case SchemeLocal:
		return Location{Scheme: SchemeLocal, Key: filepath.Clean(rest)}, nil
	case SchemeGCS, SchemeS3:
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("missing bucket in %q", s)
		}
		return Location{Scheme: scheme, Bucket: bucket, Key: strings.Trim(key, "/")}, nil
	default:
		return Location{}, fmt.Errorf("unsupported location scheme %q", scheme)
	}
}

func (l Location) Remote() bool {
	return l.Scheme != SchemeLocal
}

// Join appends name to the location key.
func (l Location) Join(name string) Location {
	if l.Remote() {
		l.Key = strings.TrimPrefix(path.Join(l.Key, name), "/")
	} else {
		l.Key = filepath.Join(l.Key, name)
	}
	return l
}

func (l Location) String() string {
	if !l.Remote() {
		return l.Key
	}
	if l.Key == "" {
		return l.Scheme + "://" + l.Bucket
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// ObjectStore lists and writes objects. List treats loc.Key as a plain
// prefix and returns the locations of matching objects.
type ObjectStore interface {
	List(ctx context.Context, loc Location) ([]Location, error)
	Put(ctx context.Context, loc Location, body []byte, contentType string) error
}

// Router dispatches local locations to the filesystem and gs:// or s3://
// locations to the remote store, when one is configured.
type Router struct {
	local  ObjectStore
	remote ObjectStore
}

func NewRouter(remote ObjectStore) *Router {
	return &Router{local: NewLocalStore(), remote: remote}
}

func (r *Router) store(loc Location) (ObjectStore, error) {
	if !loc.Remote() {
		return r.local, nil
	}
	if r.remote == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoStore, loc)
	}
	return r.remote, nil
}

func (r *Router) List(ctx context.Context, loc Location) ([]Location, error) {
	s, err := r.store(loc)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, loc)
}

func (r *Router) Put(ctx context.Context, loc Location, body []byte, contentType string) error {
	s, err := r.store(loc)
	if err != nil {
		return err
	}
	return s.Put(ctx, loc, body, contentType)
}
