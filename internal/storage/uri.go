package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	perrors "github.com/arkilian/protoq/internal/errors"
)

// Location identifies a stream object parsed from a URI.
type Location struct {
	// Scheme is "s3" or "file".
	Scheme string
	// Bucket is set for s3 locations.
	Bucket string
	// Path is the object key for s3, or the filesystem path for file.
	Path string
}

func (l Location) String() string {
	if l.Scheme == "s3" {
		return "s3://" + l.Bucket + "/" + l.Path
	}
	return l.Path
}

// IsPrefix reports whether l names every object below it rather than one
// object. Prefix locations end in a slash.
func (l Location) IsPrefix() bool {
	return strings.HasSuffix(l.Path, "/") || strings.HasSuffix(l.Path, string(filepath.Separator))
}

// ParseURI parses s3://bucket/key, file:///path, or a plain filesystem path.
func ParseURI(uri string) (Location, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		rest := strings.TrimPrefix(uri, "s3://")
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("invalid s3 uri %q: want s3://bucket/key", uri)
		}
		return Location{Scheme: "s3", Bucket: bucket, Path: key}, nil
	case strings.HasPrefix(uri, "file://"):
		p := strings.TrimPrefix(uri, "file://")
		if p == "" {
			return Location{}, fmt.Errorf("invalid file uri %q", uri)
		}
		return Location{Scheme: "file", Path: filepath.FromSlash(p)}, nil
	case strings.Contains(uri, "://"):
		return Location{}, fmt.Errorf("unsupported uri scheme in %q", uri)
	case uri == "":
		return Location{}, errors.New("empty stream location")
	default:
		return Location{Scheme: "file", Path: uri}, nil
	}
}

// resolve returns the storage holding uri and the object path, or prefix,
// within it. Local directories are created only when write is set.
func resolve(ctx context.Context, cfg S3Config, uri string, write bool) (StreamStorage, Location, string, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, Location{}, "", perrors.NewStorageError(perrors.CodeOpenFailed, err.Error(), err)
	}

	switch {
	case loc.Scheme == "s3":
		store, err := NewS3Storage(ctx, loc.Bucket, cfg)
		if err != nil {
			return nil, loc, "", perrors.NewStorageError(perrors.CodeOpenFailed, "s3 client for "+loc.String(), err)
		}
		return store, loc, loc.Path, nil
	case loc.IsPrefix():
		return &LocalStorage{basePath: loc.Path}, loc, "", nil
	case write:
		store, err := NewLocalStorage(filepath.Dir(loc.Path))
		if err != nil {
			return nil, loc, "", perrors.NewStorageError(perrors.CodeUploadFailed, uri, err)
		}
		return store, loc, filepath.Base(loc.Path), nil
	default:
		return &LocalStorage{basePath: filepath.Dir(loc.Path)}, loc, filepath.Base(loc.Path), nil
	}
}

// OpenURI opens the stream at uri. A prefix location (one ending in a slash)
// opens every object below it, in name order, as one stream. Failures are
// reported as STORAGE errors: OBJECT_NOT_FOUND when nothing exists at the
// location, OPEN_FAILED otherwise.
func OpenURI(ctx context.Context, cfg S3Config, uri string) (io.ReadCloser, error) {
	store, loc, object, err := resolve(ctx, cfg, uri, false)
	if err != nil {
		return nil, err
	}
	if loc.IsPrefix() {
		objects, err := list(ctx, store, object)
		if err != nil {
			return nil, perrors.NewStorageError(perrors.CodeOpenFailed, uri, err)
		}
		if len(objects) == 0 {
			return nil, perrors.NewStorageError(perrors.CodeObjectNotFound, "no objects under "+uri, ErrObjectNotFound)
		}
		return &concatReader{ctx: ctx, store: store, objects: objects}, nil
	}

	rc, err := store.Open(ctx, object)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, perrors.NewStorageError(perrors.CodeObjectNotFound, uri, err)
		}
		return nil, perrors.NewStorageError(perrors.CodeOpenFailed, uri, err)
	}
	return rc, nil
}

// ListURI returns the URI of every object below the prefix uri, sorted.
func ListURI(ctx context.Context, cfg S3Config, uri string) ([]string, error) {
	store, loc, prefix, err := resolve(ctx, cfg, uri, false)
	if err != nil {
		return nil, err
	}
	if !loc.IsPrefix() {
		return nil, perrors.NewStorageError(perrors.CodeOpenFailed,
			uri+" is not a prefix; end it with a slash", nil)
	}
	objects, err := list(ctx, store, prefix)
	if err != nil {
		return nil, perrors.NewStorageError(perrors.CodeOpenFailed, uri, err)
	}
	out := make([]string, len(objects))
	for i, obj := range objects {
		if loc.Scheme == "s3" {
			out[i] = Location{Scheme: "s3", Bucket: loc.Bucket, Path: obj}.String()
		} else {
			out[i] = filepath.Join(loc.Path, filepath.FromSlash(obj))
		}
	}
	return out, nil
}

// ExistsURI reports whether an object exists at uri.
func ExistsURI(ctx context.Context, cfg S3Config, uri string) (bool, error) {
	store, loc, object, err := resolve(ctx, cfg, uri, false)
	if err != nil {
		return false, err
	}
	if loc.IsPrefix() {
		return false, perrors.NewStorageError(perrors.CodeOpenFailed, uri+" names a prefix, not an object", nil)
	}
	exists, err := store.Exists(ctx, object)
	if err != nil {
		return false, perrors.NewStorageError(perrors.CodeOpenFailed, uri, err)
	}
	return exists, nil
}

// UploadURI copies the local file at localPath to uri, replacing any object
// already there.
func UploadURI(ctx context.Context, cfg S3Config, localPath, uri string) error {
	store, loc, object, err := resolve(ctx, cfg, uri, true)
	if err != nil {
		return err
	}
	if loc.IsPrefix() {
		return perrors.NewStorageError(perrors.CodeUploadFailed, uri+" names a prefix, not an object", nil)
	}
	if err := store.Upload(ctx, localPath, object); err != nil {
		return perrors.NewStorageError(perrors.CodeUploadFailed, uri, err)
	}
	return nil
}

// list returns the objects below prefix in name order, leaving out
// directory markers.
func list(ctx context.Context, store StreamStorage, prefix string) ([]string, error) {
	objects, err := store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := objects[:0]
	for _, obj := range objects {
		if !strings.HasSuffix(obj, "/") {
			out = append(out, obj)
		}
	}
	sort.Strings(out)
	return out, nil
}

// concatReader reads objects back to back as one stream, opening each only
// once the previous one is exhausted.
type concatReader struct {
	ctx     context.Context
	store   StreamStorage
	objects []string
	cur     io.ReadCloser
}

func (c *concatReader) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			if len(c.objects) == 0 {
				return 0, io.EOF
			}
			rc, err := c.store.Open(c.ctx, c.objects[0])
			if err != nil {
				return 0, err
			}
			c.cur, c.objects = rc, c.objects[1:]
		}

		n, err := c.cur.Read(p)
		if errors.Is(err, io.EOF) {
			c.cur.Close()
			c.cur = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (c *concatReader) Close() error {
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}
