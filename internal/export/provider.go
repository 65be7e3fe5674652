// Package export copies finished recordings to a storage destination named
// by a URL: a local directory, S3, Google Cloud Storage, Azure Blob Storage
// or Backblaze B2.
package export

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/breeze-rmm/camrec/internal/logging"
)

var log = logging.L("export")

var (
	ErrUnsupportedScheme = errors.New("export: unsupported destination scheme")
	ErrMissingBucket     = errors.New("export: destination has no bucket or container")
	ErrMissingCredential = errors.New("export: missing credential")
)

// Provider uploads one local file to remotePath, which is relative to the
// destination prefix and uses forward slashes.
type Provider interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	String() string
}

// Open parses a destination URL. Cloud clients are created on first upload,
// so Open does not touch the network.
//
//	file:///var/recordings
//	s3://bucket/prefix?region=eu-west-1
//	gs://bucket/prefix
//	azblob://container/prefix   (AZURE_STORAGE_CONNECTION_STRING)
//	b2://bucket/prefix          (B2_ACCOUNT_ID, B2_APPLICATION_KEY)
//
// A bare path is treated as a local directory.
func Open(rawURL string) (Provider, error) {
	if rawURL == "" {
		return nil, errors.New("export: destination is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("export: parse destination: %w", err)
	}
	prefix := strings.Trim(u.Path, "/")

	switch u.Scheme {
	case "", "file":
		dir := u.Path
		if u.Scheme == "" {
			dir = rawURL
		} else if u.Host != "" {
			dir = filepath.Join(u.Host, u.Path)
		}
		return NewLocalProvider(dir), nil
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingBucket, rawURL)
		}
		q := u.Query()
		return &S3Provider{
			Bucket:   u.Host,
			Prefix:   prefix,
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		}, nil
	case "gs":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingBucket, rawURL)
		}
		return &GCSProvider{Bucket: u.Host, Prefix: prefix, Endpoint: u.Query().Get("endpoint")}, nil
	case "azblob":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingBucket, rawURL)
		}
		return &AzureProvider{
			Container:        u.Host,
			Prefix:           prefix,
			ConnectionString: os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
		}, nil
	case "b2":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingBucket, rawURL)
		}
		return &B2Provider{
			Bucket:         u.Host,
			Prefix:         prefix,
			AccountID:      os.Getenv("B2_ACCOUNT_ID"),
			ApplicationKey: os.Getenv("B2_APPLICATION_KEY"),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

// objectKey joins a destination prefix and a relative remote path.
func objectKey(prefix, remotePath string) string {
	remotePath = strings.TrimLeft(path.Clean("/"+filepath.ToSlash(remotePath)), "/")
	if prefix == "" {
		return remotePath
	}
	return prefix + "/" + remotePath
}

// Files uploads each local file under its base name and returns the first
// error. Files that do not exist are skipped.
func Files(ctx context.Context, p Provider, localPaths ...string) error {
	for _, lp := range localPaths {
		if lp == "" {
			continue
		}
		if _, err := os.Stat(lp); errors.Is(err, os.ErrNotExist) {
			continue
		}
		remote := filepath.Base(lp)
		if err := p.Upload(ctx, lp, remote); err != nil {
			return fmt.Errorf("export %s to %s: %w", lp, p, err)
		}
		log.Info("artifact exported", logging.KeyPath, lp, "destination", p.String(), "object", remote)
	}
	return nil
}

func requireUploadArgs(localPath, remotePath string) error {
	if localPath == "" {
		return errors.New("local source path is required")
	}
	if remotePath == "" {
		return errors.New("remote path is required")
	}
	return nil
}
