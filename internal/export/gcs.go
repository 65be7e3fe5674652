package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSProvider uploads to a Google Cloud Storage bucket using application
// default credentials.
type GCSProvider struct {
	Bucket   string
	Prefix   string
	Endpoint string
}

func (g *GCSProvider) String() string { return "gs://" + g.Bucket + "/" + g.Prefix }

func (g *GCSProvider) Upload(ctx context.Context, localPath, remotePath string) error {
	if g.Bucket == "" {
		return ErrMissingBucket
	}
	if err := requireUploadArgs(localPath, remotePath); err != nil {
		return err
	}
	opts := []option.ClientOption{option.WithUserAgent("camrec")}
	if g.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("%w: gcs client: %w", ErrMissingCredential, err)
	}
	defer client.Close()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	w := client.Bucket(g.Bucket).Object(objectKey(g.Prefix, remotePath)).NewWriter(ctx)
	w.ContentType = contentType(localPath)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs upload: %w", err)
	}
	return nil
}
