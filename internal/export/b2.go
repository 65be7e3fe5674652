package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Backblaze/blazer/b2"
)

// B2Provider uploads to a Backblaze B2 bucket.
type B2Provider struct {
	Bucket         string
	Prefix         string
	AccountID      string
	ApplicationKey string
}

func (p *B2Provider) String() string { return "b2://" + p.Bucket + "/" + p.Prefix }

func (p *B2Provider) Upload(ctx context.Context, localPath, remotePath string) error {
	if p.Bucket == "" {
		return ErrMissingBucket
	}
	if p.AccountID == "" || p.ApplicationKey == "" {
		return fmt.Errorf("%w: B2_ACCOUNT_ID and B2_APPLICATION_KEY", ErrMissingCredential)
	}
	if err := requireUploadArgs(localPath, remotePath); err != nil {
		return err
	}
	client, err := b2.NewClient(ctx, p.AccountID, p.ApplicationKey)
	if err != nil {
		return fmt.Errorf("b2 client: %w", err)
	}
	bucket, err := client.Bucket(ctx, p.Bucket)
	if err != nil {
		return fmt.Errorf("b2 bucket %s: %w", p.Bucket, err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	w := bucket.Object(objectKey(p.Prefix, remotePath)).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("b2 upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("b2 upload: %w", err)
	}
	return nil
}
