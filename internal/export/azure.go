package export

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureProvider uploads block blobs into one container.
type AzureProvider struct {
	Container        string
	Prefix           string
	ConnectionString string
}

func (a *AzureProvider) String() string { return "azblob://" + a.Container + "/" + a.Prefix }

func (a *AzureProvider) Upload(ctx context.Context, localPath, remotePath string) error {
	if a.Container == "" {
		return ErrMissingBucket
	}
	if a.ConnectionString == "" {
		return fmt.Errorf("%w: AZURE_STORAGE_CONNECTION_STRING", ErrMissingCredential)
	}
	if err := requireUploadArgs(localPath, remotePath); err != nil {
		return err
	}
	client, err := azblob.NewClientFromConnectionString(a.ConnectionString, nil)
	if err != nil {
		return fmt.Errorf("azure client: %w", err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	if _, err := client.UploadFile(ctx, a.Container, objectKey(a.Prefix, remotePath), f, nil); err != nil {
		return fmt.Errorf("azure upload: %w", err)
	}
	return nil
}
