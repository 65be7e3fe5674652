package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// containedPath resolves untrustedPath under basePath and rejects anything
// that escapes it.
func containedPath(basePath, untrustedPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	absJoined, err := filepath.Abs(filepath.Join(absBase, filepath.FromSlash(untrustedPath)))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) && absJoined != absBase {
		return "", fmt.Errorf("path traversal detected: %q resolves outside base %q", untrustedPath, absBase)
	}
	return absJoined, nil
}

// LocalProvider copies recordings into a directory on a local or mounted
// filesystem.
type LocalProvider struct {
	BasePath string
}

func NewLocalProvider(basePath string) *LocalProvider {
	return &LocalProvider{BasePath: filepath.Clean(basePath)}
}

func (p *LocalProvider) String() string { return "file://" + filepath.ToSlash(p.BasePath) }

func (p *LocalProvider) Upload(ctx context.Context, localPath, remotePath string) error {
	if p.BasePath == "" || p.BasePath == "." {
		return errors.New("local provider base path is required")
	}
	if err := requireUploadArgs(localPath, remotePath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	destPath, err := containedPath(p.BasePath, remotePath)
	if err != nil {
		return err
	}
	return copyFile(localPath, destPath)
}

// copyFile writes through a temporary sibling and renames it into place so a
// partial copy is never visible under the final name.
func copyFile(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".*")
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chtimes(tmpPath, info.ModTime(), info.ModTime())
	}
	if err == nil {
		err = os.Rename(tmpPath, destPath)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return nil
}
