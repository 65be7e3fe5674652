package export

import (
	"path/filepath"
	"strings"
)

func contentType(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".mov":
		return "video/quicktime"
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}
