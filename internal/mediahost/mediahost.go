// Package mediahost is the narrow contract to an external media-library
// host (e.g. a Jellyfin/Emby/Plex-like server): resolving a host item id to
// a local media path, and uploading a finished subtitle track back to the
// host. Per spec.md, the concrete host API is an external collaborator and
// out of scope; this package defines the contract plus a filesystem-backed
// default good enough for local-library deployments where "host" and
// "filesystem" are the same machine.
package mediahost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/christian-lee/subtrans/internal/jobcore"
)

// Client resolves host items and delivers upload-mode writebacks.
type Client interface {
	// FetchItem returns the local filesystem path of the media file for
	// a host item id.
	FetchItem(ctx context.Context, itemID string) (string, error)

	// Upload pushes a subtitle track for itemID in lang to the host. Per
	// SPEC_FULL.md's Open Question resolution, any error here is final:
	// no retry, no fallback to sidecar mode.
	Upload(ctx context.Context, itemID, lang, filePath string) error
}

// FilesystemClient treats the host library as a local directory tree
// keyed by item id (itemID is a relative path under Root). Good for
// single-machine deployments; a real host integration (Jellyfin API, etc)
// implements the same Client interface.
type FilesystemClient struct {
	Root string
}

// NewFilesystemClient creates a Client rooted at root.
func NewFilesystemClient(root string) *FilesystemClient {
	return &FilesystemClient{Root: root}
}

func (c *FilesystemClient) FetchItem(ctx context.Context, itemID string) (string, error) {
	path := filepath.Join(c.Root, filepath.Clean("/"+itemID))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", jobcore.New("mediahost.FetchItem", jobcore.NotFound, err)
		}
		return "", jobcore.New("mediahost.FetchItem", jobcore.Internal, err)
	}
	return path, nil
}

func (c *FilesystemClient) Upload(ctx context.Context, itemID, lang, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return jobcore.New("mediahost.Upload", jobcore.Internal, err)
	}
	mediaPath := filepath.Join(c.Root, filepath.Clean("/"+itemID))
	dest := sidecarPath(mediaPath, lang)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return jobcore.New("mediahost.Upload", jobcore.Internal, fmt.Errorf("write sidecar: %w", err))
	}
	return nil
}

// sidecarPath and SidecarPath both express "same directory, same base
// name, .<lang>.srt extension" — the one thing sidecar and upload-mode
// filesystem delivery have in common.
func sidecarPath(mediaPath, lang string) string {
	ext := filepath.Ext(mediaPath)
	base := mediaPath[:len(mediaPath)-len(ext)]
	return fmt.Sprintf("%s.%s.srt", base, lang)
}

// SidecarPath computes the sidecar subtitle path for a source media path
// and target language, used by the writeback phase in sidecar mode.
func SidecarPath(mediaPath, lang string) string {
	return sidecarPath(mediaPath, lang)
}
