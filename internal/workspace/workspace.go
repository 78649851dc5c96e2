package workspace

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/concourse-resource/internal/protocol"
)

// Workspace is a caller-owned directory used to stage fetched or published content.
type Workspace struct {
	Dir string
}

// Digest summarizes the content of a workspace.
type Digest struct {
	Sum   string // hex BLAKE3
	Files int
}

// Open resolves path to an existing directory.
// A blank path fails with protocol.ErrWorkspaceRequired; a path that does not exist or is
// not a directory fails with protocol.ErrWorkspaceUnavailable.
func Open(path string) (Workspace, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Workspace{}, protocol.ErrWorkspaceRequired
	}

	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return Workspace{}, fmt.Errorf("%w: resolve %q: %v", protocol.ErrWorkspaceUnavailable, path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Workspace{}, fmt.Errorf("%w: %v", protocol.ErrWorkspaceUnavailable, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("%w: %q is not a directory", protocol.ErrWorkspaceUnavailable, abs)
	}

	return Workspace{Dir: abs}, nil
}

// Prepare resolves path for a fetch, creating the directory when it does not exist yet.
func Prepare(path string) (Workspace, error) {
	if strings.TrimSpace(path) == "" {
		return Workspace{}, protocol.ErrWorkspaceRequired
	}
	abs, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return Workspace{}, fmt.Errorf("%w: resolve %q: %v", protocol.ErrWorkspaceUnavailable, path, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("%w: %v", protocol.ErrWorkspaceUnavailable, err)
	}
	return Open(abs)
}

// Enter opens path and makes it the process working directory. The previous
// directory is not restored.
func Enter(path string) (Workspace, error) {
	ws, err := Open(path)
	if err != nil {
		return Workspace{}, err
	}
	if err := os.Chdir(ws.Dir); err != nil {
		return Workspace{}, fmt.Errorf("%w: %v", protocol.ErrWorkspaceUnavailable, err)
	}
	return ws, nil
}

// Digest hashes the tree rooted at dir: relative paths, file modes, file bytes and
// symlink targets, walked in lexical order. Equal trees give equal sums.
func (w Workspace) Digest(ctx context.Context) (Digest, error) {
	h := blake3.New()
	d := Digest{}

	err := filepath.WalkDir(w.Dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == w.Dir {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(w.Dir, path)
		if err != nil {
			return fmt.Errorf("resolve relative path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("read entry info for %q: %w", path, err)
		}

		switch {
		case entry.IsDir():
			fmt.Fprintf(h, "d %s\x00", relPath)
		case info.Mode().IsRegular():
			fmt.Fprintf(h, "f %s %o %d\x00", relPath, info.Mode().Perm(), info.Size())
			if err := hashFile(h, path); err != nil {
				return err
			}
			d.Files++
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("read symlink %q: %w", path, err)
			}
			fmt.Fprintf(h, "l %s %s\x00", relPath, target)
		default:
			return fmt.Errorf("unsupported file type for %q (%s)", path, info.Mode().Type())
		}
		return nil
	})
	if err != nil {
		return Digest{}, fmt.Errorf("digest workspace %q: %w", w.Dir, err)
	}

	d.Sum = hex.EncodeToString(h.Sum(nil))
	return d, nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("hash %q: %w", path, err)
	}
	return nil
}
