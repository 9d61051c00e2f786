package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChunkName returns the file name of chunk i of participant pid.
func ChunkName(pid string, i int) string {
	return fmt.Sprintf("%s_video_%d.webm", pid, i)
}

// ChunkPaths lists pid's chunks in dir in numeric order. The first missing
// index ends the sequence; any other stat error is returned.
func ChunkPaths(dir, pid string) ([]string, error) {
	var out []string
	for i := 0; ; i++ {
		p := filepath.Join(dir, ChunkName(pid, i))
		_, err := os.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s in %s: %w", pid, dir, ErrNoChunks)
	}
	return out, nil
}

// Concat writes the chunks back to back into dst. The output only appears
// once every chunk has been copied.
func Concat(ctx context.Context, chunks []string, dst string) (err error) {
	if len(chunks) == 0 {
		return ErrNoChunks
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := appendFile(tmp, c); err != nil {
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename to %s: %w", dst, err)
	}
	return nil
}

func appendFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open chunk: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}
