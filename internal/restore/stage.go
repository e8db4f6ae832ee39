package restore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"
)

// stageUpload copies the upload into the working directory, transparently
// decompressing gzip wrapping. Staging keeps the destructive step working on
// a local file the web tier can no longer touch, and for SQLite puts the
// file on the target filesystem so the final rename is atomic.
func stageUpload(uploadPath, workDir string, compressed bool) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}

	in, err := os.Open(uploadPath)
	if err != nil {
		return "", fmt.Errorf("opening upload: %w", err)
	}
	defer func() { _ = in.Close() }()

	var src io.Reader = in
	if compressed {
		gz, err := pgzip.NewReader(in)
		if err != nil {
			return "", fmt.Errorf("upload looks gzip-compressed but will not decompress: %w", err)
		}
		defer func() { _ = gz.Close() }()
		src = gz
	}

	staged := filepath.Join(workDir, "staged_"+filepath.Base(uploadPath))
	if compressed {
		staged = trimGzSuffix(staged)
	}

	out, err := os.OpenFile(staged, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("creating staged copy: %w", err)
	}

	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(staged)
		return "", fmt.Errorf("staging upload: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(staged)
		return "", fmt.Errorf("staging upload: %w", err)
	}
	return staged, nil
}

func trimGzSuffix(name string) string {
	if ext := filepath.Ext(name); ext == ".gz" || ext == ".gzip" {
		return name[:len(name)-len(ext)]
	}
	return name
}
