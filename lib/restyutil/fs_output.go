package restyutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FilesystemOutput writes every recorded HTTP exchange to its own file in a
// directory, useful when the upstream markup changes and a scrape has to be
// debugged offline.
type FilesystemOutput struct {
	directory string
}

// NewFilesystemOutput empties dir, creating it when needed.
func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	if err := os.RemoveAll(dir); err != nil {
		return FilesystemOutput{}, fmt.Errorf("clear http dump dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return FilesystemOutput{}, fmt.Errorf("create http dump dir: %w", err)
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Dir() string {
	return o.directory
}

func (o FilesystemOutput) Write(id string, contents string) {
	path := filepath.Join(o.directory, id+".http")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		slog.Warn("failed to write http dump", "path", path, "err", err)
	}
}
