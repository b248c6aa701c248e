package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"media-proxy-go/internal/model"
)

// PublishPort writes port to path as decimal text followed by a newline.
// The file is written under a temporary name and renamed into place, so a
// reader never sees a partial value.
func PublishPort(path string, port model.BoundPort) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("publish port: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(strconv.Itoa(int(port)) + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("publish port: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("publish port: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish port: %w", err)
	}
	return nil
}
