package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Relocate moves the i-th file to the i-th destination, creating destination
// directories as needed. It stops on the first failure; files already moved
// stay moved. Best effort, not transactional.
func Relocate(files, destinations []string) error {
	if len(files) != len(destinations) {
		return fmt.Errorf("relocate: %d files but %d destinations", len(files), len(destinations))
	}
	for i, src := range files {
		dst := destinations[i]
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("create destination dir for %s: %w", dst, err)
		}
		if err := moveFile(src, dst); err != nil {
			return fmt.Errorf("move %s to %s: %w", src, dst, err)
		}
	}
	return nil
}

// moveFile renames, falling back to copy+remove when the destination sits on
// a different filesystem.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
