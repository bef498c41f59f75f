package rc

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Preprocess copies the repository's convertible content into outDir as a
// converter-ready tree. Scripture files are flattened to the root so each
// book is addressable as one file; markdown trees keep their layout. The
// descriptor is carried along so converters can read it.
func Preprocess(r *RC, repoDir, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create preprocess dir: %w", err)
	}

	err := filepath.WalkDir(repoDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != repoDir {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(repoDir, path)
		if err != nil {
			return err
		}

		ext := strings.ToLower(filepath.Ext(path))
		var dst string
		switch {
		case ext == ".usfm":
			dst = filepath.Join(outDir, filepath.Base(path))
		case ext == ".md" || ext == ".txt":
			dst = filepath.Join(outDir, rel)
		case filepath.Base(path) == "manifest.yaml":
			dst = filepath.Join(outDir, "manifest.yaml")
		default:
			return nil
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return copyFile(path, dst)
	})
	if err != nil {
		return fmt.Errorf("failed to preprocess %s: %w", repoDir, err)
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
