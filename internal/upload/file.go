package upload

import (
	"fmt"
	"os"
	"path/filepath"
)

// Stat builds a FileRef for a local file.
func Stat(path string) (FileRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileRef{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return FileRef{}, fmt.Errorf("%s is a directory", path)
	}
	name := filepath.Base(path)
	return FileRef{
		Name:      name,
		Size:      info.Size(),
		MediaType: DetectMediaType(name),
		Path:      path,
	}, nil
}
