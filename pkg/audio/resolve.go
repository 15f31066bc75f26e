package audio

import (
	"fmt"
	"os"
	"path/filepath"
)

// tryExtensions is the search order for requests without a file extension.
var tryExtensions = []string{".mp3", ".wav", ".ogg"}

// resolveFile locates the media file for a scene request. Names are looked
// up under dir unless absolute; a request without an extension retries the
// common ones in order.
func resolveFile(dir, name string) (string, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, name)
	}
	if filepath.Ext(path) != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("audio: %s: %w", name, err)
		}
		return path, nil
	}
	for _, ext := range tryExtensions {
		if _, err := os.Stat(path + ext); err == nil {
			return path + ext, nil
		}
	}
	return "", fmt.Errorf("audio: %s: no match with extensions %v under %s", name, tryExtensions, dir)
}
