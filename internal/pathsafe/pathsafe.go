package pathsafe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mode distinguishes how the caller intends to use a path.
type Mode int

const (
	// ModeRead is for paths the pipeline will read from.
	ModeRead Mode = iota
	// ModeWrite is for paths the pipeline will create or overwrite.
	ModeWrite
)

// Validator is the boundary check every filesystem path must pass before any
// component reads or writes it. A negative result is fatal for the request.
type Validator interface {
	Validate(path string, mode Mode) error
}

// DefaultExtensions are the audio formats the processor accepts.
var DefaultExtensions = []string{".mp3", ".wav", ".m4a", ".aac", ".flac", ".ogg"}

// PathValidator confines paths to a media root and an extension allowlist.
type PathValidator struct {
	root       string
	extensions map[string]bool
}

// New creates a validator rooted at mediaRoot. extensions may be nil to use
// DefaultExtensions.
func New(mediaRoot string, extensions []string) *PathValidator {
	if extensions == nil {
		extensions = DefaultExtensions
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &PathValidator{
		root:       filepath.Clean(mediaRoot),
		extensions: allowed,
	}
}

// Validate rejects relative paths, paths escaping the media root, and
// disallowed extensions. For ModeWrite the parent directory must already
// exist inside the root; existence of the file itself is the caller's concern.
func (v *PathValidator) Validate(path string, mode Mode) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute: %s", path)
	}

	clean := filepath.Clean(path)
	rel, err := filepath.Rel(v.root, clean)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes media root: %s", path)
	}

	ext := strings.ToLower(filepath.Ext(clean))
	if !v.extensions[ext] {
		return fmt.Errorf("file extension %q not allowed", ext)
	}

	if mode == ModeWrite {
		dir := filepath.Dir(clean)
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("output directory does not exist: %s", dir)
		}
		if !info.IsDir() {
			return fmt.Errorf("output parent is not a directory: %s", dir)
		}
	}

	return nil
}

// AllowedExtension reports whether a filename carries an allowed extension.
// Used by the upload tracker, which validates filenames before any path exists.
func (v *PathValidator) AllowedExtension(filename string) bool {
	return v.extensions[strings.ToLower(filepath.Ext(filename))]
}
