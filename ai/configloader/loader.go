// Package configloader reads the optional YAML override files (models, pricing,
// routing rules, tutor prompts) that operators drop into the config directory.
package configloader

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader resolves files relative to a base directory.
type Loader struct {
	baseDir string
	mu      sync.Mutex
	loaded  map[string]struct{}
}

// NewLoader creates a new configuration loader. An empty baseDir disables file lookups.
func NewLoader(baseDir string) *Loader {
	return &Loader{
		baseDir: baseDir,
		loaded:  make(map[string]struct{}),
	}
}

// Load reads subPath and decodes it into target.
func (l *Loader) Load(subPath string, target any) error {
	data, err := l.readFile(subPath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", subPath, err)
	}
	if err := Decode(data, target); err != nil {
		return fmt.Errorf("decode %s: %w", subPath, err)
	}

	l.mu.Lock()
	l.loaded[subPath] = struct{}{}
	l.mu.Unlock()
	return nil
}

// LoadOptional is Load for files that may legitimately be absent. It reports whether
// the file existed; target is untouched when it did not.
func (l *Loader) LoadOptional(subPath string, target any) (bool, error) {
	if l == nil || l.baseDir == "" {
		return false, nil
	}
	err := l.Load(subPath, target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Loaded lists the files successfully read so far, for startup logging.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.loaded))
	for k := range l.loaded {
		out = append(out, k)
	}
	return out
}

// Decode unmarshals YAML strictly: unknown keys are errors so typos surface at startup.
func Decode(data []byte, target any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("unmarshal YAML: %w", err)
	}
	return nil
}

func (l *Loader) readFile(subPath string) ([]byte, error) {
	if l.baseDir == "" {
		return nil, fs.ErrNotExist
	}
	return os.ReadFile(filepath.Join(l.baseDir, subPath))
}
