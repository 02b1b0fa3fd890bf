package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/user/shellbridge/configs"
)

// ensureDefaults writes the embedded model lists into dir unless it already
// holds YAML files.
func ensureDefaults(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read registry dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isYAML(entry.Name()) {
			return nil
		}
	}

	files, err := fs.Glob(configs.ModelDefaults, "models/*.yaml")
	if err != nil {
		return fmt.Errorf("list embedded defaults: %w", err)
	}
	for _, file := range files {
		content, err := configs.ModelDefaults.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read embedded default %q: %w", file, err)
		}
		dst := filepath.Join(dir, path.Base(file))
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return fmt.Errorf("write default %q: %w", dst, err)
		}
	}
	return nil
}

func isYAML(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
