package strip

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/stripdeck/stripdeck/internal/errors"
)

// Load reads the persisted strip layout from path. A missing file is not an
// error: the default layout is seeded and returned instead.
func Load(path string) ([]*Strip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return nil, errors.Wrap(err).
			Component("strip").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}

	var strips []*Strip
	if err := json.Unmarshal(data, &strips); err != nil {
		return nil, errors.Wrap(err).
			Component("strip").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse_strip_layout").
			Context("path", path).
			Build()
	}
	for _, s := range strips {
		s.Normalize()
	}
	return strips, nil
}

// Save writes the strip layout to path atomically via a temp-file rename.
func Save(path string, strips []*Strip) error {
	data, err := json.MarshalIndent(strips, "", "  ")
	if err != nil {
		return errors.Wrap(err).
			Component("strip").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err).
			Component("strip").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err).
			Component("strip").
			Category(errors.CategoryConfiguration).
			Context("path", tmp).
			Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err).
			Component("strip").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	return nil
}
