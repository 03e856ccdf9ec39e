package template

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
)

// ErrTemplateNotFound is returned when loading or deleting a name with no record.
var ErrTemplateNotFound = errors.New("template not found")

// Store persists one JSON record per template name under a directory, plus
// captured reference pattern images alongside them.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the directory when missing and returns a store over it.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create template dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid template name %q", name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Save stamps timestamps and the schema version, then writes the record.
func (s *Store) Save(t *InspectionTemplate) error {
	path, err := s.path(t.Name)
	if err != nil {
		return err
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.SchemaVersion = SchemaVersion
	t.Normalize()
	data, err := t.Encode()
	if err != nil {
		return fmt.Errorf("encode template %s: %w", t.Name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write template %s: %w", t.Name, err)
	}
	if s.logger != nil {
		s.logger.Info("template saved", "name", t.Name, "regions", len(t.CCD2.Regions))
	}
	return nil
}

// Load reads and migrates the named record.
func (s *Store) Load(name string) (*InspectionTemplate, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}
	t, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	if t.Name == "" {
		t.Name = name
	}
	return t, nil
}

// List returns the stored template names, sorted by filename.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}

// Delete removes the named record. The reference image, if any, stays; it
// may be shared by a re-created template of the same name.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return fmt.Errorf("delete template %s: %w", name, err)
	}
	return nil
}

// SaveReferenceImage writes a captured pattern image next to the records and
// returns its path for CCD1Config.ReferenceImagePath.
func (s *Store) SaveReferenceImage(name string, img image.Image) (string, error) {
	if _, err := s.path(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, name+"_ref.png")
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("save reference image %s: %w", name, err)
	}
	if s.logger != nil {
		s.logger.Info("reference image saved", "name", name, "path", path)
	}
	return path, nil
}

// CurrentSlot holds the active template as an atomically swapped snapshot.
// An in-flight inspection keeps reading the value it loaded; edits build a
// new template and Swap it in.
type CurrentSlot struct {
	cur atomic.Pointer[InspectionTemplate]
}

// Load returns the active template, nil when none was activated yet.
func (c *CurrentSlot) Load() *InspectionTemplate { return c.cur.Load() }

// Swap replaces the active template and returns the previous one.
func (c *CurrentSlot) Swap(t *InspectionTemplate) *InspectionTemplate {
	return c.cur.Swap(t)
}

// Activate loads the named template from the store into the slot.
func (c *CurrentSlot) Activate(s *Store, name string) (*InspectionTemplate, error) {
	t, err := s.Load(name)
	if err != nil {
		return nil, err
	}
	c.Swap(t)
	return t, nil
}
