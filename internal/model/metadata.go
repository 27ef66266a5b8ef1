package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultImageSize     = 256
	DefaultPositiveClass = "infected"
	DefaultNegativeClass = "fresh"
)

// DefaultClasses is the output order of the fish classifier: index 0 fresh, 1 infected.
var DefaultClasses = []string{"fresh", "infected"}

// DefaultMetadata returns the metadata used when no sidecar file is present.
func DefaultMetadata() Metadata {
	return Metadata{
		Classes:       append([]string(nil), DefaultClasses...),
		ImageSize:     DefaultImageSize,
		PositiveClass: DefaultPositiveClass,
		NegativeClass: DefaultNegativeClass,
	}
}

// LoadMetadata reads a JSON or YAML sidecar. An empty path or a missing file
// yields the defaults; a present but malformed file is an error.
func LoadMetadata(path string) (Metadata, error) {
	meta := DefaultMetadata()
	if path == "" {
		return meta, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return meta, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var parsed Metadata
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &parsed)
	} else {
		err = yaml.Unmarshal(data, &parsed)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	meta.merge(parsed)

	if err := meta.Validate(); err != nil {
		return Metadata{}, fmt.Errorf("invalid metadata %s: %w", path, err)
	}
	return meta, nil
}

func (m *Metadata) merge(o Metadata) {
	if len(o.Classes) > 0 {
		m.Classes = o.Classes
	}
	if o.ImageSize > 0 {
		m.ImageSize = o.ImageSize
	}
	if o.PositiveClass != "" {
		m.PositiveClass = o.PositiveClass
	}
	if o.NegativeClass != "" {
		m.NegativeClass = o.NegativeClass
	}
	if o.InputName != "" {
		m.InputName = o.InputName
	}
	if o.OutputName != "" {
		m.OutputName = o.OutputName
	}
	if o.Layout != LayoutAuto {
		m.Layout = Layout(strings.ToLower(string(o.Layout)))
	}
}

func (m *Metadata) Validate() error {
	if len(m.Classes) < 2 {
		return fmt.Errorf("need at least two classes, got %d", len(m.Classes))
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("image_size must be positive, got %d", m.ImageSize)
	}
	if m.ClassIndex(m.PositiveClass) < 0 {
		return fmt.Errorf("positive class %q is not in classes %v", m.PositiveClass, m.Classes)
	}
	if m.ClassIndex(m.NegativeClass) < 0 {
		return fmt.Errorf("negative class %q is not in classes %v", m.NegativeClass, m.Classes)
	}
	switch m.Layout {
	case LayoutAuto, LayoutNHWC, LayoutNCHW:
	default:
		return fmt.Errorf("unknown layout %q", m.Layout)
	}
	return nil
}

// ClassIndex returns the output index of class, or -1.
func (m *Metadata) ClassIndex(class string) int {
	for i, c := range m.Classes {
		if c == class {
			return i
		}
	}
	return -1
}
