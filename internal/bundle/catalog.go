// ABOUTME: Loads the bundle catalogue from YAML or TOML, or the embedded gallery.
// ABOUTME: Bad entries are collected as problems instead of failing the whole load.

package bundle

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed gallery.yaml
var galleryYAML []byte

// ErrUnknownBundle is returned when a key is not in the catalogue.
var ErrUnknownBundle = errors.New("unknown bundle")

// Problem records a catalogue entry that could not be used.
type Problem struct {
	Key string
	Err error
}

func (p Problem) Error() string {
	return fmt.Sprintf("%s: %v", p.Key, p.Err)
}

// Catalog is an ordered, read-only set of bundle entries.
type Catalog struct {
	source   string
	order    []string
	entries  map[string]Entry
	problems []Problem
}

func newCatalog(source string) *Catalog {
	return &Catalog{source: source, entries: make(map[string]Entry)}
}

func (c *Catalog) add(key string, decode func(*Entry) error) {
	var e Entry
	if err := decode(&e); err != nil {
		c.problems = append(c.problems, Problem{Key: key, Err: fmt.Errorf("%w: %v", ErrInvalidEntry, err)})
		return
	}
	e.Key = key
	if err := e.Validate(); err != nil {
		c.problems = append(c.problems, Problem{Key: key, Err: err})
		return
	}
	if _, dup := c.entries[key]; dup {
		c.problems = append(c.problems, Problem{Key: key, Err: fmt.Errorf("%w: duplicate key", ErrInvalidEntry)})
		return
	}
	c.entries[key] = e
	c.order = append(c.order, key)
}

// Source names where the catalogue came from.
func (c *Catalog) Source() string { return c.source }

// Keys returns bundle keys in catalogue order.
func (c *Catalog) Keys() []string {
	return append([]string(nil), c.order...)
}

// Entries returns all valid entries in catalogue order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.entries[k])
	}
	return out
}

// Get looks up an entry by key.
func (c *Catalog) Get(key string) (Entry, error) {
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownBundle, key)
	}
	return e, nil
}

// Problems lists the entries that were skipped.
func (c *Catalog) Problems() []Problem {
	return append([]Problem(nil), c.problems...)
}

// Len returns the number of usable entries.
func (c *Catalog) Len() int { return len(c.order) }

// Gallery returns the catalogue of example bundles compiled into the binary.
func Gallery() *Catalog {
	c, err := ParseYAML("gallery", galleryYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded gallery is malformed: %v", err))
	}
	return c
}

// LoadCatalog reads a catalogue file. An empty path selects the gallery.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return Gallery(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle catalogue: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(path, data)
	case ".toml":
		return ParseTOML(path, data)
	default:
		return nil, fmt.Errorf("unsupported catalogue format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

// ParseYAML decodes a YAML catalogue. Only a document that is not a mapping
// at the top level is an error; individual entries become problems.
func ParseYAML(source string, data []byte) (*Catalog, error) {
	c := newCatalog(source)

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", source, err)
	}
	if len(doc.Content) == 0 {
		return c, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing %s: top level must be a mapping of bundle keys", source)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]
		c.add(key, func(e *Entry) error {
			if value.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: entry must be a mapping", value.Line)
			}
			return value.Decode(e)
		})
	}
	return c, nil
}

// ParseTOML decodes a TOML catalogue where each bundle is a table.
func ParseTOML(source string, data []byte) (*Catalog, error) {
	c := newCatalog(source)

	raw := make(map[string]toml.Primitive)
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", source, err)
	}

	for _, k := range md.Keys() {
		if len(k) != 1 {
			continue
		}
		key := k[0]
		prim := raw[key]
		c.add(key, func(e *Entry) error {
			if md.Type(key) != "Hash" {
				return fmt.Errorf("entry must be a table, got %s", md.Type(key))
			}
			return md.PrimitiveDecode(prim, e)
		})
	}
	return c, nil
}
