// Package config loads sassimport.kdl project files.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/containerd/errdefs"
	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/ndisidore/sassimport/pkg/importer"
)

// DefaultFile is the config file name looked up in the working directory.
const DefaultFile = "sassimport.kdl"

// Sentinel errors for config failures. All of them match
// errdefs.IsInvalidArgument.
var (
	ErrInvalidConfig  = fmt.Errorf("invalid config: %w", errdefs.ErrInvalidArgument)
	ErrUnknownNode    = fmt.Errorf("%w: unknown node", ErrInvalidConfig)
	ErrMissingField   = fmt.Errorf("%w: missing required field", ErrInvalidConfig)
	ErrDuplicateField = fmt.Errorf("%w: duplicate field", ErrInvalidConfig)
	ErrExtraArgs      = fmt.Errorf("%w: too many arguments", ErrInvalidConfig)
	ErrTypeMismatch   = fmt.Errorf("%w: argument type mismatch", ErrInvalidConfig)
)

// Node names.
const (
	_nodeCatalog     = "catalog"
	_nodeRoot        = "root"
	_nodePrefix      = "prefix"
	_nodeInclude     = "include"
	_nodeExtensions  = "extensions"
	_nodeExt         = "ext"
	_nodeFilesystem  = "filesystem"
	_nodeAlwaysStale = "always-stale"
	_propSyntax      = "syntax"
)

// Catalog describes one directory catalog.
type Catalog struct {
	Name    string
	Roots   []string
	Prefix  string
	Include []string
}

// Config is a parsed project file.
type Config struct {
	Catalogs []Catalog
	// Extensions overrides the default extension table when non-empty.
	Extensions []importer.Extension
	// Filesystem is the fallback root; empty means the working directory.
	Filesystem  string
	AlwaysStale bool
}

// Table builds the extension table, falling back to the defaults.
func (c Config) Table() (*importer.ExtensionTable, error) {
	if len(c.Extensions) == 0 {
		return importer.DefaultTable(), nil
	}
	t, err := importer.NewExtensionTable(c.Extensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return t, nil
}

// Load reads path. A missing file yields the zero Config.
func Load(path string) (Config, error) {
	cfg, err := ParseFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	return cfg, err
}

// ParseFile reads and parses the KDL file at path.
func ParseFile(path string) (cfg Config, err error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()
	return Parse(f, path)
}

// ParseString parses KDL content from a string.
func ParseString(content string) (Config, error) {
	return Parse(strings.NewReader(content), "<string>")
}

// Parse parses KDL content from r. filename is used in error messages.
func Parse(r io.Reader, filename string) (Config, error) {
	doc, err := kdl.Parse(r)
	if err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w: %w", filename, ErrInvalidConfig, err)
	}

	var (
		cfg     Config
		seen    = make(map[string]bool)
		catalog = make(map[string]bool)
	)
	for _, node := range doc.Nodes {
		name := node.Name.ValueString()
		switch name {
		case _nodeCatalog:
			c, err := parseCatalog(node, filename)
			if err != nil {
				return Config{}, err
			}
			if catalog[c.Name] {
				return Config{}, fmt.Errorf("%s: catalog %q: %w", filename, c.Name, ErrDuplicateField)
			}
			catalog[c.Name] = true
			cfg.Catalogs = append(cfg.Catalogs, c)
			continue
		case _nodeExtensions, _nodeFilesystem, _nodeAlwaysStale:
			if seen[name] {
				return Config{}, fmt.Errorf("%s: %w: %q", filename, ErrDuplicateField, name)
			}
			seen[name] = true
		default:
			return Config{}, fmt.Errorf("%s: %w: %q", filename, ErrUnknownNode, name)
		}

		if err := applyTopLevel(&cfg, node, filename); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func applyTopLevel(cfg *Config, node *document.Node, filename string) error {
	switch name := node.Name.ValueString(); name {
	case _nodeExtensions:
		exts, err := parseExtensions(node, filename)
		if err != nil {
			return err
		}
		cfg.Extensions = exts
	case _nodeFilesystem:
		v, err := requireSingleString(node, filename, name)
		if err != nil {
			return err
		}
		cfg.Filesystem = v
	case _nodeAlwaysStale:
		v, err := optionalBoolArg(node)
		if err != nil {
			return fmt.Errorf("%s: %q: %w", filename, name, err)
		}
		cfg.AlwaysStale = v
	default:
		panic(fmt.Sprintf("applyTopLevel: unexpected node %q in %s", name, filename))
	}
	return nil
}

func parseCatalog(node *document.Node, filename string) (Catalog, error) {
	name, err := requireSingleString(node, filename, _nodeCatalog)
	if err != nil {
		return Catalog{}, err
	}
	c := Catalog{Name: name}
	for _, child := range node.Children {
		field := child.Name.ValueString()
		switch field {
		case _nodeRoot:
			v, err := requireSingleString(child, filename, field)
			if err != nil {
				return Catalog{}, err
			}
			c.Roots = append(c.Roots, v)
		case _nodeInclude:
			v, err := requireSingleString(child, filename, field)
			if err != nil {
				return Catalog{}, err
			}
			c.Include = append(c.Include, v)
		case _nodePrefix:
			if c.Prefix != "" {
				return Catalog{}, fmt.Errorf("%s: catalog %q: %w: %q", filename, name, ErrDuplicateField, field)
			}
			v, err := requireSingleString(child, filename, field)
			if err != nil {
				return Catalog{}, err
			}
			c.Prefix = v
		default:
			return Catalog{}, fmt.Errorf("%s: catalog %q: %w: %q", filename, name, ErrUnknownNode, field)
		}
	}
	if len(c.Roots) == 0 {
		return Catalog{}, fmt.Errorf("%s: catalog %q: %w: %q", filename, name, ErrMissingField, _nodeRoot)
	}
	return c, nil
}

func parseExtensions(node *document.Node, filename string) ([]importer.Extension, error) {
	exts := make([]importer.Extension, 0, len(node.Children))
	for _, child := range node.Children {
		if field := child.Name.ValueString(); field != _nodeExt {
			return nil, fmt.Errorf("%s: extensions: %w: %q (expected ext)", filename, ErrUnknownNode, field)
		}
		ext, err := requireSingleString(child, filename, _nodeExt)
		if err != nil {
			return nil, err
		}
		raw, err := stringProp(child, _propSyntax)
		if err != nil {
			return nil, fmt.Errorf("%s: ext %q: %w", filename, ext, err)
		}
		if raw == "" {
			raw = ext
		}
		syntax, err := importer.ParseSyntax(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: ext %q: %w: %w", filename, ext, ErrInvalidConfig, err)
		}
		exts = append(exts, importer.Extension{Ext: ext, Syntax: syntax})
	}
	if _, err := importer.NewExtensionTable(exts); err != nil {
		return nil, fmt.Errorf("%s: extensions: %w: %w", filename, ErrInvalidConfig, err)
	}
	return exts, nil
}

// requireSingleString extracts exactly one string argument.
func requireSingleString(node *document.Node, filename, field string) (string, error) {
	if len(node.Arguments) > 1 {
		return "", fmt.Errorf("%s: %q takes one argument, got %d: %w",
			filename, field, len(node.Arguments), ErrExtraArgs)
	}
	v, err := stringArg(node, 0)
	if err != nil {
		return "", fmt.Errorf("%s: %q requires a string value: %w", filename, field, err)
	}
	return v, nil
}

func stringArg(node *document.Node, idx int) (string, error) {
	if idx >= len(node.Arguments) {
		return "", fmt.Errorf("argument %d: %w", idx, ErrMissingField)
	}
	v, ok := node.Arguments[idx].ResolvedValue().(string)
	if !ok {
		return "", fmt.Errorf("argument %d: not a string: %w", idx, ErrTypeMismatch)
	}
	return v, nil
}

// optionalBoolArg reads a flag node: no argument means true.
func optionalBoolArg(node *document.Node) (bool, error) {
	if len(node.Arguments) == 0 {
		return true, nil
	}
	if len(node.Arguments) > 1 {
		return false, fmt.Errorf("got %d arguments: %w", len(node.Arguments), ErrExtraArgs)
	}
	b, ok := node.Arguments[0].ResolvedValue().(bool)
	if !ok {
		return false, fmt.Errorf("argument 0: not a boolean: %w", ErrTypeMismatch)
	}
	return b, nil
}

// stringProp reads an optional string property; absent yields "".
func stringProp(node *document.Node, key string) (string, error) {
	v, ok := node.Properties[key]
	if !ok {
		return "", nil
	}
	s, ok := v.ResolvedValue().(string)
	if !ok {
		return "", fmt.Errorf("property %q: not a string: %w", key, ErrTypeMismatch)
	}
	return s, nil
}
