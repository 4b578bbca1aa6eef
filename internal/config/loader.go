package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey lists files layered underneath the file that names them.
const includeKey = "$include"

// LoadRaw reads a VibeLab config file and everything it includes into one
// tree. ${VAR} references are expanded per file before parsing. Included
// files form the lower layers; the including file is applied last.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("no config file given")
	}
	l := &layerLoader{active: make(map[string]bool)}
	return l.load(path)
}

// layerLoader tracks the include chain being read so a file that
// includes itself, directly or not, is reported instead of recursing.
type layerLoader struct {
	active map[string]bool
}

func (l *layerLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}
	if l.active[abs] {
		return nil, fmt.Errorf("config %s includes itself (cycle)", abs)
	}
	l.active[abs] = true
	defer delete(l.active, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	layer, err := parseLayer([]byte(expandEnv(string(data))), abs)
	if err != nil {
		return nil, err
	}
	includes, err := popIncludes(layer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	tree := make(map[string]any)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		lower, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		overlay(tree, lower)
	}
	overlay(tree, layer)
	return tree, nil
}

// parseLayer decodes one file. JSON and JSON5 are chosen by extension;
// everything else is read as a single YAML document.
func parseLayer(data []byte, path string) (map[string]any, error) {
	layer := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &layer); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&layer); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		var extra any
		if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: multiple YAML documents are not supported", path)
		}
	}
	if layer == nil {
		layer = make(map[string]any)
	}
	return layer, nil
}

// popIncludes removes the include key from layer and returns the listed
// paths, skipping blanks.
func popIncludes(layer map[string]any) ([]string, error) {
	v, ok := layer[includeKey]
	if !ok {
		return nil, nil
	}
	delete(layer, includeKey)

	var entries []any
	switch typed := v.(type) {
	case nil:
		return nil, nil
	case string:
		entries = []any{typed}
	case []any:
		entries = typed
	default:
		return nil, fmt.Errorf("%s must name a file or a list of files", includeKey)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		p, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("%s entries must be file paths, got %T", includeKey, e)
		}
		if strings.TrimSpace(p) != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// overlay writes upper onto base. Nested sections merge key by key; any
// other value in upper replaces the one in base.
func overlay(base, upper map[string]any) {
	for key, v := range upper {
		section, isMap := v.(map[string]any)
		existing, baseIsMap := base[key].(map[string]any)
		if isMap && baseIsMap {
			overlay(existing, section)
			continue
		}
		base[key] = v
	}
}

// decodeConfig converts the merged tree into Config, rejecting keys the
// struct does not declare.
func decodeConfig(tree map[string]any) (*Config, error) {
	encoded, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("re-encode merged config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(encoded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// expandEnv substitutes $VAR and ${VAR}. ${VAR:-fallback} uses fallback when
// VAR is unset or empty. The $include key is left intact.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		if key == includeKey[1:] {
			return includeKey
		}
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" || !hasFallback {
			return v
		}
		return fallback
	})
}
