// Package properties loads the per-service key/value configuration file.
//
// The file is a flat YAML mapping. Keys keep the order they appear in, which
// matters for method routing entries.
package properties

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const logPrefix = "properties:properties"

// Well-known keys.
const (
	KeyServiceCategory = "serviceCategory"
	KeyProcessID       = "kie.project.processId"
	KeyProcessIDPrefix = "kie.project.processid."
	KeyLogExecution    = "kie.project.logexec"
	KeyIgnoreScrub     = "kie.project.ignorescrub"
	KeyModulePlugins   = "kie.project.module.plugins"
	KeyPackages        = "cds.based.project.packages"

	DefaultModulePlugins = "FtlLoader"
)

// ConfigurationError reports a service configuration file that is missing,
// unreadable or malformed. It is fatal to service initialization.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration file %s could not be loaded: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Entry is one key/value pair.
type Entry struct {
	Key   string
	Value string
}

// Properties is an ordered, read-only key/value mapping.
type Properties struct {
	entries []Entry
	index   map[string]int
}

// New builds Properties from entries. Later duplicates replace earlier values in place.
func New(entries ...Entry) *Properties {
	p := &Properties{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		if i, ok := p.index[e.Key]; ok {
			p.entries[i].Value = e.Value
			continue
		}
		p.index[e.Key] = len(p.entries)
		p.entries = append(p.entries, e)
	}
	return p
}

// FromMap builds Properties from a map; entries are ordered by key.
func FromMap(m map[string]string) *Properties {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Key: k, Value: m[k]})
	}
	return New(entries...)
}

// Load reads a flat YAML mapping from path.
func Load(path string) (*Properties, error) {
	if path == "" {
		return nil, &ConfigurationError{Path: "<unset>", Err: errors.New("no configuration file configured")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}
	p, err := Parse(data)
	if err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d properties from %s", logPrefix, p.Len(), path))
	return p, nil
}

// Parse decodes a flat YAML mapping, keeping key order. Scalar values are
// kept as written; nested values are rejected.
func Parse(data []byte) (*Properties, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s - invalid YAML: %w", logPrefix, err)
	}
	if len(doc.Content) == 0 {
		return New(), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s - expected a mapping at the top level", logPrefix)
	}

	entries := make([]Entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%s - value of %q must be a scalar (line %d)", logPrefix, k.Value, v.Line)
		}
		entries = append(entries, Entry{Key: k.Value, Value: v.Value})
	}
	return New(entries...), nil
}

// Len returns the number of entries.
func (p *Properties) Len() int { return len(p.entries) }

// Entries returns a copy of the entries in file order.
func (p *Properties) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Get returns the value for an exact key.
func (p *Properties) Get(key string) (string, bool) {
	i, ok := p.index[key]
	if !ok {
		return "", false
	}
	return p.entries[i].Value, true
}

// GetDefault returns the value for key or def when absent.
func (p *Properties) GetDefault(key, def string) string {
	if v, ok := p.Get(key); ok {
		return v
	}
	return def
}

// GetFold returns the value of the first key equal to key under case folding.
func (p *Properties) GetFold(key string) (string, bool) {
	for _, e := range p.entries {
		if strings.EqualFold(e.Key, key) {
			return e.Value, true
		}
	}
	return "", false
}

// WithPrefixFold returns, in order, the entries whose key starts with prefix under case folding.
func (p *Properties) WithPrefixFold(prefix string) []Entry {
	lp := strings.ToLower(prefix)
	var out []Entry
	for _, e := range p.entries {
		if strings.HasPrefix(strings.ToLower(e.Key), lp) {
			out = append(out, e)
		}
	}
	return out
}

// Category returns the trimmed service category, if set.
func (p *Properties) Category() (string, bool) {
	v, ok := p.Get(KeyServiceCategory)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// LogExecution reports whether executions should be recorded.
func (p *Properties) LogExecution() bool {
	return strings.EqualFold(strings.TrimSpace(p.GetDefault(KeyLogExecution, "false")), "true")
}

// IgnoreScrub reports whether request scrubbing is bypassed. The key is matched case-insensitively.
func (p *Properties) IgnoreScrub() bool {
	v, ok := p.GetFold(KeyIgnoreScrub)
	return ok && strings.EqualFold(strings.TrimSpace(v), "true")
}

// Plugins returns the module plugin names, defaulting to FtlLoader.
func (p *Properties) Plugins() []string {
	return splitList(p.GetDefault(KeyModulePlugins, DefaultModulePlugins))
}

// Packages returns the configured project packages, or an empty slice.
func (p *Properties) Packages() []string {
	v, ok := p.Get(KeyPackages)
	if !ok {
		return []string{}
	}
	return splitList(v)
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
