// Package discovery loads the optional discovery document a service publishes
// to describe its API.
package discovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

const logPrefix = "discovery:loader"

// Default locations tried after any explicit paths.
var defaultPaths = []string{"config/discovery.dsl", "discovery.dsl"}

// Document is a parsed discovery document. Its structure is owned by the
// service author and is passed through as-is.
type Document map[string]any

// Title returns the document's "title" or "name" entry.
func (d Document) Title() string {
	for _, k := range []string{"title", "name"} {
		if s, ok := d[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Load tries each explicit path, then the default locations, returning the
// first document that parses. A missing document is not an error: Load then
// returns nil. Malformed files are logged and skipped.
func Load(paths ...string) Document {
	all := make([]string, 0, len(paths)+len(defaultPaths))
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	all = append(all, defaultPaths...)

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		doc, err := Parse(data)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - Failed to parse discovery document %s: %v", logPrefix, p, err))
			continue
		}
		slog.Info(fmt.Sprintf("%s - Loaded discovery document from %s", logPrefix, p))
		return doc
	}

	slog.Debug(fmt.Sprintf("%s - No discovery document found", logPrefix))
	return nil
}

// Parse decodes a discovery document. The top level must be a JSON object.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s - invalid discovery document: %w", logPrefix, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%s - discovery document must be a JSON object", logPrefix)
	}
	return doc, nil
}
