package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Request represents the envelope a pipeline engine writes to a resource's stdin.
// Missing sections decode to empty maps, never nil.
type Request struct {
	Source  map[string]any `json:"source"`
	Params  map[string]any `json:"params"`
	Version map[string]any `json:"version"`
}

// Debug reports whether the source asks for verbose logging (source.debug).
func (r *Request) Debug() bool {
	switch v := r.Source["debug"].(type) {
	case bool:
		return v
	case string:
		return IsTruthy(v)
	default:
		return false
	}
}

// Version identifies one state of a resource. Keys and values are opaque to the core.
type Version map[string]string

// VersionFromMap converts a decoded version section into a Version.
// Non-string values are formatted with %v.
func VersionFromMap(m map[string]any) Version {
	v := make(Version, len(m))
	for k, val := range m {
		switch s := val.(type) {
		case string:
			v[k] = s
		case nil:
			v[k] = ""
		default:
			v[k] = fmt.Sprint(s)
		}
	}
	return v
}

// MetadataField is a single name/value pair shown alongside a version.
type MetadataField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Metadata is an ordered list of metadata fields.
type Metadata []MetadataField

// MetadataFromMap flattens m into Metadata sorted by name so output is stable.
func MetadataFromMap(m map[string]any) Metadata {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	md := make(Metadata, 0, len(names))
	for _, name := range names {
		md = append(md, MetadataField{Name: name, Value: fmt.Sprint(m[name])})
	}
	return md
}

// CheckResponse lists versions, oldest first.
type CheckResponse []Version

// Result is the response for the in (fetch) and out (update) operations.
type Result struct {
	Version  Version  `json:"version"`
	Metadata Metadata `json:"metadata"`
}

// IsTruthy reports whether s is one of the accepted "on" spellings (1, y, yes, true).
func IsTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "true":
		return true
	}
	return false
}
