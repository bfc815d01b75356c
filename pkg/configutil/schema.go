package configutil

import (
	"sort"
	"strings"
)

// Schema lists the keys a provider or transport accepts in its settings map.
// Keys match regardless of case, underscores and hyphens.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SettingsError reports every problem in a settings map at once.
type SettingsError struct {
	Path    string
	Missing []string
	Unknown []string
	// Suggest maps an unknown key to the accepted key it most likely meant.
	Suggest map[string]string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		keys := make([]string, len(e.Unknown))
		for i, k := range e.Unknown {
			keys[i] = k
			if s, ok := e.Suggest[k]; ok {
				keys[i] = k + " (did you mean " + s + "?)"
			}
		}
		parts = append(parts, "unknown: "+strings.Join(keys, ", "))
	}
	msg := strings.Join(parts, "; ")
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	return msg
}

// Validate checks input against the schema. path prefixes the error message,
// e.g. "vendors.transcribe.settings".
func (s Schema) Validate(path string, input map[string]any) error {
	known := make(map[string]string, len(s.Required)+len(s.Optional))
	for _, k := range s.Optional {
		known[normalizeKey(k)] = k
	}
	for _, k := range s.Required {
		known[normalizeKey(k)] = k
	}

	present := make(map[string]bool, len(input))
	e := &SettingsError{Path: path}
	for k, v := range input {
		nk := normalizeKey(k)
		if _, ok := known[nk]; !ok {
			if !s.AllowUnknown {
				e.Unknown = append(e.Unknown, k)
			}
			continue
		}
		present[nk] = !isEmptyValue(v)
	}
	for _, k := range s.Required {
		if !present[normalizeKey(k)] {
			e.Missing = append(e.Missing, k)
		}
	}
	if len(e.Missing) == 0 && len(e.Unknown) == 0 {
		return nil
	}
	sort.Strings(e.Missing)
	sort.Strings(e.Unknown)
	for _, k := range e.Unknown {
		if guess, ok := closest(normalizeKey(k), known); ok {
			if e.Suggest == nil {
				e.Suggest = make(map[string]string)
			}
			e.Suggest[k] = guess
		}
	}
	return e
}

// ValidateSettings is Validate without a path.
func ValidateSettings(input map[string]any, schema Schema) error {
	return schema.Validate("", input)
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}

// closest returns the known key within two edits of key.
func closest(key string, known map[string]string) (string, bool) {
	best, bestDist := "", 3
	for nk, orig := range known {
		if d := editDistance(key, nk); d < bestDist || (d == bestDist && orig < best) {
			best, bestDist = orig, d
		}
	}
	return best, best != ""
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
