package columns

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field identifies a semantic field of a build/QA sheet.
type Field string

const (
	FieldBuild         Field = "build"
	FieldPlatform      Field = "platform"
	FieldDate          Field = "date"
	FieldSeverity      Field = "severity"
	FieldStatus        Field = "status"
	FieldType          Field = "type"
	FieldAutomation    Field = "automation"
	FieldManual        Field = "manual"
	FieldRelease       Field = "release"
	FieldTotal         Field = "total"
	FieldExecuted      Field = "executed"
	FieldPassed        Field = "passed"
	FieldFailed        Field = "failed"
	FieldNotConsidered Field = "not_considered"
	FieldCritical      Field = "critical"
	FieldMajor         Field = "major"
	FieldMinor         Field = "minor"
)

// AllFields lists every known field in display order.
var AllFields = []Field{
	FieldBuild, FieldPlatform, FieldDate, FieldSeverity, FieldStatus, FieldType,
	FieldAutomation, FieldManual, FieldRelease,
	FieldTotal, FieldExecuted, FieldPassed, FieldFailed, FieldNotConsidered,
	FieldCritical, FieldMajor, FieldMinor,
}

// Aliases maps each field to its accepted header spellings.
type Aliases map[Field][]string

//go:embed aliases.yaml
var defaultAliasesYAML []byte

var defaultAliases = mustParseAliases(defaultAliasesYAML)

// DefaultAliases returns a copy of the built-in alias lists.
func DefaultAliases() Aliases {
	return defaultAliases.Clone()
}

// Clone returns a deep copy.
func (a Aliases) Clone() Aliases {
	out := make(Aliases, len(a))
	for f, list := range a {
		out[f] = append([]string(nil), list...)
	}
	return out
}

// Merge returns a copy of a where every field in overrides replaces the
// existing list. Unknown field names are rejected.
func (a Aliases) Merge(overrides map[string][]string) (Aliases, error) {
	out := a.Clone()

	var unknown []string
	for name, list := range overrides {
		f, ok := ParseField(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out[f] = cleanAliases(list)
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown alias fields: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// LoadAliases reads alias overrides from a YAML file and merges them over the
// defaults. The file maps field names to lists of header spellings:
//
//	build: ["RC Build", "Build Version", "Build"]
//	platform: ["Platform", "OS"]
func LoadAliases(path string) (Aliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}

	var overrides map[string][]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse aliases %s: %w", path, err)
	}

	return DefaultAliases().Merge(overrides)
}

// ParseField converts a configuration key to a Field.
// Dashes and spaces are accepted in place of underscores.
func ParseField(name string) (Field, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	for _, f := range AllFields {
		if string(f) == key {
			return f, true
		}
	}
	return "", false
}

// cleanAliases drops blank entries. Aliases are otherwise kept verbatim.
func cleanAliases(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func mustParseAliases(data []byte) Aliases {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		panic(fmt.Sprintf("columns: invalid embedded aliases: %v", err))
	}
	a, err := Aliases{}.Merge(raw)
	if err != nil {
		panic(fmt.Sprintf("columns: invalid embedded aliases: %v", err))
	}
	return a
}
