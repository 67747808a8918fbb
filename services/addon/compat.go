package addon

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed compat.yaml
var defaultCompatYAML []byte

// CompatRule maps ember versions matching Pattern to a builder tag.
type CompatRule struct {
	Tag     string `yaml:"tag"`
	Pattern string `yaml:"pattern"`

	re *regexp.Regexp
}

// CompatTable is an ordered list of rules; the first matching rule wins.
type CompatTable struct {
	rules []CompatRule
}

// ParseCompatTable decodes a YAML sequence of {tag, pattern} entries.
func ParseCompatTable(data []byte) (CompatTable, error) {
	var rules []CompatRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return CompatTable{}, fmt.Errorf("decode compatibility table: %w", err)
	}
	return NewCompatTable(rules)
}

// NewCompatTable validates and compiles rules, keeping their order.
func NewCompatTable(rules []CompatRule) (CompatTable, error) {
	if len(rules) == 0 {
		return CompatTable{}, errors.New("compatibility table is empty")
	}

	seen := make(map[string]struct{}, len(rules))
	compiled := make([]CompatRule, 0, len(rules))
	for i, rule := range rules {
		rule.Tag = strings.TrimSpace(rule.Tag)
		if rule.Tag == "" {
			return CompatTable{}, fmt.Errorf("compatibility rule %d: tag is required", i)
		}
		if _, dup := seen[rule.Tag]; dup {
			return CompatTable{}, fmt.Errorf("compatibility rule %d: duplicate tag %q", i, rule.Tag)
		}
		seen[rule.Tag] = struct{}{}

		if rule.Pattern == "" {
			return CompatTable{}, fmt.Errorf("compatibility rule %q: pattern is required", rule.Tag)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return CompatTable{}, fmt.Errorf("compatibility rule %q: %w", rule.Tag, err)
		}
		rule.re = re
		compiled = append(compiled, rule)
	}
	return CompatTable{rules: compiled}, nil
}

// DefaultCompatTable returns the table shipped with the binary.
func DefaultCompatTable() CompatTable {
	table, err := ParseCompatTable(defaultCompatYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded compatibility table: %v", err))
	}
	return table
}

// LoadCompatTable reads a table from path, or returns the default table when path is empty.
func LoadCompatTable(path string) (CompatTable, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultCompatTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CompatTable{}, fmt.Errorf("read compatibility table: %w", err)
	}
	return ParseCompatTable(data)
}

// Resolve returns the tag of the first rule whose pattern matches emberVersion.
func (t CompatTable) Resolve(emberVersion string) (string, bool) {
	for _, rule := range t.rules {
		if rule.re.MatchString(emberVersion) {
			return rule.Tag, true
		}
	}
	return "", false
}

// Rules returns a copy of the table's rules in match order.
func (t CompatTable) Rules() []CompatRule {
	out := make([]CompatRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Tags lists the supported tags in match order.
func (t CompatTable) Tags() []string {
	tags := make([]string, 0, len(t.rules))
	for _, rule := range t.rules {
		tags = append(tags, rule.Tag)
	}
	return tags
}

// Len reports the number of rules.
func (t CompatTable) Len() int { return len(t.rules) }

func unsupportedVersionError(emberVersion string, table CompatTable) *Error {
	return &Error{
		Kind: KindUnsupportedVersion,
		Msg: fmt.Sprintf("No support for ember version %q.\nSupported versions: \"%s\"",
			emberVersion, strings.Join(table.Tags(), `", "`)),
	}
}
