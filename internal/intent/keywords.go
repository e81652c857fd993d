package intent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultKeywordsYAML []byte

// KeywordRule binds an intent to the phrases that trigger it.
type KeywordRule struct {
	Intent  Type     `yaml:"intent"`
	Phrases []string `yaml:"phrases"`
}

// KeywordTable is scanned in order; earlier rules take precedence.
type KeywordTable []KeywordRule

// DefaultKeywords returns the built-in table.
func DefaultKeywords() KeywordTable {
	table, err := ParseKeywords(defaultKeywordsYAML)
	if err != nil {
		panic(fmt.Sprintf("intent: embedded keyword table is invalid: %v", err))
	}
	return table
}

// LoadKeywords reads a table from path, or returns the built-in table when
// path is empty.
func LoadKeywords(path string) (KeywordTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultKeywords(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("intent: read keywords: %w", err)
	}
	return ParseKeywords(raw)
}

// ParseKeywords decodes a YAML keyword table and validates its intents.
func ParseKeywords(raw []byte) (KeywordTable, error) {
	var table KeywordTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("intent: decode keywords: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("intent: keyword table is empty")
	}
	for i, rule := range table {
		t, ok := Parse(string(rule.Intent))
		if !ok || t == Unknown || t == Authentication {
			return nil, fmt.Errorf("intent: rule %d has unusable intent %q", i, rule.Intent)
		}
		table[i].Intent = t
		phrases := make([]string, 0, len(rule.Phrases))
		for _, p := range rule.Phrases {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				phrases = append(phrases, p)
			}
		}
		table[i].Phrases = phrases
	}
	return table, nil
}
