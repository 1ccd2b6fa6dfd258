package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openlit/ruleengine/internal/rules"
)

// RuleFile is the on-disk format used by apply, import and export. YAML and
// JSON are both accepted.
type RuleFile struct {
	Rules []rules.Rule `yaml:"rules" json:"rules"`
}

// LoadRules reads a rule file. The file holds either a "rules" list or a
// single rule document. Rules come back normalized the way the API stores
// them (see rules.Normalize).
func LoadRules(path string) ([]rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}
	if len(file.Rules) > 0 {
		for i := range file.Rules {
			file.Rules[i] = rules.Normalize(file.Rules[i])
		}
		return file.Rules, nil
	}

	var single rules.Rule
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}
	if single.Name == "" && len(single.ConditionGroups) == 0 {
		return nil, fmt.Errorf("no rules found in %s", path)
	}
	return []rules.Rule{rules.Normalize(single)}, nil
}

// LoadRecord reads a JSON or YAML document holding the record to evaluate.
func LoadRecord(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var record map[string]any
	if err := yaml.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return record, nil
}

// WriteRules writes rs to path, or to Stdout when path is empty or "-".
func WriteRules(path string, rs []rules.Rule, format OutputFormat) error {
	out := Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	prev := Stdout
	Stdout = out
	defer func() { Stdout = prev }()

	if format == FormatJSON {
		return printJSON(RuleFile{Rules: rs})
	}
	return printYAML(RuleFile{Rules: rs})
}
