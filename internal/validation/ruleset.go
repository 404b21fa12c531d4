package validation

import (
	"fmt"

	"github.com/spf13/viper"
)

// RuleSet is the project-scoped quality configuration. It is data supplied
// by the project-configuration collaborator, versioned outside this core;
// a missing rule set is legal and degrades the engine gracefully.
type RuleSet struct {
	// RequiredGroups maps an element kind to the property groups every
	// element of that kind must carry.
	RequiredGroups map[string][]string `mapstructure:"required_groups"`
	// NamingPatterns maps an element kind to a regular expression its
	// element names should match. Mismatches are advisory.
	NamingPatterns map[string]string `mapstructure:"naming_patterns"`
	// MaturityScale is the ordered level rubric, lowest level first.
	MaturityScale []MaturityLevel `mapstructure:"maturity_scale"`
}

// MaturityLevel is one named level of the maturity scale with its own
// geometry and information thresholds.
type MaturityLevel struct {
	Name            string   `mapstructure:"name"`
	RequireGeometry bool     `mapstructure:"require_geometry"`
	MinProperties   int      `mapstructure:"min_properties"`
	RequiredGroups  []string `mapstructure:"required_groups"`
}

// LoadRuleSet reads a rule-set yaml document from disk.
func LoadRuleSet(path string) (*RuleSet, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading rule set: %w", err)
	}

	var rules RuleSet
	if err := v.Unmarshal(&rules); err != nil {
		return nil, fmt.Errorf("decoding rule set: %w", err)
	}

	return &rules, nil
}
