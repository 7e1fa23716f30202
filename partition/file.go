package partition

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicySpec is the YAML form of a policy
//
//	policy: composite
//	composite:
//	  - policy: halves
//	  - policy: single-tail
//	    offset: 2
type PolicySpec struct {
	Policy    string       `yaml:"policy"`
	Batches   int          `yaml:"batches,omitempty"`
	Offset    int          `yaml:"offset,omitempty"`
	Composite []PolicySpec `yaml:"composite,omitempty"`
}

// Build resolves the definition into a Policy
func (s PolicySpec) Build() (Policy, error) {
	if s.Policy == PolicyComposite || (s.Policy == "" && len(s.Composite) > 0) {
		if len(s.Composite) == 0 {
			return nil, fmt.Errorf("policy %s requires at least one member", PolicyComposite)
		}
		members := make([]Policy, 0, len(s.Composite))
		for i, m := range s.Composite {
			p, err := m.Build()
			if err != nil {
				return nil, fmt.Errorf("composite member %d: %w", i, err)
			}
			members = append(members, p)
		}
		return Composite(members...), nil
	}
	return ByName(s.Policy, Params{Batches: s.Batches, Offset: s.Offset})
}

// LoadPolicyFile reads a YAML policy definition
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition config %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses a YAML policy definition
func ParsePolicy(data []byte) (Policy, error) {
	var def PolicySpec
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse partition config: %w", err)
	}
	return def.Build()
}
