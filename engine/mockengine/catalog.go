package mockengine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

// catalogFile is the on-disk format of a catalog
type catalogFile struct {
	Artifacts []struct {
		Path  string           `yaml:"path"`
		Tests []types.TestCase `yaml:"tests"`
	} `yaml:"artifacts"`
}

// LoadCatalog reads a YAML catalog mapping artifact paths to their tests
func LoadCatalog(path string) (map[string][]types.TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML catalog
func ParseCatalog(data []byte) (map[string][]types.TestCase, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	catalog := make(map[string][]types.TestCase, len(file.Artifacts))
	for i, artifact := range file.Artifacts {
		if artifact.Path == "" {
			return nil, fmt.Errorf("artifact %d has no path", i)
		}
		for j, tc := range artifact.Tests {
			if tc.ID == "" {
				return nil, fmt.Errorf("test %d of artifact %s has no id", j, artifact.Path)
			}
			if tc.Source == "" {
				artifact.Tests[j].Source = artifact.Path
			}
		}
		catalog[artifact.Path] = append(catalog[artifact.Path], artifact.Tests...)
	}
	return catalog, nil
}

// SyntheticCatalog generates n tests for one artifact. Every fifth test fails and every
// seventh is skipped, which gives reports something to show.
func SyntheticCatalog(source string, n int) map[string][]types.TestCase {
	tests := make([]types.TestCase, 0, n)
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("Test%04d", i)
		switch {
		case i%5 == 0:
			name += "Fail"
		case i%7 == 0:
			name += "Skip"
		}
		tests = append(tests, types.TestCase{
			ID:          "Synthetic.Tests." + name,
			DisplayName: name,
			Source:      source,
		})
	}
	return map[string][]types.TestCase{source: tests}
}
