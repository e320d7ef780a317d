package intent

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed skills.yaml
var skillsYAML []byte

// Skill is one detectable capability. Patterns and keywords drive the
// deterministic stage; Description is what gets embedded for the semantic
// stage.
type Skill struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Slash       string `yaml:"slash"`
	Patterns    []string
	Keywords    struct {
		Any []string `yaml:"any"`
		All []string `yaml:"all"`
	} `yaml:"keywords"`

	compiled []*regexp.Regexp
}

type catalogFile struct {
	Skills []Skill `yaml:"skills"`
}

// LoadCatalog parses the embedded skill catalog and compiles its patterns.
func LoadCatalog() ([]Skill, error) {
	var file catalogFile
	if err := yaml.Unmarshal(skillsYAML, &file); err != nil {
		return nil, fmt.Errorf("parse skill catalog: %w", err)
	}
	if len(file.Skills) == 0 {
		return nil, fmt.Errorf("skill catalog is empty")
	}

	seen := make(map[string]bool, len(file.Skills))
	for i := range file.Skills {
		s := &file.Skills[i]
		if strings.TrimSpace(s.ID) == "" {
			return nil, fmt.Errorf("skill %d: missing id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate skill id %q", s.ID)
		}
		seen[s.ID] = true
		if strings.TrimSpace(s.Description) == "" {
			return nil, fmt.Errorf("skill %q: missing description", s.ID)
		}

		for _, p := range s.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("skill %q: pattern %q: %w", s.ID, p, err)
			}
			s.compiled = append(s.compiled, re)
		}
	}
	return file.Skills, nil
}

// UnmarshalYAML keeps the compiled field out of the yaml surface.
func (s *Skill) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		ID          string   `yaml:"id"`
		Description string   `yaml:"description"`
		Slash       string   `yaml:"slash"`
		Patterns    []string `yaml:"patterns"`
		Keywords    struct {
			Any []string `yaml:"any"`
			All []string `yaml:"all"`
		} `yaml:"keywords"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	s.ID = r.ID
	s.Description = strings.TrimSpace(r.Description)
	s.Slash = r.Slash
	s.Patterns = r.Patterns
	s.Keywords = r.Keywords
	return nil
}
