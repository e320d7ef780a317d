package deliverable

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

// Template pairs a deliverable type with its generation prompt and the
// section schema the generated content is expected to follow.
type Template struct {
	Type     Type     `yaml:"type"`
	Prompt   string   `yaml:"prompt"`
	Sections []string `yaml:"sections"`
}

type templateCatalog struct {
	Templates []Template `yaml:"templates"`
}

var templates = mustLoadTemplates()

func mustLoadTemplates() map[Type]Template {
	var catalog templateCatalog
	if err := yaml.Unmarshal(templatesYAML, &catalog); err != nil {
		panic(fmt.Sprintf("deliverable: parse embedded templates: %v", err))
	}

	byType := make(map[Type]Template, len(catalog.Templates))
	for _, tpl := range catalog.Templates {
		if _, err := ParseType(string(tpl.Type)); err != nil {
			panic(fmt.Sprintf("deliverable: embedded template: %v", err))
		}
		if _, dup := byType[tpl.Type]; dup {
			panic(fmt.Sprintf("deliverable: duplicate template for type %s", tpl.Type))
		}
		byType[tpl.Type] = tpl
	}
	// Every type in the closed enum must have a template so the generation
	// step stays exhaustive.
	for _, t := range Types() {
		if _, ok := byType[t]; !ok {
			panic(fmt.Sprintf("deliverable: missing template for type %s", t))
		}
	}
	return byType
}

// TemplateFor returns the generation template for a type.
func TemplateFor(t Type) (Template, error) {
	tpl, ok := templates[t]
	if !ok {
		return Template{}, fmt.Errorf("no template for deliverable type %q", t)
	}
	return tpl, nil
}

// RenderPrompt substitutes the title placeholder into the template prompt.
func (t Template) RenderPrompt(title string) string {
	return strings.ReplaceAll(t.Prompt, "{{title}}", title)
}
