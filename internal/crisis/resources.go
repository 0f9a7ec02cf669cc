package crisis

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resource is one crisis contact. Resources are static configuration so the
// fallback message never depends on the network.
type Resource struct {
	Name         string `yaml:"name"`
	Method       string `yaml:"method"`
	Contact      string `yaml:"contact"`
	Availability string `yaml:"availability"`
}

// Resources is a versioned resource list.
type Resources struct {
	Version   string     `yaml:"version"`
	Resources []Resource `yaml:"resources"`
}

//go:embed data/resources.yaml
var defaultResources []byte

// DefaultResources returns the embedded resource list.
func DefaultResources() Resources {
	rs, err := LoadResources(bytes.NewReader(defaultResources))
	if err != nil {
		panic(fmt.Sprintf("crisis: embedded resources: %v", err))
	}
	return rs
}

// LoadResources decodes a YAML (or JSON) resource list. Every resource needs
// a name and a contact.
func LoadResources(r io.Reader) (Resources, error) {
	var rs Resources
	if err := yaml.NewDecoder(r).Decode(&rs); err != nil {
		return Resources{}, fmt.Errorf("crisis: decode resources: %w", err)
	}
	if len(rs.Resources) == 0 {
		return Resources{}, errors.New("crisis: resource list is empty")
	}
	for i, res := range rs.Resources {
		if strings.TrimSpace(res.Name) == "" || strings.TrimSpace(res.Contact) == "" {
			return Resources{}, fmt.Errorf("crisis: resource %d needs a name and contact", i)
		}
	}
	return rs, nil
}

// Lines renders each resource as a single line.
func (rs Resources) Lines() []string {
	out := make([]string, 0, len(rs.Resources))
	for _, r := range rs.Resources {
		line := fmt.Sprintf("%s: %s", r.Name, r.Contact)
		if r.Availability != "" {
			line += " (" + r.Availability + ")"
		}
		out = append(out, line)
	}
	return out
}

// Prompt builds the system prompt for the crisis generation path.
func Prompt(rs Resources) string {
	return strings.Join([]string{
		"A student has just written something that suggests they may be in immediate danger.",
		"Respond in no more than four short sentences.",
		"",
		"You must:",
		"1) Say clearly that you are concerned about them and that they matter.",
		"2) Encourage them to reach out for help right now.",
		"3) Include every one of these resources exactly as written:",
		"- " + strings.Join(rs.Lines(), "\n- "),
		"4) Suggest contacting a trusted person or local emergency services if they are in danger.",
		"",
		"Do not diagnose, do not discuss methods, and do not change the subject.",
	}, "\n")
}

// FallbackMessage is the fixed reply used when crisis generation fails. It is
// assembled from static data only.
func FallbackMessage(rs Resources) string {
	var b strings.Builder
	b.WriteString("I'm really concerned about what you've shared, and I want you to know you don't have to face this alone. ")
	b.WriteString("Please reach out for support right now:\n")
	for _, line := range rs.Lines() {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("If you are in immediate danger, please contact your local emergency services or someone you trust nearby.")
	return b.String()
}
