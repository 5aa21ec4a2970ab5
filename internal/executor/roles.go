package executor

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Role describes the persona an agent adopts for a phase.
type Role struct {
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
}

// PhaseConfig binds a phase to a role and a prompt template rendered with
// the task payload.
type PhaseConfig struct {
	Role           string `yaml:"role"`
	Prompt         string `yaml:"prompt"`
	ExpectedOutput string `yaml:"expected_output"`
	ParseJSON      bool   `yaml:"parse_json"`
}

// Roles is the parsed roles file.
type Roles struct {
	Roles  map[string]Role        `yaml:"roles"`
	Phases map[string]PhaseConfig `yaml:"phases"`
}

// LoadRoles reads and validates a roles file.
func LoadRoles(path string) (*Roles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	return ParseRoles(data)
}

// ParseRoles decodes and validates roles YAML.
func ParseRoles(data []byte) (*Roles, error) {
	var r Roles
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roles: %w", err)
	}
	for phase, pc := range r.Phases {
		if _, ok := r.Roles[pc.Role]; !ok {
			return nil, fmt.Errorf("phase %q references unknown role %q", phase, pc.Role)
		}
		if strings.TrimSpace(pc.Prompt) == "" {
			return nil, fmt.Errorf("phase %q has an empty prompt", phase)
		}
	}
	return &r, nil
}

// prompt is a compiled phase: a fixed system message and a user template.
type prompt struct {
	system    string
	user      *template.Template
	parseJSON bool
}

func (r *Roles) compile(phase string) (*prompt, error) {
	pc := r.Phases[phase]
	role := r.Roles[pc.Role]

	tmpl, err := template.New(phase).Option("missingkey=zero").Parse(pc.Prompt)
	if err != nil {
		return nil, fmt.Errorf("phase %q prompt: %w", phase, err)
	}

	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s.", strings.TrimSpace(role.Role))
	if role.Goal != "" {
		fmt.Fprintf(&sys, "\nGoal: %s", strings.TrimSpace(role.Goal))
	}
	if role.Backstory != "" {
		fmt.Fprintf(&sys, "\nBackground: %s", strings.TrimSpace(role.Backstory))
	}
	if pc.ExpectedOutput != "" {
		fmt.Fprintf(&sys, "\nExpected output: %s", strings.TrimSpace(pc.ExpectedOutput))
	}
	return &prompt{system: sys.String(), user: tmpl, parseJSON: pc.ParseJSON}, nil
}

func (p *prompt) render(payload map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := p.user.Execute(&buf, payload); err != nil {
		return "", err
	}
	// missingkey=zero renders absent map keys as "<no value>".
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}
