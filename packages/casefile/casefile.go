// Package casefile loads declarative case documents from YAML, validates
// them against the document schema, and resolves suites into executable
// specs.
package casefile

import (
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/casecraft/casecraft/packages/assertions"
	"github.com/casecraft/casecraft/packages/core/runner"
	"github.com/casecraft/casecraft/packages/policy"
)

// Case is one declarative case as written in a document.
type Case struct {
	Name       string                 `yaml:"name" json:"name"`
	Tags       []string               `yaml:"tags,omitempty" json:"tags,omitempty"`
	Variables  map[string]any         `yaml:"variables,omitempty" json:"variables,omitempty"`
	Inputs     map[string]any         `yaml:"inputs" json:"inputs"`
	Assertions []assertions.Assertion `yaml:"assertions,omitempty" json:"assertions,omitempty"`
}

// Step is one suite step; it may reference a case by name and override
// its inputs, variables, and assertions.
type Step struct {
	Alias      string                 `yaml:"alias,omitempty" json:"alias,omitempty"`
	Case       string                 `yaml:"case,omitempty" json:"case,omitempty"`
	Inputs     map[string]any         `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Variables  map[string]any         `yaml:"variables,omitempty" json:"variables,omitempty"`
	Assertions []assertions.Assertion `yaml:"assertions,omitempty" json:"assertions,omitempty"`
}

// Suite is an ordered sequence of steps sharing one execution context.
type Suite struct {
	Name      string         `yaml:"name" json:"name"`
	Tags      []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	Variables map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
	Steps     []Step         `yaml:"steps" json:"steps"`
}

// Document is one parsed case file.
type Document struct {
	Version   string         `yaml:"version,omitempty" json:"version,omitempty"`
	Policy    map[string]any `yaml:"policy,omitempty" json:"policy,omitempty"`
	Variables map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
	Redact    []string       `yaml:"redact,omitempty" json:"redact,omitempty"`
	Cases     []Case         `yaml:"cases,omitempty" json:"cases,omitempty"`
	Suites    []Suite        `yaml:"suites,omitempty" json:"suites,omitempty"`
}

// Load reads, schema-validates, and decodes a case document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading case file: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes raw document bytes.
func Parse(data []byte) (*Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing case file: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("case file is empty")
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding case file: %w", err)
	}
	if err := doc.check(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func validateSchema(raw map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(documentSchema)
	documentLoader := gojsonschema.NewGoLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validating case file: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("case file is invalid: %s", strings.Join(problems, "; "))
}

// check enforces what the schema cannot: unique names and resolvable
// step references.
func (d *Document) check() error {
	seen := make(map[string]struct{}, len(d.Cases))
	for _, c := range d.Cases {
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate case name %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	for _, s := range d.Suites {
		for i, step := range s.Steps {
			if step.Case == "" && len(step.Inputs) == 0 {
				return fmt.Errorf("suite %q step %d needs a case reference or inputs", s.Name, i+1)
			}
			if step.Case != "" {
				if _, ok := d.FindCase(step.Case); !ok {
					return fmt.Errorf("suite %q references unknown case %q", s.Name, step.Case)
				}
			}
		}
	}
	return nil
}

// PolicySnapshot builds the document's execution policy, defaulting when
// the document declares none.
func (d *Document) PolicySnapshot() (*policy.Snapshot, error) {
	return policy.SnapshotFromMap(d.Policy)
}

// FindCase looks a case up by name.
func (d *Document) FindCase(name string) (*Case, bool) {
	for i := range d.Cases {
		if d.Cases[i].Name == name {
			return &d.Cases[i], true
		}
	}
	return nil, false
}

// CaseSpec converts a declarative case into its executable form.
func (c *Case) CaseSpec() *runner.CaseSpec {
	return &runner.CaseSpec{
		Name:       c.Name,
		Inputs:     c.Inputs,
		Assertions: c.Assertions,
		Variables:  c.Variables,
		Tags:       c.Tags,
	}
}

// SuiteSpec resolves a suite's case references into an executable suite.
func (d *Document) SuiteSpec(suite *Suite) (*runner.SuiteSpec, error) {
	spec := &runner.SuiteSpec{
		Name:      suite.Name,
		Variables: suite.Variables,
		Tags:      suite.Tags,
		Steps:     make([]runner.SuiteStep, 0, len(suite.Steps)),
	}
	for i, step := range suite.Steps {
		resolved := runner.SuiteStep{
			Alias:      step.Alias,
			Inputs:     step.Inputs,
			Variables:  step.Variables,
			Assertions: step.Assertions,
		}
		if step.Case != "" {
			base, ok := d.FindCase(step.Case)
			if !ok {
				return nil, fmt.Errorf("suite %q step %d references unknown case %q", suite.Name, i+1, step.Case)
			}
			resolved.Case = base.CaseSpec()
		}
		spec.Steps = append(spec.Steps, resolved)
	}
	return spec, nil
}

// MergeVariables layers override on top of base without mutating either.
func MergeVariables(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// MatchesTags reports whether an entity's tags intersect the filter. An
// empty filter matches everything.
func MatchesTags(tags, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		for _, tag := range tags {
			if tag == want {
				return true
			}
		}
	}
	return false
}
