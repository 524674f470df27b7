package runner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"testkit/pkg/logging"
)

// Filter narrows a loaded catalog before execution.
type Filter struct {
	Suite string
	Name  string
	Tag   string
}

// LoadScenarios reads scenarios from a YAML file or from every .yaml/.yml
// file under a directory. A multi-document file yields one scenario per
// document.
func LoadScenarios(path string) ([]Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path %s: %w", path, err)
	}

	var scenarios []Scenario
	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isYAMLFile(p) {
				return nil
			}
			loaded, err := loadScenarioFile(p)
			if err != nil {
				return err
			}
			scenarios = append(scenarios, loaded...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		scenarios, err = loadScenarioFile(path)
		if err != nil {
			return nil, err
		}
	}

	if err := validateCatalog(scenarios); err != nil {
		return nil, err
	}
	logging.Debug("runner", "loaded %d scenario(s) from %s", len(scenarios), path)
	return scenarios, nil
}

func loadScenarioFile(path string) ([]Scenario, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var scenarios []Scenario
	dec := yaml.NewDecoder(bytes.NewReader(content))
	for {
		var s Scenario
		if err := dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if err := validateScenario(s); err != nil {
			return nil, fmt.Errorf("invalid scenario in %s: %w", path, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %s must have at least one step", s.Name)
	}
	for i, step := range append(append([]Step{}, s.Steps...), s.Cleanup...) {
		if step.ID == "" {
			return fmt.Errorf("scenario %s: step %d: id is required", s.Name, i+1)
		}
		if step.Action == "" {
			return fmt.Errorf("scenario %s: step %s: action is required", s.Name, step.ID)
		}
		if step.Track != nil && (step.Track.Type == "" || step.Track.IDFrom == "") {
			return fmt.Errorf("scenario %s: step %s: track needs type and id_from", s.Name, step.ID)
		}
	}
	return nil
}

func validateCatalog(scenarios []Scenario) error {
	byName := make(map[string]bool, len(scenarios))
	for _, s := range scenarios {
		if byName[s.Name] {
			return fmt.Errorf("duplicate scenario name %s", s.Name)
		}
		byName[s.Name] = true
	}
	for _, s := range scenarios {
		for _, dep := range s.DependsOn {
			name, _ := splitDependency(dep)
			if !byName[name] {
				return fmt.Errorf("scenario %s depends on unknown scenario %s", s.Name, name)
			}
		}
	}
	return nil
}

// FilterScenarios keeps only the scenarios matching every set filter field.
func FilterScenarios(scenarios []Scenario, f Filter) []Scenario {
	var out []Scenario
	for _, s := range scenarios {
		if f.Suite != "" && s.Suite != f.Suite {
			continue
		}
		if f.Name != "" && s.Name != f.Name {
			continue
		}
		if f.Tag != "" && !hasTag(s, f.Tag) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func hasTag(s Scenario, tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// splitDependency parses a depends_on entry "name" or "name:type".
func splitDependency(dep string) (name, typ string) {
	if i := strings.IndexByte(dep, ':'); i >= 0 {
		return dep[:i], dep[i+1:]
	}
	return dep, "data"
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
