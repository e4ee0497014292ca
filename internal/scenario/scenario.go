// Package scenario holds negotiation scenario reference data and the
// deterministic offline responder used when the live link is down.
package scenario

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Matrix describes one negotiation scenario: the rhetoric pattern the
// operator is trained against plus the scripted response rules. Immutable
// reference data, loaded once at registry construction.
type Matrix struct {
	ID                    string `yaml:"id"`
	Designation           string `yaml:"designation"`
	TargetRhetoricPattern string `yaml:"target_rhetoric_pattern"`
	DifficultyLevel       int    `yaml:"difficulty_level"`

	// Rules are scanned in definition order; the first match wins.
	Rules []Rule `yaml:"rules"`
}

// Rule is a (trigger pattern → canned response) pair. Order within a
// scenario is semantically significant.
type Rule struct {
	TriggerPattern    string  `yaml:"trigger_pattern"`
	SyntheticResponse string  `yaml:"synthetic_response"`
	OutcomeYield      float64 `yaml:"outcome_yield"`

	trigger *regexp.Regexp
}

// Library is the top-level structure of a scenario YAML file.
type Library struct {
	Scenarios []Matrix `yaml:"scenarios"`
}

// LoadLibrary reads and parses a scenario library YAML file from disk.
func LoadLibrary(path string) (*Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: open library %q: %w", path, err)
	}
	defer f.Close()

	lib, err := LoadLibraryFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("scenario: parse library %q: %w", path, err)
	}
	return lib, nil
}

// LoadLibraryFromReader parses scenario YAML from an [io.Reader]. The reader
// is consumed entirely; the caller is responsible for closing it.
func LoadLibraryFromReader(r io.Reader) (*Library, error) {
	var lib Library
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&lib); err != nil {
		return nil, fmt.Errorf("scenario: decode library yaml: %w", err)
	}
	return &lib, nil
}
