// Package config loads an optional YAML training profile. Values from the
// profile act as defaults; command-line flags always win.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile mirrors the train command's flags, plus the apply command's
// decoder settings (stack limit and variant cutoffs). Zero values mean
// unset.
type Profile struct {
	Train string `yaml:"train,omitempty"`
	Devel string `yaml:"devel,omitempty"`
	Test  string `yaml:"test,omitempty"`

	SizeConstraints string `yaml:"size_constraints,omitempty"`
	MinIterations   int    `yaml:"min_iterations,omitempty"`
	MaxIterations   int    `yaml:"max_iterations,omitempty"`

	Viterbi                 bool   `yaml:"viterbi,omitempty"`
	NoEmergence             bool   `yaml:"no_emergence,omitempty"`
	FixedDiscount           string `yaml:"fixed_discount,omitempty"`
	EagerDiscountAdjustment bool   `yaml:"eager_discount_adjustment,omitempty"`

	StackLimit     int     `yaml:"stack_limit,omitempty"`
	VariantsNumber int     `yaml:"variants_number,omitempty"`
	VariantsMass   float64 `yaml:"variants_mass,omitempty"`

	Jobs  int    `yaml:"jobs,omitempty"`
	RunDB string `yaml:"run_db,omitempty"`
}

// Load parses a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &p, nil
}
