// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/pkg/types"
)

// RequestFile is the on-disk form of a research request. A researcher can
// keep requests under version control and rerun them with --request.
type RequestFile struct {
	Request types.ResearchRequest `yaml:"request"`

	// Options override orchestrator settings for this request only.
	Options RequestOptions `yaml:"options,omitempty"`
}

// RequestOptions are per-request orchestrator overrides. Nil fields keep the
// configured value. An explicit SearchRetries of 0 disables retries.
type RequestOptions struct {
	Concurrency     *int  `yaml:"concurrency,omitempty"`
	SearchRetries   *int  `yaml:"search_retries,omitempty"`
	EnableGapRound  *bool `yaml:"enable_gap_round,omitempty"`
	EnableFactCheck *bool `yaml:"enable_fact_check,omitempty"`
}

// Apply returns cfg with the non-nil overrides applied.
func (o RequestOptions) Apply(cfg types.OrchestratorConfig) types.OrchestratorConfig {
	if o.Concurrency != nil {
		cfg.Concurrency = *o.Concurrency
	}
	if o.SearchRetries != nil {
		cfg.SearchRetries = *o.SearchRetries
		if cfg.SearchRetries == 0 {
			cfg.SearchRetries = -1
		}
	}
	if o.EnableGapRound != nil {
		cfg.DisableGapRound = !*o.EnableGapRound
	}
	if o.EnableFactCheck != nil {
		cfg.DisableFactCheck = !*o.EnableFactCheck
	}
	return cfg
}

// LoadRequestFile reads a request file and validates the request after
// filling defaults.
func LoadRequestFile(path string) (*RequestFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request file: %w", err)
	}
	var rf RequestFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing request file: %w", err)
	}
	rf.Request = rf.Request.WithDefaults()
	if err := rf.Request.Validate(); err != nil {
		return nil, fmt.Errorf("request file %s: %w", path, err)
	}
	return &rf, nil
}

// WriteRequestFile saves a request to a YAML file.
func WriteRequestFile(path string, rf RequestFile) error {
	data, err := yaml.Marshal(&rf)
	if err != nil {
		return fmt.Errorf("marshaling request file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
