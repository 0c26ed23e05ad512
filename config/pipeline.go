package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// ActionConfig declares one extracted field of a stage.
type ActionConfig struct {
	Kind      string   `json:"kind"`
	Selectors []string `json:"selectors,omitempty"`
	Attr      string   `json:"attr,omitempty"`
	Patterns  []string `json:"patterns,omitempty"`
}

// StageConfig is the declarative description of one pipeline stage.
type StageConfig struct {
	Name       string         `json:"name"`
	Input      string         `json:"input,omitempty"`
	Seed       string         `json:"seed,omitempty"`
	Output     string         `json:"output"`
	Header     []string       `json:"header"`
	Actions    []ActionConfig `json:"actions"`
	Pagination string         `json:"pagination,omitempty"`
	StripQuery bool           `json:"strip_query,omitempty"`
}

// PipelineConfig is the content of the pipeline file.
type PipelineConfig struct {
	SeedURL string        `json:"seed_url,omitempty"`
	Stages  []StageConfig `json:"stages"`
}

// stageOverride is a stage in the local file. The pointer fields tell
// an explicit false or "" apart from an absent key.
type stageOverride struct {
	StageConfig
	Pagination *string `json:"pagination"`
	StripQuery *bool   `json:"strip_query"`
}

type pipelineOverride struct {
	SeedURL string          `json:"seed_url"`
	Stages  []stageOverride `json:"stages"`
}

// DefaultPipeline returns the four recommend.my stages.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		Stages: []StageConfig{
			{
				Name:   "Step 1",
				Output: "professional_categories_links",
				Header: []string{"Link"},
				Actions: []ActionConfig{
					{Kind: "elements_links", Selectors: []string{"div.left-side-content div.flickity-cell a"}},
				},
			},
			{
				Name:   "Step 2",
				Input:  "professional_categories_links",
				Output: "professionals_links",
				Header: []string{"Link"},
				Actions: []ActionConfig{
					{Kind: "elements_links", Selectors: []string{
						"div#jsSideContent a.card-overlay-link",
						"div#jsSideContent div.col a.text-info",
					}},
				},
				StripQuery: true,
			},
			{
				Name:   "Step 3",
				Input:  "professionals_links",
				Output: "profile_vendors_links",
				Header: []string{"Link"},
				Actions: []ActionConfig{
					{Kind: "elements_links", Selectors: []string{
						"div.profile-card-action div.business-contact a.profile-card-phone",
					}},
				},
				Pagination: "ul.pagination li.pagination-next a",
				StripQuery: true,
			},
			{
				Name:   "Step 4",
				Input:  "profile_vendors_links",
				Output: "vendors_name_contact",
				Header: []string{"Name", "Contact"},
				Actions: []ActionConfig{
					{Kind: "element_text", Selectors: []string{
						"div.provider div.provider__meta div.provider__title h4.provider__name",
					}},
					{Kind: "script_regex", Patterns: []string{
						`(011\d{8}|01[0-46-9]\d{7})`,
						`60[2-9]\d{8}`,
					}},
				},
			},
		},
	}
}

// LoadPipeline reads the pipeline file at path and merges
// <name>.local.<ext> over it. Local stages are matched to base stages
// by name and override only the keys they set; unmatched local stages
// are appended. When neither file exists the built-in pipeline is
// returned with found set to false.
func LoadPipeline(path string) (cfg PipelineConfig, found bool, err error) {
	if path == "" {
		return DefaultPipeline(), false, nil
	}

	cfg, err = readPipeline(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultPipeline(), false, nil
	}
	if err != nil {
		return PipelineConfig{}, false, err
	}
	if err := cfg.Validate(); err != nil {
		return PipelineConfig{}, true, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, true, nil
}

func readPipeline(path string) (PipelineConfig, error) {
	var out PipelineConfig
	allNotFound := true

	base, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(base) > 0 {
		if err := json5.Unmarshal(base, &out); err != nil {
			return out, fmt.Errorf("parse %s: %w", path, err)
		}
		allNotFound = false
	}

	localPath := localVariant(path)
	local, err := os.ReadFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(local) > 0 {
		var override pipelineOverride
		if err := json5.Unmarshal(local, &override); err != nil {
			return out, fmt.Errorf("parse %s: %w", localPath, err)
		}
		if err := out.merge(override); err != nil {
			return out, fmt.Errorf("merge %s: %w", localPath, err)
		}
		slog.Info("merging pipeline with local overrides", slog.String("local", localPath))
		allNotFound = false
	}

	if allNotFound {
		return out, os.ErrNotExist
	}
	return out, nil
}

func (p *PipelineConfig) merge(override pipelineOverride) error {
	if override.SeedURL != "" {
		p.SeedURL = override.SeedURL
	}
	for _, ov := range override.Stages {
		idx := -1
		for i := range p.Stages {
			if p.Stages[i].Name == ov.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			p.Stages = append(p.Stages, StageConfig{})
			idx = len(p.Stages) - 1
		}

		stage := &p.Stages[idx]
		if err := mergo.Merge(stage, ov.StageConfig, mergo.WithOverride); err != nil {
			return fmt.Errorf("stage %q: %w", ov.Name, err)
		}
		if ov.Pagination != nil {
			stage.Pagination = *ov.Pagination
		}
		if ov.StripQuery != nil {
			stage.StripQuery = *ov.StripQuery
		}
	}
	return nil
}

// localVariant turns "dir/pipeline.json5" into "dir/pipeline.local.json5".
func localVariant(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, name+".local"+ext)
}

// Validate checks stage names are unique and every stage declares one
// header column per action.
func (p PipelineConfig) Validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline has no stages")
	}
	seen := make(map[string]struct{}, len(p.Stages))
	for i, stage := range p.Stages {
		if strings.TrimSpace(stage.Name) == "" {
			return fmt.Errorf("stage %d: name cannot be empty", i)
		}
		if _, dup := seen[stage.Name]; dup {
			return fmt.Errorf("stage %q: duplicate name", stage.Name)
		}
		seen[stage.Name] = struct{}{}
		if stage.Output == "" {
			return fmt.Errorf("stage %q: output cannot be empty", stage.Name)
		}
		if len(stage.Actions) == 0 {
			return fmt.Errorf("stage %q: at least one action is required", stage.Name)
		}
		if len(stage.Header) != len(stage.Actions) {
			return fmt.Errorf("stage %q: header has %d columns for %d actions", stage.Name, len(stage.Header), len(stage.Actions))
		}
	}
	return nil
}
