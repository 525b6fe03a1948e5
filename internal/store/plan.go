package store

import (
	"fmt"
	"strings"

	"github.com/loomorch/loom/internal/loomerr"
	"gopkg.in/yaml.v3"
)

const (
	planMetaStart = "<!-- loom METADATA -->"
	planMetaEnd   = "<!-- END loom METADATA -->"
)

// StageDef is one stage entry in a user-authored plan file (spec.md §6).
type StageDef struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description,omitempty"`
	Dependencies  []string `yaml:"dependencies,omitempty"`
	ParallelGroup string   `yaml:"parallel_group,omitempty"`
	Acceptance    []string `yaml:"acceptance"`
	Setup         []string `yaml:"setup,omitempty"`
	Files         []string `yaml:"files,omitempty"`
	AutoMerge     *bool    `yaml:"auto_merge,omitempty"`
	WorkingDir    string   `yaml:"working_dir,omitempty"`
	StageType     string   `yaml:"stage_type,omitempty"`
}

// PlanMeta is the parsed fenced YAML block of a plan file.
type PlanMeta struct {
	Version   int        `yaml:"version"`
	AutoMerge *bool      `yaml:"auto_merge,omitempty"`
	Stages    []StageDef `yaml:"stages"`
}

// PlanFile is a fully parsed, not-yet-validated plan document.
type PlanFile struct {
	Meta PlanMeta
	Path string
}

// ParsePlan extracts the fenced `<!-- loom METADATA -->` block from a
// markdown plan document and unmarshals it. The scanner is a small
// hand-written string search rather than a markdown AST parser, matching
// the teacher's own preference for direct string scanning.
func ParsePlan(path string, raw []byte) (*PlanFile, error) {
	text := string(raw)
	start := strings.Index(text, planMetaStart)
	if start < 0 {
		return nil, loomerr.Validation("store.ParsePlan", "missing "+planMetaStart+" block", nil)
	}
	body := text[start+len(planMetaStart):]
	end := strings.Index(body, planMetaEnd)
	if end < 0 {
		return nil, loomerr.Validation("store.ParsePlan", "missing "+planMetaEnd+" block", nil)
	}
	yamlText := strings.TrimSpace(body[:end])
	// Plan authors may fence the YAML in a ```yaml code block inside the
	// comment; strip it if present.
	yamlText = strings.TrimPrefix(yamlText, "```yaml")
	yamlText = strings.TrimPrefix(yamlText, "```")
	yamlText = strings.TrimSuffix(yamlText, "```")

	var wrapper struct {
		Loom PlanMeta `yaml:"loom"`
	}
	if err := yaml.Unmarshal([]byte(yamlText), &wrapper); err != nil {
		return nil, loomerr.Validation("store.ParsePlan", "unmarshal metadata", err)
	}

	return &PlanFile{Meta: wrapper.Loom, Path: path}, nil
}

// Validate applies the closed set of plan-file validation rules from
// spec.md §6: unknown version, empty stage list, duplicate ids, unknown
// dependency ids, self-dependencies, cycles (delegated to the caller via
// the Graph), invalid ids, invalid acceptance criteria.
func (p *PlanFile) Validate() error {
	if p.Meta.Version != 1 {
		return loomerr.Validation("store.Validate", fmt.Sprintf("unsupported loom.version: %d", p.Meta.Version), nil)
	}
	if len(p.Meta.Stages) == 0 {
		return loomerr.Validation("store.Validate", "plan has no stages", nil)
	}

	seen := make(map[string]bool, len(p.Meta.Stages))
	for _, sd := range p.Meta.Stages {
		if err := ValidateID("store.Validate", sd.ID); err != nil {
			return err
		}
		if seen[sd.ID] {
			return loomerr.Validation("store.Validate", "duplicate stage id: "+sd.ID, nil)
		}
		seen[sd.ID] = true

		if len(sd.Acceptance) == 0 {
			return loomerr.Validation("store.Validate", "stage "+sd.ID+" has no acceptance criteria", nil)
		}
		for _, cmd := range sd.Acceptance {
			if err := validateAcceptance(sd.ID, cmd); err != nil {
				return err
			}
		}
	}

	for _, sd := range p.Meta.Stages {
		for _, dep := range sd.Dependencies {
			if dep == sd.ID {
				return loomerr.Validation("store.Validate", "stage "+sd.ID+" depends on itself", nil)
			}
			if !seen[dep] {
				return loomerr.Validation("store.Validate", "stage "+sd.ID+" depends on unknown stage "+dep, nil)
			}
		}
	}

	return nil
}

// validateAcceptance rejects empty, overlong, or control-character
// acceptance commands per spec.md §6.
func validateAcceptance(stageID, cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return loomerr.Validation("store.Validate", "stage "+stageID+" has an empty acceptance command", nil)
	}
	if len(cmd) > 1024 {
		return loomerr.Validation("store.Validate", "stage "+stageID+" acceptance command exceeds 1024 chars", nil)
	}
	for _, r := range cmd {
		if r < 0x20 && r != '\t' {
			return loomerr.Validation("store.Validate", "stage "+stageID+" acceptance command contains a control character", nil)
		}
	}
	return nil
}

// ToStage converts a validated StageDef into a fresh Stage record in
// WaitingForDeps, ready for the Graph and Store to adopt.
func (sd *StageDef) ToStage(planID string, now NowFunc) *Stage {
	st := StageTypeStandard
	switch sd.StageType {
	case "knowledge":
		st = StageTypeKnowledge
	case "integration-verify":
		st = StageTypeIntegrationVerify
	case "code-review":
		st = StageTypeCodeReview
	}
	workingDir := sd.WorkingDir
	if workingDir == "" {
		workingDir = "."
	}
	ts := now()
	return &Stage{
		ID:            sd.ID,
		Name:          sd.Name,
		Description:   sd.Description,
		Status:        StageWaitingForDeps,
		DependsOn:     sd.Dependencies,
		ParallelGroup: sd.ParallelGroup,
		Acceptance:    sd.Acceptance,
		Setup:         sd.Setup,
		Files:         sd.Files,
		PlanID:        planID,
		WorkingDir:    workingDir,
		StageType:     st,
		AutoMerge:     sd.AutoMerge,
		CreatedAt:     ts,
		UpdatedAt:     ts,
		MaxRetries:    3,
	}
}
