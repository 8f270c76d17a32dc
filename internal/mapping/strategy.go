package mapping

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/model"
)

// MatchMethod records how a source entity was paired with its target.
type MatchMethod string

const (
	MatchExact    MatchMethod = "exact"
	MatchSynonym  MatchMethod = "synonym"
	MatchContains MatchMethod = "contains"
	MatchFuzzy    MatchMethod = "fuzzy"
)

// contains reports whether one normalized name contains the other, as in
// "sales" vs "sales pipeline". Whole-string containment outranks similarity
// scoring, which punishes big length differences.
func contains(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// FieldMatch pairs one child-account field with a master-account field.
type FieldMatch struct {
	Source       model.CustomField `json:"source"`
	Target       model.CustomField `json:"target"`
	Score        float64           `json:"score"`
	Method       MatchMethod       `json:"method"`
	TypeMismatch bool              `json:"type_mismatch,omitempty"`
}

// FieldPlan is the outcome of matching every child field.
type FieldPlan struct {
	Matches   []FieldMatch        `json:"matches"`
	Unmatched []model.CustomField `json:"unmatched"`
	Warnings  []string            `json:"warnings,omitempty"`
	// Recommendations spell out the creation step for each unmatched field.
	// Creation itself is a separate, explicit orchestrator action.
	Recommendations []string `json:"recommendations,omitempty"`
}

// StageMatch pairs a child stage with a master stage inside a matched pipeline.
type StageMatch struct {
	Source model.Stage `json:"source"`
	Target model.Stage `json:"target"`
	Score  float64     `json:"score"`
	Method MatchMethod `json:"method"`
}

// PipelineMatch pairs a child pipeline with a master pipeline, including its
// per-stage outcome.
type PipelineMatch struct {
	Source          model.Pipeline `json:"source"`
	Target          model.Pipeline `json:"target"`
	Score           float64        `json:"score"`
	Method          MatchMethod    `json:"method"`
	Stages          []StageMatch   `json:"stages"`
	UnmatchedStages []model.Stage  `json:"unmatched_stages,omitempty"`
}

// PipelinePlan is the outcome of matching every child pipeline.
type PipelinePlan struct {
	Matches         []PipelineMatch  `json:"matches"`
	Unmatched       []model.Pipeline `json:"unmatched"`
	Warnings        []string         `json:"warnings,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

// Strategy matches schema by normalized name, then synonym group, then
// string similarity. Results are deterministic: for equal scores the
// earliest target in the master account's listing wins.
type Strategy struct {
	fieldThreshold    float64
	pipelineThreshold float64
	syn               *Synonyms
	log               *zap.Logger
}

func NewStrategy(fieldThreshold, pipelineThreshold float64, syn *Synonyms) *Strategy {
	if syn == nil {
		syn = DefaultSynonyms()
	}
	return &Strategy{
		fieldThreshold:    fieldThreshold,
		pipelineThreshold: pipelineThreshold,
		syn:               syn,
		log:               zap.L().Named("mapping"),
	}
}

// MapFields matches child fields onto master fields. Contact-scoped fields
// only ever match contact-scoped fields, and likewise for opportunity fields.
func (s *Strategy) MapFields(source, target []model.CustomField) FieldPlan {
	var plan FieldPlan

	for _, src := range source {
		best, score, method, ok := s.bestField(src, target)
		if !ok {
			plan.Unmatched = append(plan.Unmatched, src)
			plan.Recommendations = append(plan.Recommendations, fmt.Sprintf(
				"create field %q of type %s", src.Name, model.NormalizeFieldType(string(src.DataType))))
			s.log.Debug("field unmatched", zap.String("name", src.Name))
			continue
		}

		m := FieldMatch{Source: src, Target: best, Score: score, Method: method}
		if model.NormalizeFieldType(string(src.DataType)) != model.NormalizeFieldType(string(best.DataType)) {
			m.TypeMismatch = true
			plan.Warnings = append(plan.Warnings, fmt.Sprintf(
				"field %q maps to %q but types differ (%s vs %s); values may not carry over cleanly",
				src.Name, best.Name, src.DataType, best.DataType))
		}
		plan.Matches = append(plan.Matches, m)
	}
	return plan
}

func (s *Strategy) bestField(src model.CustomField, targets []model.CustomField) (model.CustomField, float64, MatchMethod, bool) {
	srcNorm := Normalize(src.Name)

	for _, tgt := range targets {
		if tgt.ForOpportunity == src.ForOpportunity && Normalize(tgt.Name) == srcNorm {
			return tgt, 1, MatchExact, true
		}
	}
	for _, tgt := range targets {
		if tgt.ForOpportunity == src.ForOpportunity && s.syn.fieldMatch(srcNorm, Normalize(tgt.Name)) {
			return tgt, 1, MatchSynonym, true
		}
	}
	for _, tgt := range targets {
		if tgt.ForOpportunity == src.ForOpportunity && contains(srcNorm, Normalize(tgt.Name)) {
			return tgt, 0.9, MatchContains, true
		}
	}

	var best model.CustomField
	bestScore := 0.0
	for _, tgt := range targets {
		if tgt.ForOpportunity != src.ForOpportunity {
			continue
		}
		if sc := Similarity(srcNorm, Normalize(tgt.Name)); sc > bestScore {
			best, bestScore = tgt, sc
		}
	}
	if bestScore >= s.fieldThreshold {
		return best, bestScore, MatchFuzzy, true
	}
	return model.CustomField{}, 0, "", false
}

// MapPipelines matches child pipelines onto master pipelines, then matches
// stages within each matched pair.
func (s *Strategy) MapPipelines(source, target []model.Pipeline) PipelinePlan {
	var plan PipelinePlan

	for _, src := range source {
		tgt, score, method, ok := s.bestPipeline(src, target)
		if !ok {
			plan.Unmatched = append(plan.Unmatched, src)
			plan.Recommendations = append(plan.Recommendations, fmt.Sprintf(
				"create pipeline %q in the master account before migrating its records", src.Name))
			s.log.Debug("pipeline unmatched", zap.String("name", src.Name))
			continue
		}

		pm := PipelineMatch{Source: src, Target: tgt, Score: score, Method: method}
		for _, stage := range src.Stages {
			st, stScore, stMethod, stOK := s.bestStage(stage, tgt.Stages)
			if !stOK {
				pm.UnmatchedStages = append(pm.UnmatchedStages, stage)
				plan.Warnings = append(plan.Warnings, fmt.Sprintf(
					"stage %q in pipeline %q has no match in %q",
					stage.Name, src.Name, tgt.Name))
				plan.Recommendations = append(plan.Recommendations, fmt.Sprintf(
					"create stage %q in pipeline %q", stage.Name, tgt.Name))
				continue
			}
			pm.Stages = append(pm.Stages, StageMatch{Source: stage, Target: st, Score: stScore, Method: stMethod})
		}
		plan.Matches = append(plan.Matches, pm)
	}
	return plan
}

func (s *Strategy) bestPipeline(src model.Pipeline, targets []model.Pipeline) (model.Pipeline, float64, MatchMethod, bool) {
	srcNorm := Normalize(src.Name)

	for _, tgt := range targets {
		if Normalize(tgt.Name) == srcNorm {
			return tgt, 1, MatchExact, true
		}
	}
	for _, tgt := range targets {
		if contains(srcNorm, Normalize(tgt.Name)) {
			return tgt, 0.9, MatchContains, true
		}
	}

	var best model.Pipeline
	bestScore := 0.0
	for _, tgt := range targets {
		if sc := Similarity(srcNorm, Normalize(tgt.Name)); sc > bestScore {
			best, bestScore = tgt, sc
		}
	}
	if bestScore >= s.pipelineThreshold {
		return best, bestScore, MatchFuzzy, true
	}
	return model.Pipeline{}, 0, "", false
}

func (s *Strategy) bestStage(src model.Stage, targets []model.Stage) (model.Stage, float64, MatchMethod, bool) {
	srcNorm := Normalize(src.Name)

	for _, tgt := range targets {
		if Normalize(tgt.Name) == srcNorm {
			return tgt, 1, MatchExact, true
		}
	}
	for _, tgt := range targets {
		if s.syn.stageMatch(srcNorm, Normalize(tgt.Name)) {
			return tgt, 1, MatchSynonym, true
		}
	}
	for _, tgt := range targets {
		if contains(srcNorm, Normalize(tgt.Name)) {
			return tgt, 0.9, MatchContains, true
		}
	}

	var best model.Stage
	bestScore := 0.0
	for _, tgt := range targets {
		if sc := Similarity(srcNorm, Normalize(tgt.Name)); sc > bestScore {
			best, bestScore = tgt, sc
		}
	}
	if bestScore >= s.pipelineThreshold {
		return best, bestScore, MatchFuzzy, true
	}
	return model.Stage{}, 0, "", false
}

// Assess summarizes how much of the child schema resolved onto the master
// account. Migrations may proceed at half readiness or better; anything
// lower needs the unmatched schema created first.
func Assess(fields FieldPlan, pipelines PipelinePlan) model.ReadinessAssessment {
	a := model.ReadinessAssessment{
		FieldPercent:    percent(len(fields.Matches), len(fields.Matches)+len(fields.Unmatched)),
		PipelinePercent: percent(len(pipelines.Matches), len(pipelines.Matches)+len(pipelines.Unmatched)),
	}
	a.OverallPercent = (a.FieldPercent + a.PipelinePercent) / 2

	switch {
	case a.OverallPercent >= 80:
		a.Level = "ready"
	case a.OverallPercent >= 50:
		a.Level = "partial"
	default:
		a.Level = "not_ready"
	}
	a.CanProceed = a.OverallPercent >= 50

	a.Warnings = append(a.Warnings, fields.Warnings...)
	a.Warnings = append(a.Warnings, pipelines.Warnings...)
	return a
}

func percent(matched, total int) float64 {
	if total == 0 {
		return 100
	}
	return 100 * float64(matched) / float64(total)
}
