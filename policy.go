package multihop

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// Policy holds every limit and vocabulary the control loop consults.
//
// Thread Safety: immutable after loading; safe to share between agents.
type Policy struct {
	// MaxIterations is the hard cap on Reasoner invocations per session.
	MaxIterations int `yaml:"max_iterations"`

	// MaxReplans is the number of replans after which the session is forced
	// to finish; the check is strictly greater-than.
	MaxReplans int `yaml:"max_replans"`

	// MaxPlanSteps bounds both the initial and revised plans.
	MaxPlanSteps int `yaml:"max_plan_steps"`

	StuckRetryLimit      int `yaml:"stuck_retry_limit"`
	ExhaustedRetryLimit  int `yaml:"exhausted_retry_limit"`
	SentinelRetryLimit   int `yaml:"sentinel_retry_limit"`
	WrongDocumentRetries int `yaml:"wrong_document_retries"`

	// DocumentWindow is how many characters of a document the extractor sees.
	DocumentWindow int `yaml:"document_window"`

	// SynthesisPhrases mark a step as combining earlier answers.
	SynthesisPhrases []string `yaml:"synthesis_phrases"`

	// RelevanceMarkers flag evidence lines worth preserving across a replan.
	RelevanceMarkers []string `yaml:"relevance_markers"`

	// TopicalKeywords flag document titles worth suggesting after a replan.
	TopicalKeywords []string `yaml:"topical_keywords"`

	AbsenceMarkers []string `yaml:"absence_markers"`
	PartialMarkers []string `yaml:"partial_markers"`

	// SearchReferencePhrases and ExtractReferencePhrases detect steps that
	// point back at earlier findings.
	SearchReferencePhrases  []string `yaml:"search_reference_phrases"`
	ExtractReferencePhrases []string `yaml:"extract_reference_phrases"`
}

// DefaultPolicy returns the embedded policy.
func DefaultPolicy() Policy {
	p, err := ParsePolicy(nil)
	if err != nil {
		// The embedded file is part of the build; failing here is a programming error.
		panic(fmt.Sprintf("multihop: embedded policy: %v", err))
	}
	return p
}

// ParsePolicy overlays data onto the embedded defaults and validates the
// result. A nil or empty data returns the defaults.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(defaultPolicyYAML, &p); err != nil {
		return Policy{}, fmt.Errorf("parse default policy: %w", err)
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Policy{}, fmt.Errorf("parse policy: %w", err)
		}
	}
	if err := p.validate(); err != nil {
		return Policy{}, fmt.Errorf("policy validation: %w", err)
	}
	return p, nil
}

// LoadPolicy reads a YAML policy file and overlays it onto the defaults.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

func (p Policy) validate() error {
	if p.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", p.MaxIterations)
	}
	if p.MaxReplans < 0 {
		return fmt.Errorf("max_replans must not be negative, got %d", p.MaxReplans)
	}
	if p.MaxPlanSteps < 1 {
		return fmt.Errorf("max_plan_steps must be positive, got %d", p.MaxPlanSteps)
	}
	if p.StuckRetryLimit < 1 || p.ExhaustedRetryLimit < 1 || p.SentinelRetryLimit < 1 {
		return errors.New("retry limits must be positive")
	}
	if p.DocumentWindow < 1 {
		return fmt.Errorf("document_window must be positive, got %d", p.DocumentWindow)
	}
	if len(p.SynthesisPhrases) == 0 {
		return errors.New("synthesis_phrases must not be empty")
	}
	return nil
}

// containsAny reports whether text contains any phrase, ignoring case.
func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
