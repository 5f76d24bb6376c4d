package hints

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"compliance/backend/internal/citation"
)

const (
	maxBasicHints       = 3
	maxNextStepRunes    = 400
	defaultNextStepHint = "Review the provided citations and consider consulting relevant documentation for more details."
)

// Variant narrows a topic: when any of its keywords also match, its hints
// replace the topic's general ones.
type Variant struct {
	Match []string `yaml:"match"`
	Hints []string `yaml:"hints"`
}

// Topic is one keyword family in the rule table. Topics are evaluated in
// definition order and every matching topic contributes hints.
type Topic struct {
	Name     string    `yaml:"name"`
	Match    []string  `yaml:"match"`
	Variants []Variant `yaml:"variants"`
	Hints    []string  `yaml:"hints"`
}

// DefaultRules returns the built-in rule table covering the regulatory
// standards the knowledge base is seeded with.
func DefaultRules() []Topic {
	return []Topic{
		{
			Name:  "gdpr",
			Match: []string{"gdpr", "data protection", "privacy"},
			Variants: []Variant{
				{
					Match: []string{"breach"},
					Hints: []string{
						"Implement automated breach detection systems",
						"Create 72-hour notification templates for supervisory authorities",
						"Develop breach assessment and documentation procedures",
					},
				},
				{
					Match: []string{"transfer", "cross-border"},
					Hints: []string{
						"Review adequacy decisions and Standard Contractual Clauses (SCCs)",
						"Implement Binding Corporate Rules (BCRs) for intra-group transfers",
						"Conduct Transfer Impact Assessments (TIAs) for third countries",
					},
				},
			},
			Hints: []string{
				"Map personal data flows and processing activities (Article 30 records)",
				"Conduct Data Protection Impact Assessments (DPIAs) for high-risk processing",
				"Implement privacy by design and by default measures",
			},
		},
		{
			Name:  "sec",
			Match: []string{"sec", "securities", "filing"},
			Hints: []string{
				"Review SEC Form 10-K filing requirements",
				"Consider materiality thresholds for disclosure",
				"Consult with legal counsel for securities compliance",
			},
		},
		{
			Name:  "sox",
			Match: []string{"sox", "sarbanes", "internal controls"},
			Variants: []Variant{
				{
					Match: []string{"reporting", "financial"},
					Hints: []string{
						"Implement COSO framework for internal controls design",
						"Document walkthrough procedures for key business processes",
						"Establish quarterly management assessment testing protocols",
					},
				},
			},
			Hints: []string{
				"Map IT general controls (ITGC) and application controls",
				"Create SOD (Segregation of Duties) matrices and monitoring",
				"Implement continuous monitoring using GRC platforms",
			},
		},
	}
}

// LoadRules reads a YAML rule table. Missing or unreadable files are the
// caller's problem; Generate itself never fails.
func LoadRules(path string) ([]Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hint rules: %w", err)
	}
	var rules []Topic
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse hint rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("hint rules file %s defines no topics", path)
	}
	return rules, nil
}

// Generator derives study hints from query keywords. It holds no external
// connections and never returns an error.
type Generator struct {
	rules []Topic
}

func NewGenerator(rules []Topic) Generator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return Generator{rules: rules}
}

// Generate matches the query against the rule table and composes the hint
// block. When the external adapter produced an answer, a truncated form of it
// becomes the next step; otherwise a generic one is composed from the matched
// topics.
func (g Generator) Generate(query, externalAnswer string) citation.Hint {
	queryLower := strings.ToLower(strings.TrimSpace(query))

	var basic []string
	var matched []string
	if queryLower != "" {
		for _, topic := range g.rules {
			if !matchesAny(queryLower, topic.Match) {
				continue
			}
			matched = append(matched, topic.Name)
			basic = appendUnique(basic, topicHints(topic, queryLower))
		}
	}
	if queryLower != "" && len(basic) == 0 {
		basic = []string{
			"Review relevant compliance documentation",
			"Consider consulting with legal or compliance teams",
			"Check for recent regulatory updates",
		}
	}
	if len(basic) > maxBasicHints {
		basic = basic[:maxBasicHints]
	}
	if basic == nil {
		basic = []string{}
	}

	return citation.Hint{
		BasicHints:   basic,
		NextStepHint: nextStep(matched, externalAnswer),
		Query:        query,
	}
}

// topicHints picks the first matching variant's hints, falling back to the
// topic's general hints.
func topicHints(topic Topic, queryLower string) []string {
	for _, variant := range topic.Variants {
		if matchesAny(queryLower, variant.Match) {
			return variant.Hints
		}
	}
	return topic.Hints
}

func nextStep(matched []string, externalAnswer string) string {
	answer := strings.TrimSpace(externalAnswer)
	if answer != "" {
		return citation.TrimToRunes(answer, maxNextStepRunes)
	}
	if len(matched) > 0 {
		return fmt.Sprintf("Review the %s guidance above and draft an implementation checklist for your organization.",
			strings.Join(matched, " and "))
	}
	return defaultNextStepHint
}

func matchesAny(queryLower string, keywords []string) bool {
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(queryLower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func appendUnique(dst, src []string) []string {
	for _, hint := range src {
		seen := false
		for _, existing := range dst {
			if existing == hint {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, hint)
		}
	}
	return dst
}
