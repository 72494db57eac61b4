package builder

import (
	"fmt"
	"strings"

	"github.com/DylanCkawalec/warp-engine/internal/chain"
)

// Built-in template types. Custom is the fallback when no built-in
// matches the refined intent.
const (
	TemplateResearch      = "research"
	TemplateCodeGenerator = "code_generator"
	TemplateDataAnalyst   = "data_analyst"
	TemplateCustom        = "custom"
)

// Template is a reusable set of phase prompts parameterized by topic.
type Template struct {
	Type    string
	Name    string
	Plan    string
	Execute string
	Refine  string
}

// Fill substitutes the topic into each phase prompt.
func (t Template) Fill(topic string) chain.Prompts {
	sub := func(s string) string { return strings.ReplaceAll(s, "{topic}", topic) }
	return chain.Prompts{
		Plan:    sub(t.Plan),
		Execute: sub(t.Execute),
		Refine:  sub(t.Refine),
	}
}

var templates = map[string]Template{
	TemplateResearch: {
		Type: TemplateResearch,
		Name: "Research Template",
		Plan: "You are Agent-Plan, a research strategist. Create a research plan for: {topic}. " +
			"Cover the questions to answer, sources to consult, analysis method, and deliverables. " +
			"Output a numbered, actionable plan.",
		Execute: "You are Agent-Exec, a research specialist. Execute the research plan for: {topic}. " +
			"Gather information, analyze findings, synthesize insights, and cite sources. " +
			"Produce a detailed research output.",
		Refine: "You are Agent-Refine, a research editor. Polish the research output for: {topic}. " +
			"Ensure accuracy, improve clarity, verify citations, and lead with a summary. " +
			"Deliver publication-ready research.",
	},
	TemplateCodeGenerator: {
		Type: TemplateCodeGenerator,
		Name: "Code Generation Template",
		Plan: "You are Agent-Plan, a software architect. Design the solution for: {topic}. " +
			"Cover the component breakdown, data structures, algorithms, and error handling. " +
			"Output a detailed technical plan.",
		Execute: "You are Agent-Exec, a senior developer. Implement the solution for: {topic}. " +
			"Write clean, modular code with error handling and comments. " +
			"Produce production-ready code.",
		Refine: "You are Agent-Refine, a code reviewer. Review the code for: {topic}. " +
			"Improve correctness, readability, and performance; note any missing tests. " +
			"Deliver the final code.",
	},
	TemplateDataAnalyst: {
		Type: TemplateDataAnalyst,
		Name: "Data Analysis Template",
		Plan: "You are Agent-Plan, a data strategist. Plan the analysis for: {topic}. " +
			"Cover the metrics to compute, methodology, and expected findings. " +
			"Output a numbered analysis plan.",
		Execute: "You are Agent-Exec, a data analyst. Run the analysis for: {topic}. " +
			"Compute the planned metrics, identify trends, and state the findings plainly. " +
			"Produce a structured analysis report.",
		Refine: "You are Agent-Refine, an analytics editor. Polish the analysis for: {topic}. " +
			"Check the numbers, sharpen the conclusions, and order findings by importance. " +
			"Deliver a decision-ready report.",
	},
	TemplateCustom: {
		Type: TemplateCustom,
		Name: "Custom Template",
		Plan: "You are Agent-Plan. Read the input and produce a concise, numbered plan for: {topic}. " +
			"Output only the plan.",
		Execute: "You are Agent-Exec. Execute the plan against the input for: {topic}. " +
			"Produce the best possible result; do not include the plan itself.",
		Refine: "You are Agent-Refine. Improve clarity and correctness of the draft for: {topic}. " +
			"Return only the final text.",
	},
}

// LookupTemplate returns the template for a type name.
func LookupTemplate(typ string) (Template, error) {
	t, ok := templates[strings.ToLower(strings.TrimSpace(typ))]
	if !ok {
		return Template{}, fmt.Errorf("unknown template type %q", typ)
	}
	return t, nil
}

// TemplateTypes lists the built-in template types in selection order.
func TemplateTypes() []string {
	return []string{TemplateResearch, TemplateCodeGenerator, TemplateDataAnalyst, TemplateCustom}
}

// SelectTemplate maps a raw prompt to a template type by keyword. The
// custom template absorbs anything unrecognized.
func SelectTemplate(prompt string) Template {
	p := strings.ToLower(prompt)
	contains := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(p, w) {
				return true
			}
		}
		return false
	}
	switch {
	case contains("code", "implement", "program", "api", "function", "compile"):
		return templates[TemplateCodeGenerator]
	case contains("data", "dataset", "analy", "statistic", "metric", "csv"):
		return templates[TemplateDataAnalyst]
	case contains("research", "investigate", "study", "summar", "report"):
		return templates[TemplateResearch]
	default:
		return templates[TemplateCustom]
	}
}
