// Package contentsafety implements the heuristic prompt-injection scan run
// over diary content at write time. It is a pattern classifier, not a model:
// each category carries a handful of regular expressions, and a hit in any
// category flags the content. The scan is fail-open: a scanner problem
// must never block a write.
package contentsafety

import (
	"context"
	"regexp"
	"strings"
)

// Threat categories reported by the scanner.
const (
	CategoryInstructionOverride = "instruction-override"
	CategoryRoleManipulation    = "role-manipulation"
	CategoryDelimiterInjection  = "delimiter-injection"
	CategorySystemPromptLeak    = "system-prompt-leak"
	CategoryObfuscation         = "obfuscation"
)

// Result is the outcome of one scan.
type Result struct {
	InjectionRisk bool
	Threats       []string
}

// Scanner classifies content for prompt-injection risk.
type Scanner interface {
	Scan(ctx context.Context, content, title string) Result
}

type patternSet struct {
	category string
	patterns []*regexp.Regexp
}

// HeuristicScanner is the in-process Scanner implementation.
type HeuristicScanner struct {
	sets []patternSet
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// NewHeuristicScanner builds the scanner with its built-in pattern sets.
func NewHeuristicScanner() *HeuristicScanner {
	return &HeuristicScanner{
		sets: []patternSet{
			{
				category: CategoryInstructionOverride,
				patterns: compile(
					`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|context|rules)`,
					`(?i)disregard\s+(all\s+|any\s+)?(previous|prior|your)\s+(instructions|guidelines|rules)`,
					`(?i)forget\s+(everything|all)\s+(you|above|before)`,
					`(?i)new\s+instructions?\s*:`,
					`(?i)your\s+(real|true|actual)\s+(task|goal|instructions?)\s+(is|are)`,
				),
			},
			{
				category: CategoryRoleManipulation,
				patterns: compile(
					`(?i)you\s+are\s+(now|no\s+longer)\s+`,
					`(?i)pretend\s+(to\s+be|you\s+are)`,
					`(?i)act\s+as\s+(if\s+you\s+are\s+)?(a|an|the)\s+`,
					`(?i)(jailbreak|dan\s+mode|developer\s+mode)`,
					`(?i)roleplay\s+as\s+`,
				),
			},
			{
				category: CategoryDelimiterInjection,
				patterns: compile(
					`(?i)<\s*/?\s*(system|assistant|human|user|instructions?)\s*>`,
					`(?i)\[\s*/?(INST|SYS|SYSTEM)\s*\]`,
					"(?i)```\\s*(system|assistant)",
					`(?i)###\s*(system|instruction)`,
					`(?i)<\|\s*(im_start|im_end|endoftext|system)\s*\|?>`,
				),
			},
			{
				category: CategorySystemPromptLeak,
				patterns: compile(
					`(?i)(repeat|reveal|show|print|output)\s+(your|the)\s+(system\s+prompt|initial\s+instructions|hidden\s+instructions)`,
					`(?i)what\s+(are|were)\s+your\s+(original\s+)?instructions`,
					`(?i)(leak|exfiltrate|dump)\s+(the\s+)?(prompt|context|instructions)`,
				),
			},
			{
				category: CategoryObfuscation,
				patterns: compile(
					// Long base64-looking runs stand out in diary prose.
					`[A-Za-z0-9+/]{120,}={0,2}`,
					// Dense unicode escapes or HTML entities used to smuggle text.
					`(?i)(\\u[0-9a-f]{4}){8,}`,
					`(&#\d{2,4};){8,}`,
					// Zero-width characters.
					"[​‌‍⁠]{2,}",
				),
			},
		},
	}
}

// Scan classifies the given content and title. It never fails; absent risk
// it returns a zero Result.
func (s *HeuristicScanner) Scan(ctx context.Context, content, title string) Result {
	text := content
	if title != "" {
		text = title + "\n" + content
	}

	var threats []string
	for _, set := range s.sets {
		for _, p := range set.patterns {
			if p.MatchString(text) {
				threats = append(threats, set.category)
				break
			}
		}
	}

	return Result{InjectionRisk: len(threats) > 0, Threats: threats}
}

// Describe renders threats for logging.
func (r Result) Describe() string {
	if !r.InjectionRisk {
		return "clean"
	}
	return strings.Join(r.Threats, ",")
}

var _ Scanner = (*HeuristicScanner)(nil)
