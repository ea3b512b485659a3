package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"livemeet/internal/domain"
)

func TestEngineDefaultPriority(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine("", []string{"Aria", "アシスタント"})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	cases := []struct {
		text string
		want domain.TriggerType
	}{
		{"Aria, stop talking please", domain.TriggerStop},
		{"Aria can you summarize this?", domain.TriggerDirectCall},
		{"アシスタント、聞こえますか", domain.TriggerDirectCall},
		{"let's recap where we are", domain.TriggerSummaryRequest},
		{"ここまでをまとめてください", domain.TriggerSummaryRequest},
		{"could someone look up the release date", domain.TriggerResearchRequest},
		{"この件を調べて", domain.TriggerResearchRequest},
		{"is the budget approved?", domain.TriggerQuestion},
		{"予算は承認されましたか？", domain.TriggerQuestion},
		{"what do you think about the plan", domain.TriggerQuestion},
		{"the quarterly numbers look fine", domain.TriggerNone},
		{"variable naming is hard", domain.TriggerNone},
		{"   ", domain.TriggerNone},
	}
	for _, tc := range cases {
		if got := engine.Match(tc.text); got != tc.want {
			t.Fatalf("Match(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestEngineAssistantNameRespectsWordBoundary(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine("", []string{"Ava"})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if got := engine.Match("the lava flow"); got != domain.TriggerNone {
		t.Fatalf("expected no match inside a word, got %s", got)
	}
	if got := engine.Match("hey ava"); got != domain.TriggerDirectCall {
		t.Fatalf("expected direct call, got %s", got)
	}
}

func TestEngineLoadsRulesFile(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	rulesPath := filepath.Join(tmpDir, "triggers.rules")

	rules := `
# literal
direct_call => computer
# regex, case sensitive
research_request /\bDB\b/c
`
	if err := os.WriteFile(rulesPath, []byte(rules), 0o600); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}

	engine, err := NewEngine(rulesPath, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if got := engine.Match("Computer, are you there"); got != domain.TriggerDirectCall {
		t.Fatalf("expected direct call, got %s", got)
	}
	if got := engine.Match("check the DB"); got != domain.TriggerResearchRequest {
		t.Fatalf("expected research request, got %s", got)
	}
	if got := engine.Match("check the db"); got != domain.TriggerNone {
		t.Fatalf("expected case-sensitive miss, got %s", got)
	}
}

func TestEngineMissingRulesFileUsesDefaults(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(filepath.Join(t.TempDir(), "missing.rules"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := engine.Match("please stop"); got != domain.TriggerStop {
		t.Fatalf("expected stop, got %s", got)
	}
}

func TestEngineSupportsParserExtension(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	rulesPath := filepath.Join(tmpDir, "triggers.rules")
	if err := os.WriteFile(rulesPath, []byte("name:Jarvis\n"), 0o600); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}

	parsers := append([]RuleParser{nameRuleParser{}}, defaultRuleParsers()...)
	engine, err := NewEngineWithParsers(rulesPath, nil, parsers)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if got := engine.Match("jarvis, hello"); got != domain.TriggerDirectCall {
		t.Fatalf("expected direct call, got %s", got)
	}
}

func TestParseRegexRuleRejectsUnknownFlag(t *testing.T) {
	t.Parallel()

	_, err := parseRegexRule(`question /foo/x`)
	if err == nil {
		t.Fatalf("expected unsupported flag error")
	}
}

func TestParseRulesUnsupportedLine(t *testing.T) {
	t.Parallel()

	_, err := parseRules("not-a-rule", defaultRuleParsers())
	if err == nil {
		t.Fatalf("expected unsupported rule format error")
	}
}

func TestParseRulesUnknownType(t *testing.T) {
	t.Parallel()

	_, err := parseRules("shout => hey", defaultRuleParsers())
	if err == nil || !strings.Contains(err.Error(), "unknown trigger type") {
		t.Fatalf("expected unknown trigger type error, got %v", err)
	}
}

type nameRuleParser struct{}

func (nameRuleParser) CanParse(line string) bool {
	return strings.HasPrefix(line, "name:")
}

func (nameRuleParser) Parse(line string) (compiledRule, error) {
	return directCallRule(strings.TrimPrefix(line, "name:"))
}
