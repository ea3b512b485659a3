package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"livemeet/internal/domain"
)

// DefaultAssistantName is the name that opens a direct call when none is configured.
const DefaultAssistantName = "Aria"

// Priority is the order in which pattern rules are evaluated; first match wins.
var Priority = []domain.TriggerType{
	domain.TriggerStop,
	domain.TriggerDirectCall,
	domain.TriggerSummaryRequest,
	domain.TriggerResearchRequest,
	domain.TriggerQuestion,
}

const defaultRules = `
# stop phrases always win
stop /\b(stop|halt|be quiet|that's enough|cancel that)\b/
stop => ストップ
stop => 止めて
stop => やめて
stop => 黙って

summary_request /\b(summari[sz]e|recap|sum (it )?up|organi[sz]e)\b/
summary_request => まとめて
summary_request => 整理して
summary_request => 要約

research_request /\b(look (it )?up|look into|investigate|research|search for|find out)\b/
research_request => 調べて
research_request => 調査して
research_request => 検索して

question /[?？]\s*$/
question /\b(what do you think|your opinion|any thoughts|any ideas|should we)\b/
question => どう思う
question => 意見を
question => どうすれば
`

type compiledRule interface {
	Type() domain.TriggerType
	Match(input string) bool
}

// RuleParser parses one line into a compiled rule.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (compiledRule, error)
}

// Engine matches transcript text against prioritized trigger patterns.
type Engine struct {
	rules map[domain.TriggerType][]compiledRule
}

// NewEngine compiles the built-in rules, direct-call rules for each assistant
// name, and the optional rules file at path.
func NewEngine(path string, assistantNames []string) (*Engine, error) {
	return NewEngineWithParsers(path, assistantNames, defaultRuleParsers())
}

// NewEngineWithParsers allows parser extension without engine changes.
func NewEngineWithParsers(path string, assistantNames []string, parsers []RuleParser) (*Engine, error) {
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	builtin, err := parseRules(defaultRules, parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in rules: %w", err)
	}

	engine := &Engine{rules: make(map[domain.TriggerType][]compiledRule)}
	engine.add(builtin...)

	for _, name := range assistantNames {
		rule, err := directCallRule(name)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			engine.add(rule)
		}
	}

	if strings.TrimSpace(path) == "" {
		return engine, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return engine, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	custom, err := parseRules(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	engine.add(custom...)
	return engine, nil
}

func (e *Engine) add(rules ...compiledRule) {
	for _, rule := range rules {
		e.rules[rule.Type()] = append(e.rules[rule.Type()], rule)
	}
}

// Match returns the highest priority pattern type matching text, or TriggerNone.
func (e *Engine) Match(text string) domain.TriggerType {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.TriggerNone
	}
	for _, kind := range Priority {
		for _, rule := range e.rules[kind] {
			if rule.Match(text) {
				return kind
			}
		}
	}
	return domain.TriggerNone
}

func parseRules(contents string, parsers []RuleParser) ([]compiledRule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]compiledRule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			rule, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			rules = append(rules, rule)
			parsed = true
			break
		}

		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
	}

	return rules, nil
}

func defaultRuleParsers() []RuleParser {
	return []RuleParser{regexRuleParser{}, literalRuleParser{}}
}

// splitType separates the leading trigger type token from the rule body.
func splitType(line string) (domain.TriggerType, string, error) {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) != 2 {
		return "", "", errors.New("rule needs a trigger type and a pattern")
	}
	kind, err := parseTriggerType(fields[0])
	if err != nil {
		return "", "", err
	}
	return kind, strings.TrimSpace(fields[1]), nil
}

func parseTriggerType(token string) (domain.TriggerType, error) {
	kind := domain.TriggerType(strings.ToUpper(strings.TrimSpace(token)))
	for _, known := range Priority {
		if kind == known {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown trigger type %q", token)
}

type literalRuleParser struct{}

func (literalRuleParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (literalRuleParser) Parse(line string) (compiledRule, error) {
	return parseLiteralRule(line)
}

type regexRuleParser struct{}

func (regexRuleParser) CanParse(line string) bool {
	return looksLikeRegexRule(line)
}

func (regexRuleParser) Parse(line string) (compiledRule, error) {
	return parseRegexRule(line)
}

type patternRule struct {
	kind domain.TriggerType
	re   *regexp.Regexp
}

func (r patternRule) Type() domain.TriggerType { return r.kind }

func (r patternRule) Match(input string) bool { return r.re.MatchString(input) }

func parseLiteralRule(line string) (compiledRule, error) {
	parts := strings.SplitN(line, "=>", 2)
	if len(parts) != 2 {
		return nil, errors.New("invalid literal rule")
	}
	kind, err := parseTriggerType(parts[0])
	if err != nil {
		return nil, err
	}
	phrase := strings.TrimSpace(parts[1])
	if phrase == "" {
		return nil, errors.New("literal rule phrase cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(phrase))
	if err != nil {
		return nil, fmt.Errorf("invalid literal phrase: %w", err)
	}
	return patternRule{kind: kind, re: re}, nil
}

func parseRegexRule(line string) (compiledRule, error) {
	kind, body, err := splitType(line)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 {
		return nil, errors.New("invalid regex rule")
	}
	delim := body[0]
	if isAlphaNumericOrSpace(delim) {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}

	pattern, pos, err := parseDelimited(body, 1, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	flags := strings.TrimSpace(body[pos:])

	flagState := struct {
		ignoreCase bool
		multiLine  bool
		dotAll     bool
	}{
		ignoreCase: true,
	}

	for _, flag := range flags {
		switch flag {
		case 'i':
			flagState.ignoreCase = true
		case 'c':
			flagState.ignoreCase = false
		case 'm':
			flagState.multiLine = true
		case 's':
			flagState.dotAll = true
		case ' ':
			continue
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	prefixFlags := ""
	if flagState.ignoreCase {
		prefixFlags += "i"
	}
	if flagState.multiLine {
		prefixFlags += "m"
	}
	if flagState.dotAll {
		prefixFlags += "s"
	}
	if prefixFlags != "" {
		pattern = "(?" + prefixFlags + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return patternRule{kind: kind, re: re}, nil
}

// directCallRule matches an assistant name. ASCII names match on word
// boundaries; other scripts have none, so they match as substrings.
func directCallRule(name string) (compiledRule, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	pattern := regexp.QuoteMeta(name)
	if isASCII(name) {
		pattern = `\b` + pattern + `\b`
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid assistant name %q: %w", name, err)
	}
	return patternRule{kind: domain.TriggerDirectCall, re: re}, nil
}

func parseDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		if escaped {
			builder.WriteByte(char)
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			builder.WriteByte(char)
			continue
		}
		if char == delim {
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

func isAlphaNumericOrSpace(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == ' ' || char == '\t'
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func looksLikeRegexRule(line string) bool {
	if strings.Contains(line, "=>") {
		return false
	}
	_, body, err := splitType(line)
	return err == nil && len(body) > 1 && !isAlphaNumericOrSpace(body[0])
}
