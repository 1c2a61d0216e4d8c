// Package sanitize screens untrusted text for prompt-injection patterns
// before it is interpolated into an LLM prompt.
package sanitize

import (
	"regexp"

	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/logger"
)

// Level is the sanitization strictness.
type Level string

const (
	// LevelPermissive detects and logs only.
	LevelPermissive Level = "permissive"
	// LevelModerate removes overt injection markers. The default.
	LevelModerate Level = "moderate"
	// LevelStrict aggressively strips keywords and code blocks; legitimate
	// content may be affected.
	LevelStrict Level = "strict"
)

// DefaultMaxLength caps input size before pattern matching.
const DefaultMaxLength = 10000

type pattern struct {
	re         *regexp.Regexp
	attackType string
}

var injectionPatterns = []pattern{
	// instruction override
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions?`), "instruction_override"},
	{regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions?|context)`), "instruction_override"},
	{regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)`), "instruction_override"},
	// system impersonation
	{regexp.MustCompile(`(?i)system\s*:\s*`), "system_impersonation"},
	{regexp.MustCompile(`(?i)\[system\]`), "system_impersonation"},
	{regexp.MustCompile(`(?i)<\|system\|>`), "system_impersonation"},
	{regexp.MustCompile(`(?i)###\s*system`), "system_impersonation"},
	// role manipulation
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+a`), "role_manipulation"},
	{regexp.MustCompile(`(?i)pretend\s+to\s+be`), "role_manipulation"},
	{regexp.MustCompile(`(?i)act\s+as\s+(if\s+)?you`), "role_manipulation"},
	// instruction leak
	{regexp.MustCompile(`(?i)show\s+me\s+your\s+(instructions?|prompt|system\s+message)`), "instruction_leak"},
	{regexp.MustCompile(`(?i)what\s+(are|is)\s+your\s+(instructions?|rules|guidelines)`), "instruction_leak"},
	{regexp.MustCompile(`(?i)repeat\s+your\s+(instructions?|prompt)`), "instruction_leak"},
	// jailbreak tags
	{regexp.MustCompile(`(?i)DAN\s+mode`), "jailbreak"},
	{regexp.MustCompile(`(?i)developer\s+mode`), "jailbreak"},
	{regexp.MustCompile(`(?i)sudo\s+mode`), "jailbreak"},
	// code execution
	{regexp.MustCompile(`(?i)exec\s*\(`), "code_execution"},
	{regexp.MustCompile(`(?i)eval\s*\(`), "code_execution"},
	// shell command injection
	{regexp.MustCompile(`(?i);\s*rm\s+-rf`), "shell_injection"},
	{regexp.MustCompile("`[^`]+`"), "shell_injection"},
	{regexp.MustCompile(`(?i)\|\s*nc\s`), "shell_injection"},
	// SQL injection
	{regexp.MustCompile(`(?i)'\s*or\s+1\s*=\s*1`), "sql_injection"},
	// path traversal
	{regexp.MustCompile(`\.\./\.\./`), "path_traversal"},
	// XSS markup
	{regexp.MustCompile(`(?i)<script>`), "xss"},
}

var (
	moderateRemovals = []*regexp.Regexp{
		regexp.MustCompile(`(?i)system\s*:\s*`),
		regexp.MustCompile(`(?i)\[system\]`),
		regexp.MustCompile(`(?i)<\|system\|>`),
	}
	moderateReplacements = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions?`),
		regexp.MustCompile(`(?i)DAN\s+mode`),
		regexp.MustCompile(`(?i)developer\s+mode`),
	}
	strictKeywords   = regexp.MustCompile(`(?i)\b(system|instructions?|prompt)\b`)
	strictCodeBlocks = regexp.MustCompile("(?s)```.*?```")
	strictDelimiters = regexp.MustCompile(`[|<>]{2,}`)
)

// Detector recognizes and optionally removes prompt-injection content.
// It never panics on well-formed UTF-8 input; control characters are permitted.
type Detector struct {
	level     Level
	maxLength int
	logger    zerolog.Logger
}

// NewDetector creates a detector at the given level. Zero values get the
// moderate level and the default length cap.
func NewDetector(level Level, maxLength int) *Detector {
	if level == "" {
		level = LevelModerate
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Detector{
		level:     level,
		maxLength: maxLength,
		logger:    logger.Component("prompt_sanitizer"),
	}
}

// Detect reports whether text contains a known injection pattern and which
// attack category matched first.
func (d *Detector) Detect(text string) (bool, string) {
	if text == "" {
		return false, ""
	}
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			d.logger.Warn().
				Str("attack_type", p.attackType).
				Str("preview", preview(text)).
				Msg("potential prompt injection detected")
			return true, p.attackType
		}
	}
	return false, ""
}

// Sanitize truncates text to the length cap and, above the permissive level,
// removes detected injection content. The result is never longer than the input.
func (d *Detector) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	if len(text) > d.maxLength {
		d.logger.Warn().
			Int("original", len(text)).
			Int("truncated", d.maxLength).
			Msg("input truncated before sanitization")
		text = text[:d.maxLength]
	}

	suspicious, attackType := d.Detect(text)
	if !suspicious || d.level == LevelPermissive {
		return text
	}

	sanitized := d.moderate(text)
	if d.level == LevelStrict {
		sanitized = d.strict(sanitized)
	}
	d.logger.Info().Str("attack_type", attackType).Str("level", string(d.level)).Msg("sanitization applied")
	return sanitized
}

// Removal always shrinks the text: Sanitize guarantees the output is never
// longer than the input.
func (d *Detector) moderate(text string) string {
	for _, re := range moderateRemovals {
		text = re.ReplaceAllString(text, "")
	}
	for _, re := range moderateReplacements {
		text = re.ReplaceAllString(text, "")
	}
	return text
}

func (d *Detector) strict(text string) string {
	text = strictKeywords.ReplaceAllString(text, "")
	text = strictCodeBlocks.ReplaceAllString(text, "")
	text = strictDelimiters.ReplaceAllString(text, " ")
	return text
}

func preview(text string) string {
	if len(text) > 100 {
		return text[:100]
	}
	return text
}
