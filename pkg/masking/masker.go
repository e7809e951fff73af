// Package masking scrubs secret material from user-supplied text before it is
// persisted or forwarded to the LLM. Users paste credentials into chat more
// often than anyone would like; masking at the ingestion boundary keeps them
// out of the database and out of provider logs.
package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns are applied to every message. Order matters: broader
// patterns run after the specific ones so replacements stay informative.
var builtinPatterns = []struct {
	name        string
	pattern     string
	replacement string
}{
	{
		name:        "api_key",
		pattern:     `(?i)(api[_-]?key|apikey|access[_-]?key)["'\s:=]+[A-Za-z0-9_\-\.]{16,}`,
		replacement: "$1=***MASKED_API_KEY***",
	},
	{
		name:        "bearer_token",
		pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{16,}`,
		replacement: "Bearer ***MASKED_TOKEN***",
	},
	{
		name:        "password_kv",
		pattern:     `(?i)(password|passwd|pwd)["'\s:=]+\S{6,}`,
		replacement: "$1=***MASKED_PASSWORD***",
	},
	{
		name:        "certificate",
		pattern:     `-----BEGIN [A-Z ]+-----[\s\S]*?-----END [A-Z ]+-----`,
		replacement: "***MASKED_CERTIFICATE***",
	},
}

// Service applies the masking patterns. Safe for concurrent use: patterns are
// compiled once at construction and never mutated.
type Service struct {
	patterns []*CompiledPattern
}

// NewService compiles the built-in patterns plus any extras. Invalid extras
// are logged and skipped rather than failing startup.
func NewService(extra map[string]string) *Service {
	s := &Service{}
	for _, p := range builtinPatterns {
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       regexp.MustCompile(p.pattern),
			Replacement: p.replacement,
		})
	}
	for name, pattern := range extra {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			slog.Error("Failed to compile custom masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: "***MASKED_" + name + "***",
		})
	}
	return s
}

// MaskString returns content with every pattern match replaced.
func (s *Service) MaskString(content string) string {
	for _, p := range s.patterns {
		content = p.Regex.ReplaceAllString(content, p.Replacement)
	}
	return content
}
