package recovery

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"leadpipe/internal/queue"
)

// Requalifier decides whether a rejected record deserves another pass.
type Requalifier interface {
	ShouldRequalify(rec *queue.Record) bool
}

// RequalifierFunc adapts a function to the Requalifier interface.
type RequalifierFunc func(rec *queue.Record) bool

func (f RequalifierFunc) ShouldRequalify(rec *queue.Record) bool { return f(rec) }

// KeywordPolicy requalifies records whose post text contains at least
// MinMatches of the configured phrases. Stages limits which rejections it
// considers; empty means stage1 and stage2 rejections alike.
type KeywordPolicy struct {
	Phrases    []string       `yaml:"phrases"`
	MinMatches int            `yaml:"min_matches"`
	Statuses   []queue.Status `yaml:"statuses"`
}

// HeadlinePolicy requalifies records whose author headline names a hiring
// role, such as a recruiter or founder.
type HeadlinePolicy struct {
	Titles []string `yaml:"titles"`
}

// PolicyFile is the YAML layout of recovery.keywords_file.
type PolicyFile struct {
	Keywords *KeywordPolicy  `yaml:"keywords"`
	Headline *HeadlinePolicy `yaml:"headline"`
}

// DefaultKeywordPolicy catches hiring posts phrased indirectly.
func DefaultKeywordPolicy() *KeywordPolicy {
	return &KeywordPolicy{
		Phrases: []string{
			"we are hiring", "we're hiring", "join our team", "open role", "open position",
			"looking for a", "looking to hire", "dm me", "send your cv", "apply here",
			"growing the team", "headcount",
		},
		MinMatches: 1,
	}
}

// DefaultHeadlinePolicy matches common recruiting titles.
func DefaultHeadlinePolicy() *HeadlinePolicy {
	return &HeadlinePolicy{
		Titles: []string{
			"recruiter", "talent acquisition", "talent partner", "head of talent",
			"hiring manager", "founder", "co-founder", "people operations", "hr manager",
		},
	}
}

// DefaultPolicy combines the default keyword and headline policies.
func DefaultPolicy() Requalifier {
	return Any(DefaultKeywordPolicy(), DefaultHeadlinePolicy())
}

// LoadPolicy reads a policy file. An empty path yields DefaultPolicy. A file
// that sets neither section is an error.
func LoadPolicy(path string) (Requalifier, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read requalification policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(data []byte) (Requalifier, error) {
	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse requalification policy: %w", err)
	}
	var policies []Requalifier
	if file.Keywords != nil && len(file.Keywords.Phrases) > 0 {
		for _, status := range file.Keywords.Statuses {
			if status != queue.StatusStage1Rejected && status != queue.StatusStage2Rejected {
				return nil, fmt.Errorf("parse requalification policy: status %q is not a rejection", status)
			}
		}
		policies = append(policies, file.Keywords)
	}
	if file.Headline != nil && len(file.Headline.Titles) > 0 {
		policies = append(policies, file.Headline)
	}
	if len(policies) == 0 {
		return nil, fmt.Errorf("parse requalification policy: no keywords or headline titles")
	}
	return Any(policies...), nil
}

func (p *KeywordPolicy) ShouldRequalify(rec *queue.Record) bool {
	if p == nil || rec == nil {
		return false
	}
	if len(p.Statuses) > 0 && !containsStatus(p.Statuses, rec.Status) {
		return false
	}
	need := max(p.MinMatches, 1)
	return countMatches(fold(rec.Payload.Text), p.Phrases) >= need
}

func (p *HeadlinePolicy) ShouldRequalify(rec *queue.Record) bool {
	if p == nil || rec == nil {
		return false
	}
	return countMatches(fold(rec.Payload.AuthorHeadline), p.Titles) > 0
}

// Any requalifies a record when at least one policy does.
func Any(policies ...Requalifier) Requalifier {
	return RequalifierFunc(func(rec *queue.Record) bool {
		for _, p := range policies {
			if p != nil && p.ShouldRequalify(rec) {
				return true
			}
		}
		return false
	})
}

func containsStatus(list []queue.Status, status queue.Status) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

// fold lowercases with Unicode case folding and pads word runs with single
// spaces so phrase lookups match whole words only.
func fold(s string) string {
	folded := cases.Fold().String(s)
	var b strings.Builder
	b.WriteByte(' ')
	inWord := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-' {
			b.WriteRune(r)
			inWord = true
			continue
		}
		if inWord {
			b.WriteByte(' ')
			inWord = false
		}
	}
	if inWord {
		b.WriteByte(' ')
	}
	return b.String()
}

func countMatches(text string, phrases []string) int {
	n := 0
	for _, phrase := range phrases {
		needle := fold(phrase)
		if strings.TrimSpace(needle) == "" {
			continue
		}
		if strings.Contains(text, needle) {
			n++
		}
	}
	return n
}
