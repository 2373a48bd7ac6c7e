package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxPatternLength is the longest pattern accepted, in characters.
	DefaultMaxPatternLength = 500

	// DefaultMaxComplexity is the highest complexity score accepted.
	DefaultMaxComplexity = 1000
)

var (
	ErrEmptyPattern      = errors.New("pattern is empty")
	ErrPatternTooLong    = errors.New("pattern is too long")
	ErrPatternTooComplex = errors.New("pattern is too complex")
	ErrInvalidSyntax     = errors.New("invalid pattern syntax")
	ErrInvalidFlags      = errors.New("invalid pattern flags")
)

// ValidationError is returned when a pattern is rejected before an operation starts.
// errors.Is matches it against the Kind sentinel.
type ValidationError struct {
	Pattern string
	Kind    error
	Cause   error
	Score   int
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.Error()
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Flags are the normalized pattern flags.
type Flags struct {
	Global          bool
	CaseInsensitive bool
	Multiline       bool
	DotAll          bool
}

// ParseFlags normalizes a flag string such as "gi". Duplicate letters are
// tolerated, "u" is accepted and ignored since Go patterns are always
// Unicode-aware, and any other letter is rejected.
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for _, r := range s {
		switch r {
		case 'g':
			f.Global = true
		case 'i':
			f.CaseInsensitive = true
		case 'm':
			f.Multiline = true
		case 's':
			f.DotAll = true
		case 'u':
		default:
			return Flags{}, fmt.Errorf("%w: unsupported flag %q", ErrInvalidFlags, r)
		}
	}
	return f, nil
}

// String returns the canonical flag string.
func (f Flags) String() string {
	var sb strings.Builder
	if f.Global {
		sb.WriteByte('g')
	}
	if f.CaseInsensitive {
		sb.WriteByte('i')
	}
	if f.Multiline {
		sb.WriteByte('m')
	}
	if f.DotAll {
		sb.WriteByte('s')
	}
	return sb.String()
}

// inlineFlags returns the Go inline flag group for f, e.g. "(?im)".
func (f Flags) inlineFlags() string {
	var sb strings.Builder
	if f.CaseInsensitive {
		sb.WriteByte('i')
	}
	if f.Multiline {
		sb.WriteByte('m')
	}
	if f.DotAll {
		sb.WriteByte('s')
	}
	if sb.Len() == 0 {
		return ""
	}
	return "(?" + sb.String() + ")"
}

// CompiledPattern is a validated pattern ready for scanning.
type CompiledPattern struct {
	Source    string
	Flags     Flags
	Score     int
	WholeText bool
	re        *regexp.Regexp
}

// Regexp returns the compiled expression.
func (p *CompiledPattern) Regexp() *regexp.Regexp {
	return p.re
}

// limit returns the FindAll bound for at most max matches.
func (p *CompiledPattern) limit(max int) int {
	if !p.Flags.Global {
		return 1
	}
	return max
}

// PatternPolicy holds the thresholds applied by Validate.
//
// The complexity score is a cheap static estimate. It can reject safe patterns
// and admit expensive ones; Go's RE2-based regexp runs in linear time, so the
// score bounds evaluation cost rather than preventing catastrophic backtracking.
type PatternPolicy struct {
	MaxLength     int
	MaxComplexity int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() PatternPolicy {
	return PatternPolicy{
		MaxLength:     DefaultMaxPatternLength,
		MaxComplexity: DefaultMaxComplexity,
	}
}

// Validate checks and compiles a pattern using the default policy.
func Validate(pattern, flags string) (*CompiledPattern, error) {
	return DefaultPolicy().Validate(pattern, flags)
}

// Validate checks pattern length, complexity and syntax, then compiles it.
// It has no side effects.
func (p PatternPolicy) Validate(pattern, flags string) (*CompiledPattern, error) {
	if pattern == "" {
		return nil, &ValidationError{Pattern: pattern, Kind: ErrEmptyPattern}
	}

	maxLen := p.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxPatternLength
	}
	if n := utf8.RuneCountInString(pattern); n > maxLen {
		return nil, &ValidationError{
			Pattern: pattern,
			Kind:    ErrPatternTooLong,
			Cause:   fmt.Errorf("%d characters, maximum is %d", n, maxLen),
		}
	}

	score := ComplexityScore(pattern)
	maxScore := p.MaxComplexity
	if maxScore <= 0 {
		maxScore = DefaultMaxComplexity
	}
	if score > maxScore {
		return nil, &ValidationError{
			Pattern: pattern,
			Kind:    ErrPatternTooComplex,
			Cause:   fmt.Errorf("score %d exceeds %d", score, maxScore),
			Score:   score,
		}
	}

	f, err := ParseFlags(flags)
	if err != nil {
		return nil, &ValidationError{Pattern: pattern, Kind: ErrInvalidFlags, Cause: err, Score: score}
	}

	re, err := regexp.Compile(f.inlineFlags() + pattern)
	if err != nil {
		return nil, &ValidationError{Pattern: pattern, Kind: ErrInvalidSyntax, Cause: err, Score: score}
	}

	return &CompiledPattern{
		Source:    pattern,
		Flags:     f,
		Score:     score,
		WholeText: needsWholeText(pattern, f),
		re:        re,
	}, nil
}

// ComplexityScore estimates the evaluation cost of a pattern: its length plus
// 10 per quantifier, 5 per group, 3 per character class and 20 per lookahead.
func ComplexityScore(pattern string) int {
	score := utf8.RuneCountInString(pattern)
	for _, r := range pattern {
		switch r {
		case '*', '+', '?', '{':
			score += 10
		case '(':
			score += 5
		case '[':
			score += 3
		}
	}
	score += 20 * strings.Count(pattern, "(?=")
	return score
}

var (
	backReference = regexp.MustCompile(`\\[1-9]|\\k<`)

	// spanningRun matches an unbounded run of something that can consume a
	// newline: \s, \n, a dot, a negated class or a class holding \s or \n.
	spanningRun = regexp.MustCompile(`(\\s|\\n|\.|\[\^[^\]]*\]|\[[^\]]*\\[sn][^\]]*\])([*+]|\{\d*,\})`)
)

// needsWholeText reports whether a pattern may match across line boundaries
// and therefore has to be evaluated against the full text.
func needsWholeText(pattern string, f Flags) bool {
	if f.Multiline {
		return true
	}
	if backReference.MatchString(pattern) {
		return true
	}
	if strings.Contains(pattern, `\n`) {
		return true
	}
	return spanningRun.MatchString(pattern)
}
