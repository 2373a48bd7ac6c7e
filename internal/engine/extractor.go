package engine

import (
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/sha1n/vaultgrep/internal/domain"
)

const (
	// DefaultContextLines is the default context window size.
	DefaultContextLines = 3

	// lineCheckInterval is how many lines are scanned between cancellation checks.
	lineCheckInterval = 256

	// matchCheckInterval is how many matches are collected between cancellation checks.
	matchCheckInterval = 32
)

// Budget is a match allowance shared by concurrent scans. A nil *Budget is unlimited.
type Budget struct {
	remaining atomic.Int64
}

// NewBudget creates a budget of n matches.
func NewBudget(n int) *Budget {
	b := &Budget{}
	b.remaining.Store(int64(n))
	return b
}

// Take reserves one match. It returns false once the budget is spent.
func (b *Budget) Take() bool {
	if b == nil {
		return true
	}
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Exhausted reports whether no matches remain.
func (b *Budget) Exhausted() bool {
	return b != nil && b.remaining.Load() <= 0
}

// ScanOptions bound a single document scan.
type ScanOptions struct {
	// MaxMatches caps matches for this document; 0 means unlimited.
	MaxMatches int
	// ContextLines is the context window size W; lines L-W/2..L+W/2 are included.
	ContextLines int
	// Budget is the run-wide allowance, shared across documents.
	Budget *Budget
}

// Scan finds the matches of p in content in document order. It checks the
// token every few hundred lines or few dozen matches and returns the matches
// collected so far together with the token error when cancelled.
func Scan(docID, content string, p *CompiledPattern, opts ScanOptions, token *Token) ([]domain.Match, error) {
	if err := token.Err(); err != nil {
		return nil, err
	}
	s := &scan{
		docID:   docID,
		content: content,
		pattern: p,
		opts:    opts,
		token:   token,
		lines:   strings.Split(content, "\n"),
	}
	if p.WholeText {
		return s.wholeText()
	}
	return s.lineByLine()
}

type scan struct {
	docID   string
	content string
	pattern *CompiledPattern
	opts    ScanOptions
	token   *Token
	lines   []string
	matches []domain.Match
}

// full reports whether the per-document cap has been reached.
func (s *scan) full() bool {
	return s.opts.MaxMatches > 0 && len(s.matches) >= s.opts.MaxMatches
}

// remaining returns how many matches FindAll may still return.
func (s *scan) remaining() int {
	if s.opts.MaxMatches <= 0 {
		return -1
	}
	return s.opts.MaxMatches - len(s.matches)
}

// add appends a match unless the run-wide budget is spent.
func (s *scan) add(lineIdx int, lineText string, byteCol int, text string) bool {
	if !s.opts.Budget.Take() {
		return false
	}
	line := lineIdx + 1
	col := utf8.RuneCountInString(lineText[:byteCol]) + 1
	s.matches = append(s.matches, domain.Match{
		ID:         MatchID(s.docID, line, col),
		DocumentID: s.docID,
		Line:       line,
		Column:     col,
		Text:       text,
		LineText:   strings.TrimSuffix(lineText, "\r"),
		Context:    s.context(lineIdx),
	})
	return true
}

func (s *scan) lineByLine() ([]domain.Match, error) {
	re := s.pattern.re
	for i, line := range s.lines {
		if i > 0 && i%lineCheckInterval == 0 {
			if err := s.token.Err(); err != nil {
				return s.matches, err
			}
		}
		locs := re.FindAllStringIndex(line, s.pattern.limit(s.remaining()))
		for _, loc := range locs {
			if !s.add(i, line, loc[0], line[loc[0]:loc[1]]) {
				return s.matches, nil
			}
			if s.full() {
				return s.matches, nil
			}
		}
	}
	return s.matches, nil
}

func (s *scan) wholeText() ([]domain.Match, error) {
	locs := s.pattern.re.FindAllStringIndex(s.content, s.pattern.limit(s.remaining()))

	lineIdx := 0
	lineStart := 0
	cursor := 0
	for n, loc := range locs {
		if n > 0 && n%matchCheckInterval == 0 {
			if err := s.token.Err(); err != nil {
				return s.matches, err
			}
		}
		// Matches arrive in offset order, so newline counting resumes from the previous match.
		for {
			nl := strings.IndexByte(s.content[cursor:loc[0]], '\n')
			if nl < 0 {
				break
			}
			cursor += nl + 1
			lineIdx++
			lineStart = cursor
		}
		cursor = loc[0]
		if !s.add(lineIdx, s.lines[lineIdx], loc[0]-lineStart, s.content[loc[0]:loc[1]]) {
			return s.matches, nil
		}
		if s.full() {
			return s.matches, nil
		}
	}
	return s.matches, nil
}

// context returns the window of lines centred on lineIdx, clipped to the document.
func (s *scan) context(lineIdx int) []string {
	half := s.opts.ContextLines / 2
	from := max(lineIdx-half, 0)
	to := min(lineIdx+half, len(s.lines)-1)
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, strings.TrimSuffix(s.lines[i], "\r"))
	}
	return out
}

// MatchID derives a stable identifier from a document id and a match position.
func MatchID(docID string, line, column int) string {
	var sb strings.Builder
	sb.Grow(len(docID) + 24)
	sb.WriteString(docID)
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(line))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(column))
	return strconv.FormatUint(xxhash.Sum64String(sb.String()), 16)
}

// CountMatches returns how many replacements p would make in content.
func CountMatches(content string, p *CompiledPattern) int {
	if p.WholeText {
		return len(p.re.FindAllStringIndex(content, p.limit(-1)))
	}
	n := 0
	for _, line := range strings.Split(content, "\n") {
		n += len(p.re.FindAllStringIndex(line, p.limit(-1)))
	}
	return n
}
