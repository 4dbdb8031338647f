// Package keyword builds line predicates that evaluate identically in-process
// and as a remote grep pipeline.
package keyword

import (
	"fmt"
	"regexp"
	"strings"

	"faultscope/src/contracts"
	"faultscope/src/errkind"
	"faultscope/src/transport"
)

// Logic combines keywords.
type Logic string

const (
	And Logic = "and"
	Or  Logic = "or"
)

// ParseLogic accepts "and"/"or" in any case; empty means And.
func ParseLogic(s string) (Logic, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "and", "all":
		return And, nil
	case "or", "any":
		return Or, nil
	default:
		return "", errkind.Newf(errkind.InvalidInput, "keyword", "", "unknown logic %q (want and|or)", s)
	}
}

// Predicate is a keyword predicate built by BuildPredicate.
type Predicate struct {
	keywords []string
	folded   []string
	logic    Logic
	fuzzy    bool
}

// BuildPredicate validates keywords and returns a predicate. Fuzzy mode
// lower-cases ASCII letters of both the keywords and the line; other bytes
// must match exactly, as they do for grep -i in the C locale.
func BuildPredicate(keywords []string, logic Logic, fuzzy bool) (*Predicate, error) {
	if len(keywords) == 0 {
		return nil, errkind.Newf(errkind.PredicateRenderError, "keyword", "", "no keywords given")
	}
	if logic != And && logic != Or {
		return nil, errkind.Newf(errkind.InvalidInput, "keyword", "", "unknown logic %q", logic)
	}
	for _, kw := range keywords {
		if err := validate(kw); err != nil {
			return nil, err
		}
	}

	p := &Predicate{
		keywords: append([]string(nil), keywords...),
		logic:    logic,
		fuzzy:    fuzzy,
	}
	if fuzzy {
		p.folded = make([]string, len(keywords))
		for i, kw := range keywords {
			p.folded[i] = FoldASCII(kw)
		}
	}
	return p, nil
}

// validate rejects keywords that cannot round-trip through grep: a newline
// splits a grep pattern in two and NUL cannot be passed in argv.
func validate(kw string) error {
	switch {
	case kw == "":
		return errkind.Newf(errkind.PredicateRenderError, "keyword", "", "empty keyword")
	case strings.ContainsAny(kw, "\n\r"):
		return errkind.Newf(errkind.PredicateRenderError, "keyword", "", "keyword %q contains a line break", kw)
	case strings.ContainsRune(kw, 0):
		return errkind.Newf(errkind.PredicateRenderError, "keyword", "", "keyword %q contains NUL", kw)
	}
	return nil
}

func (p *Predicate) Keywords() []string { return append([]string(nil), p.keywords...) }
func (p *Predicate) Logic() Logic       { return p.logic }
func (p *Predicate) Fuzzy() bool        { return p.fuzzy }

// Match evaluates line in-process.
func (p *Predicate) Match(line string) bool {
	kws := p.keywords
	if p.fuzzy {
		kws = p.folded
		line = FoldASCII(line)
	}
	if p.logic == Or {
		for _, kw := range kws {
			if strings.Contains(line, kw) {
				return true
			}
		}
		return false
	}
	for _, kw := range kws {
		if !strings.Contains(line, kw) {
			return false
		}
	}
	return true
}

// Shell renders the remote filter. AND is a chain of fixed-string greps, OR a
// single extended-regexp alternation.
//
//	AND: LC_ALL=C grep -F -e 'a' | LC_ALL=C grep -F -e 'b'
//	OR:  LC_ALL=C grep -E -e 'a|b'
func (p *Predicate) Shell() (string, error) {
	for _, kw := range p.keywords {
		if err := validate(kw); err != nil {
			return "", err
		}
	}
	if p.logic == Or {
		return transport.Grep + " -E" + p.foldFlag() + " -e " + transport.Quote(p.Alternation()), nil
	}
	stages := make([]string, len(p.keywords))
	for i, kw := range p.keywords {
		stages[i] = transport.Grep + " -F" + p.foldFlag() + " -e " + transport.Quote(kw)
	}
	return strings.Join(stages, " | "), nil
}

// Alternation is an ERE matching any keyword.
func (p *Predicate) Alternation() string {
	quoted := make([]string, len(p.keywords))
	for i, kw := range p.keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	return strings.Join(quoted, "|")
}

func (p *Predicate) foldFlag() string {
	if p.fuzzy {
		return " -i"
	}
	return ""
}

func (p *Predicate) String() string {
	sep := " AND "
	if p.logic == Or {
		sep = " OR "
	}
	s := strings.Join(p.keywords, sep)
	if p.fuzzy {
		s += " (fuzzy)"
	}
	return s
}

// PatternPredicate matches an extended regular expression written in the
// common subset of POSIX ERE and Go's RE2 syntax.
type PatternPredicate struct {
	ere  string
	fold bool
	re   *regexp.Regexp
}

// Pattern compiles ere for in-process use and keeps it for rendering.
func Pattern(ere string, fold bool) (*PatternPredicate, error) {
	if err := validate(ere); err != nil {
		return nil, err
	}
	expr := ere
	if fold {
		expr = foldPattern(ere)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errkind.New(errkind.PredicateRenderError, "keyword", "", fmt.Errorf("invalid pattern %q: %w", ere, err))
	}
	return &PatternPredicate{ere: ere, fold: fold, re: re}, nil
}

func (p *PatternPredicate) Match(line string) bool {
	if p.fold {
		line = FoldASCII(line)
	}
	return p.re.MatchString(line)
}

func (p *PatternPredicate) Shell() (string, error) {
	flags := transport.Grep + " -E"
	if p.fold {
		flags += " -i"
	}
	return flags + " -e " + transport.Quote(p.ere), nil
}

func (p *PatternPredicate) String() string {
	return "/" + p.ere + "/"
}

// FoldASCII lower-cases the ASCII letters of s and leaves every other byte
// alone.
func FoldASCII(s string) string {
	i := 0
	for i < len(s) && !isUpperASCII(s[i]) {
		i++
	}
	if i == len(s) {
		return s
	}
	b := []byte(s)
	for ; i < len(b); i++ {
		if isUpperASCII(b[i]) {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func isUpperASCII(c byte) bool {
	return 'A' <= c && c <= 'Z'
}

// foldPattern lower-cases the literal letters of an ERE so it can run against
// FoldASCII'd lines. Escapes such as \S keep their case.
func foldPattern(ere string) string {
	b := []byte(ere)
	for i := 0; i < len(b); i++ {
		switch {
		case b[i] == '\\':
			i++
		case isUpperASCII(b[i]):
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// Conjunction requires every member predicate to match.
type Conjunction []contracts.ShellPredicate

// All joins predicates, skipping nils. It returns nil when nothing is left.
func All(preds ...contracts.ShellPredicate) contracts.ShellPredicate {
	var c Conjunction
	for _, p := range preds {
		if p == nil {
			continue
		}
		if inner, ok := p.(Conjunction); ok {
			c = append(c, inner...)
			continue
		}
		c = append(c, p)
	}
	switch len(c) {
	case 0:
		return nil
	case 1:
		return c[0]
	}
	return c
}

func (c Conjunction) Match(line string) bool {
	for _, p := range c {
		if !p.Match(line) {
			return false
		}
	}
	return true
}

func (c Conjunction) Shell() (string, error) {
	parts := make([]string, 0, len(c))
	for _, p := range c {
		s, err := p.Shell()
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " | "), nil
}

func (c Conjunction) String() string {
	parts := make([]string, len(c))
	for i, p := range c {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, " AND ")
}
