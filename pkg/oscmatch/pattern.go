package oscmatch

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrMalformed is matched (via errors.Is) by every *PatternError.
var ErrMalformed = errors.New("malformed pattern")

// PatternError describes why a pattern could not be compiled.
type PatternError struct {
	Pattern string
	Pos     int // byte offset into Pattern
	Msg     string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("oscmatch: %s at offset %d in %q", e.Msg, e.Pos, e.Pattern)
}

func (e *PatternError) Unwrap() error { return ErrMalformed }

type tokenKind uint8

const (
	tokLiteral tokenKind = iota
	tokAny
	tokOne
	tokClass
	tokAlt
)

type runeRange struct{ lo, hi rune }

type token struct {
	kind   tokenKind
	lit    string
	negate bool
	ranges []runeRange
	alts   []string
}

type segment struct {
	toks    []token
	literal bool // no wildcard tokens; compare by equality
	raw     string
}

// Pattern is a compiled topic pattern.
type Pattern struct {
	raw     string
	segs    []segment
	literal bool
}

// Compile parses pattern into its matcher form.
func Compile(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, &PatternError{Pattern: pattern, Msg: "empty pattern"}
	}
	if pattern[0] != '/' {
		return nil, &PatternError{Pattern: pattern, Msg: "pattern must start with '/'"}
	}

	p := &Pattern{raw: pattern, literal: true}
	offset := 0
	for _, part := range strings.Split(pattern, "/") {
		seg, err := compileSegment(pattern, part, offset)
		if err != nil {
			return nil, err
		}
		if !seg.literal {
			p.literal = false
		}
		p.segs = append(p.segs, seg)
		offset += len(part) + 1
	}
	return p, nil
}

// MustCompile is like Compile but panics on a malformed pattern.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source pattern.
func (p *Pattern) String() string { return p.raw }

// Literal reports whether the pattern contains no wildcard syntax.
func (p *Pattern) Literal() bool { return p.literal }

// Match reports whether topic matches the pattern.
func (p *Pattern) Match(topic string) bool {
	if p == nil {
		return false
	}
	if p.literal {
		return topic == p.raw
	}
	if strings.Count(topic, "/")+1 != len(p.segs) {
		return false
	}
	rest := topic
	for i := range p.segs {
		var part string
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			part, rest = rest[:j], rest[j+1:]
		} else {
			part, rest = rest, ""
		}
		seg := &p.segs[i]
		if seg.literal {
			if part != seg.raw {
				return false
			}
			continue
		}
		if !matchTokens(seg.toks, part) {
			return false
		}
	}
	return true
}

// Match compiles pattern and matches topic against it.
// A malformed pattern matches nothing.
func Match(topic, pattern string) bool {
	p, err := Compile(pattern)
	if err != nil {
		return false
	}
	return p.Match(topic)
}

func compileSegment(pattern, part string, offset int) (segment, error) {
	seg := segment{raw: part, literal: true}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			seg.toks = append(seg.toks, token{kind: tokLiteral, lit: lit.String()})
			lit.Reset()
		}
	}
	bad := func(i int, msg string) (segment, error) {
		return segment{}, &PatternError{Pattern: pattern, Pos: offset + i, Msg: msg}
	}

	for i := 0; i < len(part); {
		c := part[i]
		switch c {
		case '*':
			flush()
			seg.literal = false
			// Consecutive stars are equivalent to one.
			if n := len(seg.toks); n == 0 || seg.toks[n-1].kind != tokAny {
				seg.toks = append(seg.toks, token{kind: tokAny})
			}
			i++
		case '?':
			flush()
			seg.literal = false
			seg.toks = append(seg.toks, token{kind: tokOne})
			i++
		case '[':
			end := strings.IndexByte(part[i+1:], ']')
			if end < 0 {
				return bad(i, "unterminated '['")
			}
			tok, err := parseClass(part[i+1 : i+1+end])
			if err != "" {
				return bad(i, err)
			}
			flush()
			seg.literal = false
			seg.toks = append(seg.toks, tok)
			i += end + 2
		case '{':
			end := strings.IndexByte(part[i+1:], '}')
			if end < 0 {
				return bad(i, "unterminated '{'")
			}
			body := part[i+1 : i+1+end]
			if body == "" {
				return bad(i, "empty '{}'")
			}
			if strings.ContainsAny(body, "{[*?]") {
				return bad(i, "alternatives must be literal")
			}
			flush()
			seg.literal = false
			seg.toks = append(seg.toks, token{kind: tokAlt, alts: strings.Split(body, ",")})
			i += end + 2
		case ']', '}':
			return bad(i, fmt.Sprintf("unexpected '%c'", c))
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()
	return seg, nil
}

func parseClass(body string) (token, string) {
	tok := token{kind: tokClass}
	if strings.HasPrefix(body, "!") {
		tok.negate = true
		body = body[1:]
	}
	if body == "" {
		return token{}, "empty character class"
	}
	rs := []rune(body)
	for i := 0; i < len(rs); i++ {
		lo := rs[i]
		// A '-' at either end is literal.
		if i+2 < len(rs) && rs[i+1] == '-' {
			hi := rs[i+2]
			if hi < lo {
				return token{}, fmt.Sprintf("invalid range %c-%c", lo, hi)
			}
			tok.ranges = append(tok.ranges, runeRange{lo: lo, hi: hi})
			i += 2
			continue
		}
		tok.ranges = append(tok.ranges, runeRange{lo: lo, hi: lo})
	}
	return tok, ""
}

func (t *token) inClass(r rune) bool {
	in := false
	for _, rr := range t.ranges {
		if r >= rr.lo && r <= rr.hi {
			in = true
			break
		}
	}
	return in != t.negate
}

// matchTokens matches one topic segment. s never contains '/'.
func matchTokens(toks []token, s string) bool {
	for len(toks) > 0 {
		t := &toks[0]
		switch t.kind {
		case tokLiteral:
			if !strings.HasPrefix(s, t.lit) {
				return false
			}
			s = s[len(t.lit):]
		case tokOne, tokClass:
			if s == "" {
				return false
			}
			r, size := utf8.DecodeRuneInString(s)
			if t.kind == tokClass && !t.inClass(r) {
				return false
			}
			s = s[size:]
		case tokAlt:
			for _, alt := range t.alts {
				if strings.HasPrefix(s, alt) && matchTokens(toks[1:], s[len(alt):]) {
					return true
				}
			}
			return false
		case tokAny:
			rest := toks[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(s); {
				if matchTokens(rest, s[i:]) {
					return true
				}
				if i == len(s) {
					break
				}
				_, size := utf8.DecodeRuneInString(s[i:])
				i += size
			}
			return false
		}
		toks = toks[1:]
	}
	return s == ""
}
