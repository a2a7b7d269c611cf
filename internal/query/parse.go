package query

import (
	"fmt"
	"strings"
	"unicode"
)

// SyntaxError describes a malformed $filter expression.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid filter at position %d: %s", e.Pos, e.Msg)
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Parse parses a $filter expression. An empty expression yields an empty
// filter. Parentheses are accepted for grouping; since only conjunctions
// are supported they do not change the meaning.
func Parse(expr string) (Filter, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return Filter{}, nil
	}

	p := &parser{toks: toks}
	f, err := p.conjunction()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		t := p.peek()
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return f, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) done() bool { return p.i >= len(p.toks) }

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() (token, error) {
	if p.done() {
		end := 0
		if n := len(p.toks); n > 0 {
			last := p.toks[n-1]
			end = last.pos + len(last.text)
		}
		return token{}, &SyntaxError{Pos: end, Msg: "unexpected end of expression"}
	}
	t := p.toks[p.i]
	p.i++
	return t, nil
}

func (p *parser) conjunction() (Filter, error) {
	f, err := p.term()
	if err != nil {
		return nil, err
	}
	for !p.done() {
		t := p.peek()
		if t.kind != tokWord || !strings.EqualFold(t.text, "and") {
			break
		}
		p.i++
		rhs, err := p.term()
		if err != nil {
			return nil, err
		}
		f = f.And(rhs)
	}
	return f, nil
}

func (p *parser) term() (Filter, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	if t.kind == tokLParen {
		f, err := p.conjunction()
		if err != nil {
			return nil, err
		}
		closing, err := p.next()
		if err != nil {
			return nil, err
		}
		if closing.kind != tokRParen {
			return nil, &SyntaxError{Pos: closing.pos, Msg: "expected ')'"}
		}
		return f, nil
	}
	if t.kind != tokWord {
		return nil, &SyntaxError{Pos: t.pos, Msg: "expected field name"}
	}
	if strings.EqualFold(t.text, "or") || strings.EqualFold(t.text, "not") {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("operator %q is not supported", t.text)}
	}

	opTok, err := p.next()
	if err != nil {
		return nil, err
	}
	op := Op(strings.ToLower(opTok.text))
	if opTok.kind != tokWord || (op != OpEq && op != OpNe) {
		return nil, &SyntaxError{Pos: opTok.pos, Msg: fmt.Sprintf("unsupported operator %q", opTok.text)}
	}

	val, err := p.next()
	if err != nil {
		return nil, err
	}
	if val.kind != tokString && val.kind != tokWord {
		return nil, &SyntaxError{Pos: val.pos, Msg: "expected value"}
	}

	return Filter{{Field: normalizeField(t.text), Op: op, Value: val.text}}, nil
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '\'':
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < len(s) {
				if s[i] == '\'' {
					if i+1 < len(s) && s[i+1] == '\'' {
						b.WriteByte('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(s[i])
				i++
			}
			if !closed {
				return nil, &SyntaxError{Pos: start, Msg: "unterminated string"}
			}
			toks = append(toks, token{kind: tokString, text: b.String(), pos: start})
		default:
			start := i
			for i < len(s) && !unicode.IsSpace(rune(s[i])) && s[i] != '(' && s[i] != ')' && s[i] != '\'' {
				i++
			}
			toks = append(toks, token{kind: tokWord, text: s[start:i], pos: start})
		}
	}
	return toks, nil
}
