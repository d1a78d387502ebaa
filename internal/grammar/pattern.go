package grammar

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Production is the parsed form of a GrammarRule pattern: ordered alternatives
type Production struct {
	Alternatives []Alternative
}

// Alternative represents one alternative in a rule definition
type Alternative struct {
	Tokens []Token
}

// Token represents a single element of an alternative
type Token struct {
	Type      TokenType
	Value     string // literal text, keyword text, rule name or builtin name
	Lo, Hi    rune   // TokenRange bounds
	Group     *Production
	Repeat    RepeatType
	Lookahead LookaheadType
}

// TokenType represents the type of a grammar token
type TokenType int

const (
	TokenLiteral TokenType = iota
	TokenKeyword
	TokenRange
	TokenRuleRef
	TokenBuiltin
	TokenGroup
)

// RepeatType represents repetition patterns
type RepeatType int

const (
	RepeatNone RepeatType = iota
	RepeatZeroOrMore
	RepeatOneOrMore
	RepeatOptional
)

// LookaheadType marks zero-width predicates
type LookaheadType int

const (
	LookaheadNone LookaheadType = iota
	LookaheadNot
	LookaheadAnd
)

// builtin token names
const (
	builtinSOI = "SOI"
	builtinEOI = "EOI"
	builtinANY = "ANY"
)

func isBuiltin(name string) bool {
	return name == builtinSOI || name == builtinEOI || name == builtinANY
}

// patternLexer splits a production string into lexemes
type patternLexer struct {
	src string
	pos int
}

type lexemeKind int

const (
	lexEOF lexemeKind = iota
	lexString
	lexKeyword
	lexChar
	lexIdent
	lexPunct
)

type lexeme struct {
	kind lexemeKind
	text string
	pos  int
}

func (l *patternLexer) next() (lexeme, error) {
	for l.pos < len(l.src) && strings.ContainsRune(" \t\r\n", rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return lexeme{kind: lexEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == '"':
		s, err := l.quoted('"')
		return lexeme{kind: lexString, text: s, pos: start}, err
	case c == '^':
		l.pos++
		if l.pos >= len(l.src) || l.src[l.pos] != '"' {
			return lexeme{}, fmt.Errorf("expected quoted literal after '^' at offset %d", start)
		}
		s, err := l.quoted('"')
		return lexeme{kind: lexKeyword, text: s, pos: start}, err
	case c == '\'':
		s, err := l.quoted('\'')
		if err != nil {
			return lexeme{}, err
		}
		if utf8.RuneCountInString(s) != 1 {
			return lexeme{}, fmt.Errorf("character literal at offset %d must hold exactly one character", start)
		}
		return lexeme{kind: lexChar, text: s, pos: start}, nil
	case c == '.' && strings.HasPrefix(l.src[l.pos:], ".."):
		l.pos += 2
		return lexeme{kind: lexPunct, text: "..", pos: start}, nil
	case strings.ContainsRune("()|*+?!&", rune(c)):
		l.pos++
		return lexeme{kind: lexPunct, text: string(c), pos: start}, nil
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentByte(l.src[l.pos]) {
			l.pos++
		}
		return lexeme{kind: lexIdent, text: l.src[start:l.pos], pos: start}, nil
	default:
		return lexeme{}, fmt.Errorf("unexpected character %q at offset %d", c, start)
	}
}

// quoted reads a quoted literal with backslash escapes, consuming the quotes
func (l *patternLexer) quoted(q byte) (string, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == q:
			l.pos++
			return sb.String(), nil
		case c == '\\':
			l.pos++
			if l.pos >= len(l.src) {
				return "", fmt.Errorf("unterminated escape at offset %d", l.pos)
			}
			switch e := l.src[l.pos]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(e)
			}
			l.pos++
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return "", fmt.Errorf("unterminated literal starting at offset %d", start)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// patternParser is a recursive-descent parser for the production language:
//
//	alternatives := sequence ("|" sequence)*
//	sequence     := prefixed+
//	prefixed     := ("!" | "&")? postfix
//	postfix      := primary ("*" | "+" | "?")?
//	primary      := STRING | ^STRING | CHAR ".." CHAR | IDENT | "(" alternatives ")"
type patternParser struct {
	lex  patternLexer
	tok  lexeme
	peek *lexeme
}

// ParseProduction compiles a pattern string into a Production
func ParseProduction(pattern string) (*Production, error) {
	p := &patternParser{lex: patternLexer{src: pattern}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	prod, err := p.alternatives()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != lexEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}
	return prod, nil
}

func (p *patternParser) advance() error {
	if p.peek != nil {
		p.tok = *p.peek
		p.peek = nil
		return nil
	}
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *patternParser) isPunct(s string) bool {
	return p.tok.kind == lexPunct && p.tok.text == s
}

func (p *patternParser) alternatives() (*Production, error) {
	prod := &Production{}
	for {
		alt, err := p.sequence()
		if err != nil {
			return nil, err
		}
		prod.Alternatives = append(prod.Alternatives, alt)
		if !p.isPunct("|") {
			return prod, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
}

func (p *patternParser) sequence() (Alternative, error) {
	alt := Alternative{}
	for p.tok.kind != lexEOF && !p.isPunct("|") && !p.isPunct(")") {
		tok, err := p.prefixed()
		if err != nil {
			return alt, err
		}
		alt.Tokens = append(alt.Tokens, tok)
	}
	if len(alt.Tokens) == 0 {
		return alt, fmt.Errorf("empty alternative at offset %d", p.tok.pos)
	}
	return alt, nil
}

func (p *patternParser) prefixed() (Token, error) {
	look := LookaheadNone
	switch {
	case p.isPunct("!"):
		look = LookaheadNot
	case p.isPunct("&"):
		look = LookaheadAnd
	}
	if look != LookaheadNone {
		if err := p.advance(); err != nil {
			return Token{}, err
		}
	}
	tok, err := p.postfix()
	if err != nil {
		return Token{}, err
	}
	tok.Lookahead = look
	return tok, nil
}

func (p *patternParser) postfix() (Token, error) {
	tok, err := p.primary()
	if err != nil {
		return Token{}, err
	}
	switch {
	case p.isPunct("*"):
		tok.Repeat = RepeatZeroOrMore
	case p.isPunct("+"):
		tok.Repeat = RepeatOneOrMore
	case p.isPunct("?"):
		tok.Repeat = RepeatOptional
	default:
		return tok, nil
	}
	if err := p.advance(); err != nil {
		return Token{}, err
	}
	if p.isPunct("*") || p.isPunct("+") || p.isPunct("?") {
		return Token{}, fmt.Errorf("repeated postfix operator at offset %d; use a group", p.tok.pos)
	}
	return tok, nil
}

func (p *patternParser) primary() (Token, error) {
	cur := p.tok
	switch cur.kind {
	case lexString:
		return Token{Type: TokenLiteral, Value: cur.text}, p.advance()
	case lexKeyword:
		return Token{Type: TokenKeyword, Value: cur.text}, p.advance()
	case lexChar:
		if err := p.advance(); err != nil {
			return Token{}, err
		}
		if !p.isPunct("..") {
			// a lone character literal behaves like a string literal
			return Token{Type: TokenLiteral, Value: cur.text}, nil
		}
		if err := p.advance(); err != nil {
			return Token{}, err
		}
		if p.tok.kind != lexChar {
			return Token{}, fmt.Errorf("expected character after '..' at offset %d", p.tok.pos)
		}
		lo, _ := utf8.DecodeRuneInString(cur.text)
		hi, _ := utf8.DecodeRuneInString(p.tok.text)
		if lo > hi {
			return Token{}, fmt.Errorf("empty character range %q..%q at offset %d", lo, hi, cur.pos)
		}
		return Token{Type: TokenRange, Lo: lo, Hi: hi}, p.advance()
	case lexIdent:
		typ := TokenRuleRef
		if isBuiltin(cur.text) {
			typ = TokenBuiltin
		}
		return Token{Type: typ, Value: cur.text}, p.advance()
	case lexPunct:
		if cur.text != "(" {
			return Token{}, fmt.Errorf("unexpected %q at offset %d", cur.text, cur.pos)
		}
		if err := p.advance(); err != nil {
			return Token{}, err
		}
		group, err := p.alternatives()
		if err != nil {
			return Token{}, err
		}
		if !p.isPunct(")") {
			return Token{}, fmt.Errorf("expected ')' at offset %d", p.tok.pos)
		}
		return Token{Type: TokenGroup, Group: group}, p.advance()
	default:
		return Token{}, fmt.Errorf("unexpected end of pattern")
	}
}

// references returns every rule name a production mentions, in order
func (prod *Production) references() []string {
	var refs []string
	var walk func(*Production)
	walk = func(pr *Production) {
		for _, alt := range pr.Alternatives {
			for _, tok := range alt.Tokens {
				switch tok.Type {
				case TokenRuleRef:
					refs = append(refs, tok.Value)
				case TokenGroup:
					walk(tok.Group)
				}
			}
		}
	}
	walk(prod)
	return refs
}
