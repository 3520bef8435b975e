package params

import (
	"strings"

	"querydesk/internal/domain"
)

// lexState is where a placeholder sits in the surrounding SQL.
type lexState int

const (
	inCode lexState = iota
	inString
	inEscapeString // E'...' with backslash escapes
	inIdentifier
	inLineComment
	inBlockComment
)

// valueKind decides how a bound value may be rendered.
type valueKind int

const (
	kindLiteral valueKind = iota // rendered as a SQL string literal
	kindNumber
	kindRaw
)

type boundValue struct {
	s    string
	kind valueKind
}

// substitute replaces every placeholder in text with the value render returns
// for it. The lexer tracks string literals, quoted identifiers and comments
// so that render knows the context each placeholder appears in.
func substitute(text string, render func(key string, state lexState) (string, error)) (string, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(text, -1)
	var (
		b     strings.Builder
		state = inCode
		next  = 0
	)
	b.Grow(len(text))

	for i := 0; i < len(text); {
		if next < len(matches) && i == matches[next][0] {
			m := matches[next]
			key := text[m[2]:m[3]]
			if m[4] >= 0 {
				key += "." + text[m[4]:m[5]]
			}
			out, err := render(key, state)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			i = m[1]
			next++
			continue
		}

		c := text[i]
		step := 1
		switch state {
		case inCode:
			switch {
			case c == '-' && peek(text, i+1) == '-':
				state, step = inLineComment, 2
			case c == '/' && peek(text, i+1) == '*':
				state, step = inBlockComment, 2
			case c == '\'':
				state = inString
				if i > 0 && (text[i-1] == 'E' || text[i-1] == 'e') && (i < 2 || !isIdentByte(text[i-2])) {
					state = inEscapeString
				}
			case c == '"':
				state = inIdentifier
			}
		case inString, inEscapeString:
			switch {
			case c == '\\' && state == inEscapeString:
				if next < len(matches) && matches[next][0] == i+1 {
					return "", domain.ErrValidation("placeholder cannot follow a backslash escape")
				}
				step = 2
			case c == '\'' && peek(text, i+1) == '\'':
				step = 2
			case c == '\'':
				state = inCode
			}
		case inIdentifier:
			switch {
			case c == '"' && peek(text, i+1) == '"':
				step = 2
			case c == '"':
				state = inCode
			}
		case inLineComment:
			if c == '\n' {
				state = inCode
			}
		case inBlockComment:
			if c == '*' && peek(text, i+1) == '/' {
				state, step = inCode, 2
			}
		}
		b.WriteString(text[i:min(i+step, len(text))])
		i += step
	}
	return b.String(), nil
}

// render formats v for the lexical state it is substituted into. Literal
// values are escaped for the literal they land in and are never allowed
// to open or close one; they are refused inside identifiers and comments,
// where no escaping keeps them inert.
func (v boundValue) render(key string, state lexState) (string, error) {
	switch v.kind {
	case kindRaw:
		return v.s, nil
	case kindNumber:
		if state == inString || state == inEscapeString || state == inCode {
			return v.s, nil
		}
	case kindLiteral:
		switch state {
		case inCode:
			return quote(v.s), nil
		case inString:
			return escapeLiteral(v.s), nil
		case inEscapeString:
			return escapeLiteral(strings.ReplaceAll(v.s, `\`, `\\`)), nil
		}
	}
	return "", domain.ErrValidation("placeholder %q cannot be used inside a quoted identifier or comment", key)
}

func peek(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return 0
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// quote renders s as a single-quoted SQL string literal.
func quote(s string) string {
	return "'" + escapeLiteral(s) + "'"
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
