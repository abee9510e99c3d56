package asm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// splitLine breaks a source line into fields. Whitespace separates fields
// except inside double quotes, single quotes and parentheses; ';' outside
// quotes starts a comment.
func splitLine(line string) ([]string, error) {
	var (
		fields []string
		cur    strings.Builder
		quote  rune
		depth  int
	)
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); {
		r, size := utf8.DecodeRuneInString(line[i:])
		i += size
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == '\\' && i < len(line) {
				r2, s2 := utf8.DecodeRuneInString(line[i:])
				cur.WriteRune(r2)
				i += s2
				continue
			}
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			cur.WriteRune(r)
		case r == '(':
			depth++
			cur.WriteRune(r)
		case r == ')':
			depth--
			cur.WriteRune(r)
		case r == ';' && depth == 0:
			flush()
			return fields, nil
		case unicode.IsSpace(r) && depth == 0:
			flush()
		case unicode.IsSpace(r):
			// spaces inside a signature are insignificant
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	flush()
	return fields, nil
}

// parseSignature splits "name(a,b)" into its name and parameter names.
func parseSignature(s string) (string, []string, error) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", nil, fmt.Errorf("expected name(params), got %q", s)
	}
	name := s[:open]
	if !isIdent(strings.ReplaceAll(name, ".", "")) {
		return "", nil, fmt.Errorf("bad name %q", name)
	}
	inner := s[open+1 : len(s)-1]
	if inner == "" {
		return name, nil, nil
	}
	params := strings.Split(inner, ",")
	for i, p := range params {
		if params[i] = strings.TrimSpace(p); params[i] == "" {
			return "", nil, fmt.Errorf("empty parameter in %q", s)
		}
	}
	return name, params, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

// parseName accepts a bare identifier or a double-quoted string.
func parseName(s string) (string, error) {
	if strings.HasPrefix(s, `"`) {
		return strconv.Unquote(s)
	}
	if !isIdent(s) {
		return "", fmt.Errorf("expected a name, got %q", s)
	}
	return s, nil
}

func parseImm(s string) (uint16, error) {
	n, err := strconv.ParseInt(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("immediate %q out of range", s)
	}
	return uint16(int16(n)), nil
}

func parseUint(s string) (uint16, error) {
	switch s {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	if strings.HasPrefix(s, "'") {
		text, err := strconv.Unquote(s)
		if err != nil {
			return 0, fmt.Errorf("bad character literal %s", s)
		}
		r, size := utf8.DecodeRuneInString(text)
		if size != len(text) || r > math.MaxUint16 {
			return 0, fmt.Errorf("character literal %s does not fit one unit", s)
		}
		return uint16(r), nil
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("operand %q out of range", s)
	}
	return uint16(n), nil
}

// number is a parsed LDC/LDC2 literal.
type number struct {
	kind string // int, long, float or double
	i    int64
	f    float64
}

// parseNumber reads "[kind:]literal". Without a prefix, wide selects long
// or double over int or float.
func parseNumber(s string, wide bool) (number, error) {
	kind, lit, ok := strings.Cut(s, ":")
	if !ok {
		lit = s
		isFloat := strings.ContainsAny(s, ".eE") && !strings.HasPrefix(s, "0x")
		switch {
		case isFloat && wide:
			kind = "double"
		case isFloat:
			kind = "float"
		case wide:
			kind = "long"
		default:
			kind = "int"
		}
	}
	var n number
	n.kind = kind
	var err error
	switch kind {
	case "int":
		n.i, err = strconv.ParseInt(lit, 0, 32)
	case "long":
		n.i, err = strconv.ParseInt(lit, 0, 64)
	case "float":
		n.f, err = strconv.ParseFloat(lit, 32)
	case "double":
		n.f, err = strconv.ParseFloat(lit, 64)
	default:
		return n, fmt.Errorf("unknown literal kind %q", kind)
	}
	if err != nil {
		return n, fmt.Errorf("bad %s literal %q", kind, lit)
	}
	if wide != (kind == "long" || kind == "double") {
		return n, fmt.Errorf("%s literal has the wrong width", kind)
	}
	return n, nil
}
