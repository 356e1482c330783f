package registry

import (
	"regexp"
	"strings"
)

// loosenAll derives header patterns from value patterns. The numeric
// capture and the separator before it are removed and the rest is wrapped
// in word boundaries. Patterns that no longer compile are dropped.
func loosenAll(exprs []string) HeaderPatterns {
	var h HeaderPatterns
	for _, expr := range exprs {
		stem := trimValueSuffix(expr)
		strict := stripOptional(stem, true)
		relaxed := stripOptional(stem, false)

		if re := compileHeader(strict); re != nil {
			h.Strict = append(h.Strict, re)
		}
		if relaxed != strict {
			if re := compileHeader(relaxed); re != nil {
				h.Relaxed = append(h.Relaxed, re)
			}
		}
	}
	return h
}

func compileHeader(stem string) *regexp.Regexp {
	if !hasLiteral(stem) {
		return nil
	}
	re, err := regexp.Compile(`(?i)\b(?:` + stem + `)\b`)
	if err != nil {
		return nil
	}
	return re
}

func trimValueSuffix(expr string) string {
	stem := strings.TrimSuffix(expr, valueCapture)
	for {
		next := stem
		for _, suffix := range []string{`\s*`, `\s+`, `:?`, `:`, " "} {
			next = strings.TrimSuffix(next, suffix)
		}
		if next == stem {
			return stem
		}
		stem = next
	}
}

// stripOptional rewrites every optional non-capturing group "(?:x)?". With
// keep set the group stays and only its "?" is removed, so its text becomes
// mandatory. Otherwise the whole group is removed.
func stripOptional(expr string, keep bool) string {
	var sb strings.Builder
	for i := 0; i < len(expr); {
		if expr[i] == '\\' && i+1 < len(expr) {
			sb.WriteString(expr[i : i+2])
			i += 2
			continue
		}
		if strings.HasPrefix(expr[i:], "(?:") {
			if end := closingParen(expr, i); end > 0 {
				inner := stripOptional(expr[i+3:end], keep)
				optional := end+1 < len(expr) && expr[end+1] == '?'
				switch {
				case optional && keep:
					sb.WriteString("(?:" + inner + ")")
					i = end + 2
				case optional:
					i = end + 2
				default:
					sb.WriteString("(?:" + inner + ")")
					i = end + 1
				}
				continue
			}
		}
		sb.WriteByte(expr[i])
		i++
	}
	return sb.String()
}

// closingParen returns the index of the parenthesis closing the group
// opened at open, or -1.
func closingParen(expr string, open int) int {
	depth := 0
	inClass := false
	for i := open; i < len(expr); i++ {
		switch c := expr[i]; {
		case c == '\\':
			i++
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// hasLiteral reports whether expr has any letter or digit outside escape
// sequences and flag groups.
func hasLiteral(expr string) bool {
	expr = strings.ReplaceAll(expr, "(?m)", "")
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if c == '\\' {
			i++
			continue
		}
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			return true
		}
	}
	return false
}
