package memory

import (
	"regexp"
	"strings"
)

// compileLike переводит шаблон SQL LIKE в регулярное выражение:
// % совпадает с любой последовательностью, _ с одним символом, \ экранирует следующий.
func compileLike(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(`.*`)
		case r == '_':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		b.WriteString(regexp.QuoteMeta(`\`))
	}
	b.WriteString(`$`)
	return regexp.MustCompile(b.String())
}
