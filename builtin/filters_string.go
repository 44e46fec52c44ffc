package builtin

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/lysine-go/lysine/runtime"
	"github.com/lysine-go/lysine/value"
)

var (
	tagPattern        = regexp.MustCompile(`(?s)<[^>]*>`)
	betweenTagPattern = regexp.MustCompile(`>\s+<`)
	slugDashPattern   = regexp.MustCompile(`-+`)
)

func registerStringFilters(r *runtime.Registry) {
	r.RegisterFilter("upper", stringFilter(strings.ToUpper))
	r.RegisterFilter("lower", stringFilter(strings.ToLower))
	r.RegisterFilter("trim", stringFilter(strings.TrimSpace))
	r.RegisterFilter("trim_start", stringFilter(func(s string) string {
		return strings.TrimLeftFunc(s, unicode.IsSpace)
	}))
	r.RegisterFilter("trim_end", stringFilter(func(s string) string {
		return strings.TrimRightFunc(s, unicode.IsSpace)
	}))
	r.RegisterFilter("trim_start_matches", filterTrimMatches(true))
	r.RegisterFilter("trim_end_matches", filterTrimMatches(false))
	r.RegisterFilter("truncate", filterTruncate)
	r.RegisterFilter("wordcount", func(val value.Value, _ runtime.Kwargs) (value.Value, error) {
		s, err := needString(val)
		if err != nil {
			return value.Null(), err
		}
		return value.Int(int64(len(strings.Fields(s)))), nil
	})
	r.RegisterFilter("replace", filterReplace)
	r.RegisterFilter("capitalize", stringFilter(capitalize))
	r.RegisterFilter("title", stringFilter(titleCase))
	r.RegisterFilter("linebreaksbr", stringFilter(func(s string) string {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		return strings.ReplaceAll(s, "\n", "<br>")
	}))
	r.RegisterFilter("indent", filterIndent)
	r.RegisterFilter("striptags", stringFilter(func(s string) string {
		return tagPattern.ReplaceAllString(s, "")
	}))
	r.RegisterFilter("spaceless", stringFilter(func(s string) string {
		return betweenTagPattern.ReplaceAllString(s, "><")
	}))
	r.RegisterFilter("urlencode", stringFilter(func(s string) string {
		return percentEncode(s, true)
	}))
	r.RegisterFilter("urlencode_strict", stringFilter(func(s string) string {
		return percentEncode(s, false)
	}))
	r.RegisterFilter("escape", stringFilter(runtime.EscapeHTML))
	r.RegisterFilter("escape_xml", stringFilter(escapeXML))
	r.RegisterFilter("slugify", stringFilter(slugify))
	r.RegisterFilter("addslashes", stringFilter(addslashes))
	r.RegisterFilter("split", filterSplit)
	r.RegisterFilter("int", filterInt)
	r.RegisterFilter("float", filterFloat)
	r.RegisterFilter("markdown", filterMarkdown)
}

// stringFilter lifts a pure string function into a filter.
func stringFilter(fn func(string) string) runtime.Filter {
	return func(val value.Value, _ runtime.Kwargs) (value.Value, error) {
		s, err := needString(val)
		if err != nil {
			return value.Null(), err
		}
		return value.String(fn(s)), nil
	}
}

func filterTrimMatches(start bool) runtime.Filter {
	return func(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
		s, err := needString(val)
		if err != nil {
			return value.Null(), err
		}
		pat, err := needString(kwargs.Get("pat", value.String("")))
		if err != nil {
			return value.Null(), fmt.Errorf("pat: %w", err)
		}
		if pat == "" {
			return value.String(s), nil
		}
		if start {
			for strings.HasPrefix(s, pat) {
				s = s[len(pat):]
			}
		} else {
			for strings.HasSuffix(s, pat) {
				s = s[:len(s)-len(pat)]
			}
		}
		return value.String(s), nil
	}
}

func filterTruncate(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	s, err := needString(val)
	if err != nil {
		return value.Null(), err
	}
	length := kwargs.Get("length", value.Int(255))
	if err := needNumber(length); err != nil {
		return value.Null(), fmt.Errorf("length: %w", err)
	}
	end, err := needString(kwargs.Get("end", value.String("…")))
	if err != nil {
		return value.Null(), fmt.Errorf("end: %w", err)
	}
	n := int(length.AsInt())
	chars := []rune(s)
	if len(chars) <= n {
		return value.String(s), nil
	}
	return value.String(string(chars[:n]) + end), nil
}

func filterReplace(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	s, err := needString(val)
	if err != nil {
		return value.Null(), err
	}
	from, err := needString(kwargs.Get("from", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("from: %w", err)
	}
	to, err := needString(kwargs.Get("to", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("to: %w", err)
	}
	if from == "" {
		return value.String(s), nil
	}
	return value.String(strings.ReplaceAll(s, from, to)), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	chars := []rune(s)
	return string(unicode.ToUpper(chars[0])) + strings.ToLower(string(chars[1:]))
}

func titleCase(s string) string {
	return cases.Title(language.Und).String(s)
}

func filterIndent(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	s, err := needString(val)
	if err != nil {
		return value.Null(), err
	}
	prefix, err := needString(kwargs.Get("prefix", value.String("    ")))
	if err != nil {
		return value.Null(), fmt.Errorf("prefix: %w", err)
	}
	firstLine := kwargs.Get("first_line", value.Bool(false)).Truthy()
	blankLines := kwargs.Get("blank_lines", value.Bool(false)).Truthy()

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if i == 0 && !firstLine {
			continue
		}
		if line == "" && !blankLines {
			continue
		}
		lines[i] = prefix + line
	}
	return value.String(strings.Join(lines, "\n")), nil
}

// percentEncode escapes everything but unreserved URI characters; a slash
// survives unless strict encoding is requested.
func percentEncode(s string, keepSlash bool) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			sb.WriteByte(c)
		case c == '/' && keepSlash:
			sb.WriteByte(c)
		default:
			sb.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return sb.String()
}

func escapeXML(s string) string {
	var sb strings.Builder
	for _, c := range s {
		switch c {
		case '&':
			sb.WriteString("&amp;")
		case '<':
			sb.WriteString("&lt;")
		case '>':
			sb.WriteString("&gt;")
		case '"':
			sb.WriteString("&quot;")
		case '\'':
			sb.WriteString("&apos;")
		default:
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

// slugify lowercases, folds diacritics away and keeps only alphanumerics
// and single dashes.
func slugify(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	var sb strings.Builder
	for _, c := range strings.ToLower(folded) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			sb.WriteRune(c)
		default:
			sb.WriteByte('-')
		}
	}
	out := slugDashPattern.ReplaceAllString(sb.String(), "-")
	return strings.Trim(out, "-")
}

func addslashes(s string) string {
	var sb strings.Builder
	for _, c := range s {
		switch c {
		case '\\', '"', '\'':
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func filterSplit(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	s, err := needString(val)
	if err != nil {
		return value.Null(), err
	}
	pat, err := needString(kwargs.Get("pat", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("pat: %w", err)
	}
	if pat == "" {
		return value.Null(), fmt.Errorf("needs a non-empty `pat` argument")
	}
	parts := strings.Split(s, pat)
	items := make([]value.Value, len(parts))
	for i, p := range parts {
		items[i] = value.String(p)
	}
	return value.Array(items...), nil
}

func filterInt(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	switch val.Kind() {
	case value.KindInt:
		return val, nil
	case value.KindFloat:
		return value.Int(val.AsInt()), nil
	case value.KindString:
		base := kwargs.Get("base", value.Int(10))
		if err := needNumber(base); err != nil {
			return value.Null(), fmt.Errorf("base: %w", err)
		}
		s := strings.TrimSpace(val.AsString())
		n, err := strconv.ParseInt(s, int(base.AsInt()), 64)
		if err == nil {
			return value.Int(n), nil
		}
		// A float-shaped string still converts, truncating.
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return value.Int(int64(f)), nil
		}
		if kwargs.Has("default") {
			return kwargs.Get("default", value.Null()), nil
		}
		return value.Null(), fmt.Errorf("cannot convert %q to an int", s)
	default:
		if kwargs.Has("default") {
			return kwargs.Get("default", value.Null()), nil
		}
		return value.Null(), fmt.Errorf("cannot convert a %s to an int", val.Kind())
	}
}

func filterFloat(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	switch val.Kind() {
	case value.KindFloat:
		return val, nil
	case value.KindInt:
		return value.Float(val.AsFloat()), nil
	case value.KindString:
		s := strings.TrimSpace(val.AsString())
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return value.Float(f), nil
		}
		if kwargs.Has("default") {
			return kwargs.Get("default", value.Null()), nil
		}
		return value.Null(), fmt.Errorf("cannot convert %q to a float", s)
	default:
		if kwargs.Has("default") {
			return kwargs.Get("default", value.Null()), nil
		}
		return value.Null(), fmt.Errorf("cannot convert a %s to a float", val.Kind())
	}
}

// filterMarkdown renders CommonMark to HTML. The result is raw markup, so
// autoescaped templates need a trailing `safe`.
func filterMarkdown(val value.Value, _ runtime.Kwargs) (value.Value, error) {
	s, err := needString(val)
	if err != nil {
		return value.Null(), err
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(s), &buf); err != nil {
		return value.Null(), err
	}
	return value.String(buf.String()), nil
}
