package core

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	LabelQuery        = "query"
	LabelFilePath     = "file_path"
	outputLabelPrefix = "output."
)

var placeholderRegEx = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// OutputLabel is the placeholder name under which a task's output is exposed
// to later tasks, e.g. {{output.verification}}.
func OutputLabel(task string) string {
	return outputLabelPrefix + task
}

// Placeholders lists the distinct placeholder names of tpl in order of first use.
func Placeholders(tpl string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRegEx.FindAllStringSubmatch(tpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// RenderTemplate substitutes every {{name}} in tpl from vars. A placeholder
// without a value is an error; nothing is left half rendered.
func RenderTemplate(tpl string, vars map[string]string) (string, error) {
	var missing []string
	out := placeholderRegEx.ReplaceAllStringFunc(tpl, func(s string) string {
		name := placeholderRegEx.FindStringSubmatch(s)[1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return s
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved placeholders: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// ReplaceLabels is the lenient variant used for internal prompt scaffolding:
// unknown labels are left untouched. Like RenderTemplate it makes one pass,
// so a substituted value is never scanned again.
func ReplaceLabels(template string, replacements map[string]string) string {
	return placeholderRegEx.ReplaceAllStringFunc(template, func(s string) string {
		if v, ok := replacements[placeholderRegEx.FindStringSubmatch(s)[1]]; ok {
			return v
		}
		return s
	})
}

// TruncateRunes cuts s to at most n runes and reports whether it did.
func TruncateRunes(s string, n int) (string, bool) {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}

// checkPlaceholders rejects any placeholder of tpl that allowed does not accept.
func checkPlaceholders(subject string, tpl string, allowed func(name string) bool) error {
	for _, name := range Placeholders(tpl) {
		if !allowed(name) {
			return configErrorf(ConfigUnknownPlaceholder, subject, "unrecognized placeholder {{%s}}", name)
		}
	}
	return nil
}

func isRunLabel(name string) bool {
	return name == LabelQuery || name == LabelFilePath
}

func outputReference(name string) (string, bool) {
	if !strings.HasPrefix(name, outputLabelPrefix) {
		return "", false
	}
	task := strings.TrimPrefix(name, outputLabelPrefix)
	return task, task != ""
}
