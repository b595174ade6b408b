package action

import "strings"

// Merge joins original and appendix with a blank line. Both are trimmed; when
// either is empty the other is returned alone.
func Merge(original, appendix string) string {
	original = strings.TrimSpace(original)
	appendix = strings.TrimSpace(appendix)
	if appendix == "" {
		return original
	}
	if original == "" {
		return appendix
	}
	return original + "\n\n" + appendix
}

// ApplyTemplate substitutes pay for both "{{pay}}" and "{pay}" in tpl.
func ApplyTemplate(tpl, pay string) string {
	out := strings.ReplaceAll(tpl, "{{pay}}", pay)
	return strings.ReplaceAll(out, "{pay}", pay)
}
