package scenario

import (
	"regexp"
	"strings"
)

// placeholderRe matches {{ name }} style placeholders.
var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Render substitutes placeholders in text from customer and conversation
// attributes. Unresolved placeholders render as empty rather than failing
// the whole action.
func Render(text string, in Input) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		switch key {
		case "name":
			return in.CustomerName
		case "handle":
			return in.Handle
		}
		if v, ok := in.Attributes[key]; ok {
			return v
		}
		return ""
	})
}
