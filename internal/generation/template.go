package generation

import (
	"fmt"
	"strings"
)

// TemplateError reports a prompt template that references a substitution name
// the service does not supply, or is syntactically broken. Rendering is
// fail-closed: a malformed template must never leak unresolved placeholders
// into a prompt.
type TemplateError struct {
	Name   string
	Reason string
}

func (e *TemplateError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("template error: unknown placeholder %q", e.Name)
	}
	return "template error: " + e.Reason
}

// renderTemplate substitutes {name} placeholders from vars. Doubled braces
// escape literal braces. Any placeholder without a matching var is an error.
func renderTemplate(template string, vars map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		switch template[i] {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return "", &TemplateError{Reason: "unterminated placeholder"}
			}
			name := template[i+1 : i+1+end]
			value, ok := vars[name]
			if !ok {
				return "", &TemplateError{Name: name}
			}
			b.WriteString(value)
			i += end + 2
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			return "", &TemplateError{Reason: "stray '}' outside placeholder"}
		default:
			b.WriteByte(template[i])
			i++
		}
	}

	return b.String(), nil
}
