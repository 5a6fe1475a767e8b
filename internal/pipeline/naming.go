package pipeline

import "strings"

// DefaultNameTemplate is used when a category defines no name template.
const DefaultNameTemplate = "{{base}}-{{profile}}{{ext}}"

// ExpandName builds an output filename from a category's name template.
// Supported placeholders: {{base}} (source filename without extension),
// {{profile}} (resolved profile name), {{ext}} (category extension,
// including the leading dot).
func ExpandName(template, base, profile, ext string) string {
	if template == "" {
		template = DefaultNameTemplate
	}
	r := strings.NewReplacer(
		"{{base}}", base,
		"{{profile}}", profile,
		"{{ext}}", ext,
	)
	return r.Replace(template)
}
