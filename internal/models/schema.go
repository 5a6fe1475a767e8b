package models

import "golang.org/x/text/language"

// StreamSchema is a declarative stream match used by exclusion filters.
//
// A stream satisfies the schema when any of its tag values contains one of
// Contains, or its language tag matches one of Languages, or its codec name
// is listed in Codecs. An empty schema matches nothing.
type StreamSchema struct {
	Contains  []string `mapstructure:"contains" json:"contains,omitempty" yaml:"contains,omitempty"`
	Languages []string `mapstructure:"languages" json:"languages,omitempty" yaml:"languages,omitempty"`
	Codecs    []string `mapstructure:"codecs" json:"codecs,omitempty" yaml:"codecs,omitempty"`
}

// IsEmpty reports whether the schema has no match terms at all.
func (s *StreamSchema) IsEmpty() bool {
	return s == nil || (len(s.Contains) == 0 && len(s.Languages) == 0 && len(s.Codecs) == 0)
}

// LanguageTags parses the schema's language terms into BCP 47 tags,
// silently dropping terms that do not parse.
func (s *StreamSchema) LanguageTags() []language.Tag {
	if s == nil {
		return nil
	}
	tags := make([]language.Tag, 0, len(s.Languages))
	for _, l := range s.Languages {
		tag, err := language.Parse(l)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

// StreamFilters carries the per-kind retention schemas a customer registers.
type StreamFilters struct {
	Audio    *StreamSchema `json:"audio,omitempty" yaml:"audio,omitempty"`
	Subtitle *StreamSchema `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
}
