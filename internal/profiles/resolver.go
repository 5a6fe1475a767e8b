package profiles

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mediaforge/mediaforge/internal/expression"
	"github.com/mediaforge/mediaforge/internal/models"
)

// ResolvedProfile is a catalog profile flattened against its inheritance
// chain for one concrete source geometry.
type ResolvedProfile struct {
	// Name is the leaf profile's name.
	Name string
	// VideoCodec is the innermost video_codec override along the chain,
	// or empty when the category-wide encoder applies.
	VideoCodec string
	// Data holds the evaluated data fields, leaf values overriding
	// ancestor values of the same key.
	Data map[string]float64
	// Params are the accumulated extra arguments, ancestors first, with
	// every ${placeholder} substituted.
	Params []string
}

// Resolver evaluates customer output selections against the catalog.
type Resolver struct {
	catalog *Catalog
	logger  *slog.Logger
}

// NewResolver creates a resolver over the given catalog.
func NewResolver(catalog *Catalog, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: catalog, logger: logger}
}

// Resolve walks the selection's profile names in order and returns the
// resolved profiles enabled at the given source geometry.
//
// An empty result is legitimate: it means nothing in the selection applies
// to this source, and the caller decides what that implies for the job.
// In first mode resolution stops at the first enabled name, preserving the
// configured order rather than any notion of best match.
func (r *Resolver) Resolve(selection models.OutputSelection, width, height int) ([]*ResolvedProfile, error) {
	var resolved []*ResolvedProfile

	for _, name := range selection.Names {
		profile, ok := r.catalog.Get(name)
		if !ok {
			r.logger.Warn("output selection names unknown profile", slog.String("profile", name))
			continue
		}

		enabled, err := r.enabled(profile, width, height)
		if err != nil {
			return nil, fmt.Errorf("evaluating enabled predicate of profile %q: %w", name, err)
		}
		if !enabled {
			continue
		}

		rp, err := r.flatten(profile, width, height)
		if err != nil {
			return nil, fmt.Errorf("resolving profile %q: %w", name, err)
		}
		resolved = append(resolved, rp)

		if selection.Mode == models.SelectionFirst {
			break
		}
	}

	return resolved, nil
}

// enabled evaluates a profile's predicate against the source geometry.
func (r *Resolver) enabled(profile *Profile, width, height int) (bool, error) {
	if profile.Enabled == "" {
		return true, nil
	}
	compiled, err := expression.Compile(profile.Enabled)
	if err != nil {
		return false, err
	}
	return compiled.EvalBool(expression.Scope{
		"width":  float64(width),
		"height": float64(height),
	})
}

// flatten resolves a profile's inheritance chain root-first, accumulating
// data fields and concatenating params.
func (r *Resolver) flatten(leaf *Profile, width, height int) (*ResolvedProfile, error) {
	chain := r.chain(leaf)

	data := make(map[string]float64)
	scope := expression.Scope{
		"width":  float64(width),
		"height": float64(height),
	}

	var params []string
	var videoCodec string

	for _, profile := range chain {
		for _, field := range profile.Data {
			compiled, err := expression.Compile(field.Expr)
			if err != nil {
				return nil, fmt.Errorf("data field %q: %w", field.Key, err)
			}
			value, err := compiled.Eval(scope)
			if err != nil {
				return nil, fmt.Errorf("data field %q: %w", field.Key, err)
			}
			data[field.Key] = value
			scope[field.Key] = value
		}
		params = append(params, profile.Params...)
		if profile.VideoCodec != "" {
			videoCodec = profile.VideoCodec
		}
	}

	return &ResolvedProfile{
		Name:       leaf.Name,
		VideoCodec: videoCodec,
		Data:       data,
		Params:     expandParams(params, width, height, data),
	}, nil
}

// chain returns the profile's ancestry, root first, leaf last. References
// were validated at catalog load time.
func (r *Resolver) chain(leaf *Profile) []*Profile {
	var chain []*Profile
	for current := leaf; current != nil; {
		chain = append([]*Profile{current}, chain...)
		if current.Extend == "" {
			break
		}
		current, _ = r.catalog.Get(current.Extend)
	}
	return chain
}

// expandParams substitutes ${placeholder} references in extra parameters.
// The source geometry is exposed as sampleWidth and sampleHeight alongside
// every resolved data field.
func expandParams(params []string, width, height int, data map[string]float64) []string {
	if len(params) == 0 {
		return nil
	}

	values := make(map[string]string, len(data)+2)
	values["sampleWidth"] = strconv.Itoa(width)
	values["sampleHeight"] = strconv.Itoa(height)
	for key, value := range data {
		values[key] = formatNumber(value)
	}

	expanded := make([]string, len(params))
	for i, param := range params {
		expanded[i] = expandPlaceholders(param, values)
	}
	return expanded
}

// expandPlaceholders replaces every ${name} occurrence with its value.
// Unknown placeholders are left untouched so malformed params surface
// verbatim in the encoder invocation instead of vanishing silently.
func expandPlaceholders(s string, values map[string]string) string {
	var sb strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		end += start

		name := s[start+2 : end]
		if value, ok := values[name]; ok {
			sb.WriteString(s[:start])
			sb.WriteString(value)
		} else {
			sb.WriteString(s[:end+1])
		}
		s = s[end+1:]
	}
}

// formatNumber renders a data value the way an encoder argument expects:
// integral values without a decimal point.
func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

