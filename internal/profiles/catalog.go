// Package profiles implements the operator-defined output profile catalog
// and its resolver. A profile names one target variant of a transcode
// (geometry, placeholder data, extra encoder parameters) and may inherit
// from another profile via extend.
package profiles

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is one catalog entry as the operator wrote it.
type Profile struct {
	// Name identifies the profile in customer output selections.
	Name string `yaml:"name"`
	// Extend names the parent profile whose data and params this one
	// builds on. Empty for root profiles.
	Extend string `yaml:"extend,omitempty"`
	// Enabled is a predicate over the source geometry (width, height).
	// An absent predicate means always enabled.
	Enabled string `yaml:"enabled,omitempty"`
	// VideoCodec optionally overrides the category-wide video encoder for
	// outputs produced from this profile.
	VideoCodec string `yaml:"video_codec,omitempty"`
	// Data holds named expressions evaluated against the source geometry
	// plus every field resolved before it along the inheritance chain.
	// Declaration order matters: a field may reference fields above it.
	Data DataFields `yaml:"data,omitempty"`
	// Params are extra encoder arguments, with ${placeholder} substitution
	// against the resolved data.
	Params []string `yaml:"params,omitempty"`
}

// DataFields is an ordered list of named expressions. YAML mapping order is
// preserved so later fields can reference earlier ones.
type DataFields []DataField

// DataField is one named expression.
type DataField struct {
	Key  string
	Expr string
}

// UnmarshalYAML decodes a YAML mapping while keeping its key order.
func (d *DataFields) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("data must be a mapping, got %s", value.Tag)
	}
	fields := make(DataFields, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var key, expr string
		if err := value.Content[i].Decode(&key); err != nil {
			return err
		}
		if err := value.Content[i+1].Decode(&expr); err != nil {
			return err
		}
		fields = append(fields, DataField{Key: key, Expr: expr})
	}
	*d = fields
	return nil
}

// Catalog is the full set of operator-defined profiles, keyed by name.
type Catalog struct {
	profiles map[string]*Profile
}

// catalogFile is the on-disk YAML layout.
type catalogFile struct {
	Profiles []*Profile `yaml:"profiles"`
}

// LoadCatalog reads a profile catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a profile catalog from YAML bytes and validates its
// inheritance references.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	catalog := &Catalog{profiles: make(map[string]*Profile, len(file.Profiles))}
	for _, profile := range file.Profiles {
		if profile.Name == "" {
			return nil, fmt.Errorf("catalog contains a profile without a name")
		}
		if _, dup := catalog.profiles[profile.Name]; dup {
			return nil, fmt.Errorf("duplicate profile %q", profile.Name)
		}
		catalog.profiles[profile.Name] = profile
	}

	for _, profile := range file.Profiles {
		if err := catalog.checkChain(profile); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// checkChain verifies the extend chain terminates at a root profile.
func (c *Catalog) checkChain(profile *Profile) error {
	seen := map[string]bool{profile.Name: true}
	for current := profile; current.Extend != ""; {
		parent, ok := c.profiles[current.Extend]
		if !ok {
			return fmt.Errorf("profile %q extends unknown profile %q", current.Name, current.Extend)
		}
		if seen[parent.Name] {
			return fmt.Errorf("profile %q has a circular extend chain", profile.Name)
		}
		seen[parent.Name] = true
		current = parent
	}
	return nil
}

// Get returns the profile with the given name.
func (c *Catalog) Get(name string) (*Profile, bool) {
	p, ok := c.profiles[name]
	return p, ok
}

// Len returns the number of profiles in the catalog.
func (c *Catalog) Len() int {
	return len(c.profiles)
}
