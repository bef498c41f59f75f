// Package registry holds the directory of available converter and linter
// workers and dispatches work to them. The directory is built once at
// startup from configuration and injected where needed; there is no ambient
// global module table.
package registry

import "slices"

// Worker kinds
const (
	TypeConverter = "converter"
	TypeLinter    = "linter"
)

// WildcardResourceType matches any content resource when no module claims
// the exact type.
const WildcardResourceType = "other"

// Module is a tagged capability record for one remote worker.
type Module struct {
	Name          string
	Type          string
	InputFormats  []string
	OutputFormats []string
	ResourceTypes []string
}

// Supports reports whether the module accepts the given resource type.
func (m *Module) Supports(resourceType string) bool {
	return slices.Contains(m.ResourceTypes, resourceType)
}

// Registry is the in-process worker directory.
type Registry struct {
	modules []Module
}

func New(modules []Module) *Registry {
	return &Registry{modules: modules}
}

// FindConverter resolves a converter for the given input format, output
// format and resource type. An exact resource-type match wins; a module
// registered for the wildcard "other" type is the fallback.
func (r *Registry) FindConverter(inputFormat, outputFormat, resourceType string) (*Module, bool) {
	match := func(m *Module) bool {
		return m.Type == TypeConverter &&
			slices.Contains(m.InputFormats, inputFormat) &&
			slices.Contains(m.OutputFormats, outputFormat)
	}
	return r.find(match, resourceType)
}

// FindLinter resolves a linter for the given input format and resource
// type, with the same wildcard fallback as converters.
func (r *Registry) FindLinter(inputFormat, resourceType string) (*Module, bool) {
	match := func(m *Module) bool {
		return m.Type == TypeLinter && slices.Contains(m.InputFormats, inputFormat)
	}
	return r.find(match, resourceType)
}

func (r *Registry) find(match func(*Module) bool, resourceType string) (*Module, bool) {
	for i := range r.modules {
		m := &r.modules[i]
		if match(m) && m.Supports(resourceType) {
			return m, true
		}
	}
	for i := range r.modules {
		m := &r.modules[i]
		if match(m) && m.Supports(WildcardResourceType) {
			return m, true
		}
	}
	return nil, false
}
