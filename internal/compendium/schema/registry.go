package schema

import (
	"fmt"
	"sort"

	apperrors "github.com/louisbranch/lorebound/internal/platform/errors"
)

// Registry holds the schemas for every known (system, entry type) pair. It
// is constructed once at startup and injected wherever validation happens;
// there is no ambient global registry.
type Registry struct {
	schemas map[string]map[string]*Schema
}

// NewRegistry returns an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: map[string]map[string]*Schema{}}
}

// Register adds a schema. Registering the same (system, entry type) twice
// is an error.
func (r *Registry) Register(s *Schema) error {
	if s == nil {
		return fmt.Errorf("schema is required")
	}
	if s.System() == "" || s.EntryType() == "" {
		return fmt.Errorf("schema system and entry type are required")
	}
	byType, ok := r.schemas[s.System()]
	if !ok {
		byType = map[string]*Schema{}
		r.schemas[s.System()] = byType
	}
	if _, exists := byType[s.EntryType()]; exists {
		return fmt.Errorf("schema %s/%s already registered", s.System(), s.EntryType())
	}
	byType[s.EntryType()] = s
	return nil
}

// Lookup returns the schema for the pair, or a SCHEMA_UNKNOWN error.
func (r *Registry) Lookup(system, entryType string) (*Schema, error) {
	if byType, ok := r.schemas[system]; ok {
		if s, ok := byType[entryType]; ok {
			return s, nil
		}
	}
	return nil, apperrors.WithMetadata(apperrors.CodeSchemaUnknown,
		fmt.Sprintf("no schema registered for %s/%s", system, entryType),
		map[string]string{"system": system, "entry_type": entryType})
}

// Systems returns the registered system identifiers in sorted order.
func (r *Registry) Systems() []string {
	systems := make([]string, 0, len(r.schemas))
	for system := range r.schemas {
		systems = append(systems, system)
	}
	sort.Strings(systems)
	return systems
}

// EntryTypes returns the entry types registered for a system, sorted.
func (r *Registry) EntryTypes(system string) []string {
	byType, ok := r.schemas[system]
	if !ok {
		return nil
	}
	types := make([]string, 0, len(byType))
	for entryType := range byType {
		types = append(types, entryType)
	}
	sort.Strings(types)
	return types
}
