// Package schema composes field types into per-(system, entry type) schemas
// that validate compendium entry data and describe themselves as form
// descriptors.
package schema

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/louisbranch/lorebound/internal/compendium/document"
	"github.com/louisbranch/lorebound/internal/compendium/fieldtype"
)

// Field is one declared schema field in declaration order.
type Field struct {
	Name     string
	Type     fieldtype.Type
	Required bool
	// Base marks fields shared by every entry type of the system (name,
	// description) as opposed to type-specific ones.
	Base bool
}

// MutableInit derives the initial gameplay-owned state for a mutable key
// from the entry's content data at attach time.
type MutableInit func(data document.Value) document.Value

// MutableField declares one gameplay-owned snapshot key for the entry type.
type MutableField struct {
	Key  string
	Init MutableInit
}

// FieldDescriptor is the wire shape of one schema field.
type FieldDescriptor struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Base     bool   `json:"base_field"`
	fieldtype.Descriptor
}

// Descriptor is the wire shape of a compiled schema.
type Descriptor struct {
	System    string            `json:"system"`
	EntryType string            `json:"entry_type"`
	Fields    []FieldDescriptor `json:"fields"`
}

// Schema is an ordered field composition for one (system, entry type) pair.
// The compiled descriptor is cached and invalidated when fields change.
type Schema struct {
	system    string
	entryType string
	fields    []Field
	index     map[string]int
	mutable   []MutableField
	preserve  []string

	descriptorJSON []byte
}

// New returns an empty schema for the given system and entry type.
func New(system, entryType string) *Schema {
	return &Schema{
		system:    system,
		entryType: entryType,
		index:     map[string]int{},
	}
}

// System returns the schema's game system identifier.
func (s *Schema) System() string { return s.system }

// EntryType returns the schema's entry type identifier.
func (s *Schema) EntryType() string { return s.entryType }

// AddField appends a field to the ordered field list and invalidates the
// cached descriptor.
func (s *Schema) AddField(name string, t fieldtype.Type, required, base bool) error {
	if name == "" {
		return fmt.Errorf("field name is required")
	}
	if t == nil {
		return fmt.Errorf("field type is required for %q", name)
	}
	if _, exists := s.index[name]; exists {
		return fmt.Errorf("field %q already declared", name)
	}
	s.index[name] = len(s.fields)
	s.fields = append(s.fields, Field{Name: name, Type: t, Required: required, Base: base})
	s.descriptorJSON = nil
	return nil
}

// DeclareMutable marks key as gameplay-owned for this entry type. The
// initializer runs at attach time; apply_update carries the key over from
// the old snapshot untouched.
func (s *Schema) DeclareMutable(key string, init MutableInit) {
	s.mutable = append(s.mutable, MutableField{Key: key, Init: init})
}

// PreserveOnUpdate names content-data paths (dot-free, top level or nested
// via GetPath segments joined by '.') that apply_update carries over from
// the previous snapshot instead of refreshing.
func (s *Schema) PreserveOnUpdate(paths ...string) {
	s.preserve = append(s.preserve, paths...)
}

// Fields returns a copy of the declared fields in order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// FieldNames returns the declared field names in order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// MutableFields returns the declared gameplay-owned keys.
func (s *Schema) MutableFields() []MutableField {
	out := make([]MutableField, len(s.mutable))
	copy(out, s.mutable)
	return out
}

// PreservedPaths returns the data paths carried over on apply_update.
func (s *Schema) PreservedPaths() []string {
	out := make([]string, len(s.preserve))
	copy(out, s.preserve)
	return out
}

// Validate checks data against every declared field and rejects unknown
// top-level fields so schema drift cannot slip through writes unnoticed.
// An empty result means valid.
func (s *Schema) Validate(data document.Value) []fieldtype.Issue {
	if data.Kind() != document.KindMap {
		return []fieldtype.Issue{{
			Field:   "",
			Code:    fieldtype.IssueWrongType,
			Message: fmt.Sprintf("entry data must be a map, got %s", data.Kind()),
		}}
	}

	var issues []fieldtype.Issue
	for _, f := range s.fields {
		value, present := data.Field(f.Name)
		if !present {
			if f.Required {
				issues = append(issues, fieldtype.Issue{
					Field:   f.Name,
					Code:    fieldtype.IssueRequired,
					Message: fmt.Sprintf("%s is required", f.Name),
				})
			}
			continue
		}
		if value.IsNull() && !f.Required {
			continue
		}
		issues = append(issues, f.Type.Validate(f.Name, value)...)
	}

	for _, key := range data.Keys() {
		if _, declared := s.index[key]; !declared {
			issues = append(issues, fieldtype.Issue{
				Field:   key,
				Code:    fieldtype.IssueUnknownField,
				Message: fmt.Sprintf("%s is not declared for %s/%s", key, s.system, s.entryType),
			})
		}
	}
	return issues
}

// Describe compiles the schema into its ordered descriptor.
func (s *Schema) Describe() Descriptor {
	desc := Descriptor{
		System:    s.system,
		EntryType: s.entryType,
		Fields:    make([]FieldDescriptor, len(s.fields)),
	}
	for i, f := range s.fields {
		desc.Fields[i] = FieldDescriptor{
			Name:       f.Name,
			Required:   f.Required,
			Base:       f.Base,
			Descriptor: f.Type.Describe(),
		}
	}
	return desc
}

// DescriptorJSON returns the compiled descriptor as canonical JSON. The
// result is cached; an unchanged schema yields byte-identical output.
func (s *Schema) DescriptorJSON() ([]byte, error) {
	if s.descriptorJSON != nil {
		return s.descriptorJSON, nil
	}
	encoded, err := json.Marshal(s.Describe())
	if err != nil {
		return nil, fmt.Errorf("encode descriptor %s/%s: %w", s.system, s.entryType, err)
	}
	s.descriptorJSON = encoded
	return encoded, nil
}

// InitMutableState builds the initial mutable-state map for a snapshot of
// an entry with the given content data.
func (s *Schema) InitMutableState(data document.Value) document.Value {
	entries := make(map[string]document.Value, len(s.mutable))
	for _, mf := range s.mutable {
		if mf.Init == nil {
			entries[mf.Key] = document.Null()
			continue
		}
		entries[mf.Key] = mf.Init(data)
	}
	return document.Map(entries)
}
