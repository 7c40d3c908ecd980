// Package basic declares the srd-basic game system: the built-in schema set
// covering the SRD content types the importer ships with.
package basic

import (
	"fmt"

	"github.com/louisbranch/lorebound/internal/compendium/document"
	"github.com/louisbranch/lorebound/internal/compendium/fieldtype"
	"github.com/louisbranch/lorebound/internal/compendium/schema"
)

// System is the identifier every srd-basic GUID starts with.
const System = "srd-basic"

// BuildRegistry declares the srd-basic entry type schemas.
func BuildRegistry() (*schema.Registry, error) {
	registry := schema.NewRegistry()
	for _, build := range []func() (*schema.Schema, error){
		damageTypeSchema,
		itemSchema,
		spellSchema,
		classSchema,
		basicRuleSchema,
		featureSchema,
	} {
		s, err := build()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(s); err != nil {
			return nil, fmt.Errorf("register %s/%s: %w", s.System(), s.EntryType(), err)
		}
	}
	return registry, nil
}

type fieldSpec struct {
	name     string
	ftype    fieldtype.Type
	required bool
	base     bool
}

func buildSchema(entryType string, fields []fieldSpec) (*schema.Schema, error) {
	s := schema.New(System, entryType)
	for _, f := range fields {
		if err := s.AddField(f.name, f.ftype, f.required, f.base); err != nil {
			return nil, fmt.Errorf("%s field %s: %w", entryType, f.name, err)
		}
	}
	return s, nil
}

func damageTypeSchema() (*schema.Schema, error) {
	return buildSchema("damage-type", []fieldSpec{
		{"name", fieldtype.ShortText(50), true, true},
		{"description", fieldtype.LongText(0), false, true},
	})
}

func itemSchema() (*schema.Schema, error) {
	return buildSchema("item", []fieldSpec{
		{"name", fieldtype.ShortText(100), true, true},
		{"description", fieldtype.LongText(0), false, true},
		{"weight", fieldtype.Integer(fieldtype.Bound(0), nil), false, true},
		{"damage_dice", fieldtype.ShortText(20), false, false},
		{"damage_type", fieldtype.CompendiumLink(System + "-damage-type-*"), false, false},
	})
}

func spellSchema() (*schema.Schema, error) {
	return buildSchema("spell", []fieldSpec{
		{"name", fieldtype.ShortText(100), true, true},
		{"description", fieldtype.LongText(0), false, true},
		{"level", fieldtype.Integer(fieldtype.Bound(0), fieldtype.Bound(9)), true, false},
		{"school", fieldtype.ShortText(20), false, false},
		{"casting_time", fieldtype.ShortText(50), false, false},
		{"range", fieldtype.ShortText(50), false, false},
		{"components", fieldtype.ShortText(50), false, false},
		{"duration", fieldtype.ShortText(50), false, false},
		{"concentration", fieldtype.Select("yes", "no"), false, false},
	})
}

func classSchema() (*schema.Schema, error) {
	return buildSchema("class", []fieldSpec{
		{"name", fieldtype.ShortText(50), true, true},
		{"description", fieldtype.LongText(0), false, true},
		{"hit_die", fieldtype.ShortText(5), false, false},
		{"primary_ability", fieldtype.ShortText(50), false, false},
	})
}

func basicRuleSchema() (*schema.Schema, error) {
	return buildSchema("basic-rule", []fieldSpec{
		{"name", fieldtype.ShortText(100), true, true},
		{"description", fieldtype.Markdown(), false, true},
		{"parent", fieldtype.ParentLink("basic-rule"), false, false},
	})
}

// featureSchema declares class features. The current value of the uses
// resource is gameplay-owned and player notes survive snapshot refreshes.
func featureSchema() (*schema.Schema, error) {
	s, err := buildSchema("feature", []fieldSpec{
		{"name", fieldtype.ShortText(100), true, true},
		{"description", fieldtype.Markdown(), false, true},
		{"level", fieldtype.Integer(fieldtype.Bound(0), fieldtype.Bound(20)), false, false},
		{"uses", fieldtype.Resource(), false, false},
		{"recovery", fieldtype.Select("short_rest", "long_rest", "dawn", "none"), false, false},
		{"player_notes", fieldtype.LongText(2000), false, false},
	})
	if err != nil {
		return nil, err
	}

	s.DeclareMutable("uses_current", func(data document.Value) document.Value {
		if maximum, ok := data.GetPath("uses", "maximum"); ok {
			return maximum
		}
		return document.Null()
	})
	s.DeclareMutable("active", func(document.Value) document.Value {
		return document.Bool(false)
	})
	s.PreserveOnUpdate("player_notes")
	return s, nil
}
