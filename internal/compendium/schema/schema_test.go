package schema

import (
	"bytes"
	"errors"
	"testing"

	"github.com/louisbranch/lorebound/internal/compendium/document"
	"github.com/louisbranch/lorebound/internal/compendium/fieldtype"
	apperrors "github.com/louisbranch/lorebound/internal/platform/errors"
)

func itemSchema(t *testing.T) *Schema {
	t.Helper()
	s := New("srd-basic", "item")
	mustAdd := func(name string, ft fieldtype.Type, required, base bool) {
		t.Helper()
		if err := s.AddField(name, ft, required, base); err != nil {
			t.Fatalf("add field %s: %v", name, err)
		}
	}
	mustAdd("name", fieldtype.ShortText(100), true, true)
	mustAdd("description", fieldtype.LongText(0), false, true)
	mustAdd("weight", fieldtype.Integer(fieldtype.Bound(0), nil), false, true)
	mustAdd("damage_dice", fieldtype.ShortText(20), false, false)
	return s
}

func TestValidateMissingRequiredField(t *testing.T) {
	t.Parallel()

	s := itemSchema(t)
	data, _ := document.FromJSON([]byte(`{"description":"A simple wooden club."}`))
	issues := s.Validate(data)
	if len(issues) != 1 {
		t.Fatalf("issues = %v, want exactly one", issues)
	}
	if issues[0].Field != "name" || issues[0].Code != fieldtype.IssueRequired {
		t.Fatalf("issue = %+v, want required name", issues[0])
	}
}

func TestValidateRejectsUnknownTopLevelFields(t *testing.T) {
	t.Parallel()

	s := itemSchema(t)
	data, _ := document.FromJSON([]byte(`{"name":"Club","rarity":"common"}`))
	issues := s.Validate(data)
	if len(issues) != 1 || issues[0].Field != "rarity" || issues[0].Code != fieldtype.IssueUnknownField {
		t.Fatalf("issues = %v, want unknown_field rarity", issues)
	}
}

func TestValidateDelegatesToFieldTypes(t *testing.T) {
	t.Parallel()

	s := itemSchema(t)
	data, _ := document.FromJSON([]byte(`{"name":"Club","weight":-2}`))
	issues := s.Validate(data)
	if len(issues) != 1 || issues[0].Field != "weight" || issues[0].Code != fieldtype.IssueOutOfRange {
		t.Fatalf("issues = %v, want out_of_range weight", issues)
	}
}

func TestValidateAcceptsWellFormedData(t *testing.T) {
	t.Parallel()

	s := itemSchema(t)
	data, _ := document.FromJSON([]byte(`{"name":"Club","description":"A simple wooden club.","weight":2,"damage_dice":"1d4"}`))
	if issues := s.Validate(data); len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

func TestValidateNonMapData(t *testing.T) {
	t.Parallel()

	s := itemSchema(t)
	issues := s.Validate(document.String("not a map"))
	if len(issues) != 1 || issues[0].Code != fieldtype.IssueWrongType {
		t.Fatalf("issues = %v, want wrong_type", issues)
	}
}

func TestDescriptorJSONDeterministic(t *testing.T) {
	t.Parallel()

	s := itemSchema(t)
	first, err := s.DescriptorJSON()
	if err != nil {
		t.Fatalf("descriptor json: %v", err)
	}
	second, err := s.DescriptorJSON()
	if err != nil {
		t.Fatalf("descriptor json again: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("descriptor JSON changed between calls on an unchanged schema")
	}
}

func TestAddFieldInvalidatesDescriptorCache(t *testing.T) {
	t.Parallel()

	s := itemSchema(t)
	before, err := s.DescriptorJSON()
	if err != nil {
		t.Fatalf("descriptor json: %v", err)
	}
	if err := s.AddField("mastery", fieldtype.ShortText(50), false, false); err != nil {
		t.Fatalf("add field: %v", err)
	}
	after, err := s.DescriptorJSON()
	if err != nil {
		t.Fatalf("descriptor json after: %v", err)
	}
	if bytes.Equal(before, after) {
		t.Fatal("descriptor unchanged after field addition")
	}

	desc := s.Describe()
	if desc.Fields[len(desc.Fields)-1].Name != "mastery" {
		t.Fatalf("descriptor order = %v, want mastery last", desc.Fields)
	}
}

func TestDescribePreservesDeclarationOrder(t *testing.T) {
	t.Parallel()

	s := itemSchema(t)
	desc := s.Describe()
	want := []string{"name", "description", "weight", "damage_dice"}
	if len(desc.Fields) != len(want) {
		t.Fatalf("fields = %d, want %d", len(desc.Fields), len(want))
	}
	for i, name := range want {
		if desc.Fields[i].Name != name {
			t.Fatalf("field[%d] = %s, want %s", i, desc.Fields[i].Name, name)
		}
	}
	if !desc.Fields[0].Required || !desc.Fields[0].Base {
		t.Fatal("name should be required base field")
	}
}

func TestAddFieldRejectsDuplicates(t *testing.T) {
	t.Parallel()

	s := itemSchema(t)
	if err := s.AddField("name", fieldtype.ShortText(10), false, false); err == nil {
		t.Fatal("expected duplicate field error")
	}
}

func TestInitMutableState(t *testing.T) {
	t.Parallel()

	s := New("srd-basic", "feature")
	if err := s.AddField("resource", fieldtype.Resource(), false, false); err != nil {
		t.Fatalf("add field: %v", err)
	}
	s.DeclareMutable("resource", func(data document.Value) document.Value {
		maximum, _ := data.GetPath("resource", "maximum")
		return document.Map(map[string]document.Value{"current": maximum})
	})
	s.DeclareMutable("active", func(document.Value) document.Value {
		return document.Bool(false)
	})

	data, _ := document.FromJSON([]byte(`{"resource":{"maximum":2}}`))
	state := s.InitMutableState(data)
	if current, ok := state.GetPath("resource", "current"); !ok || current.IntVal() != 2 {
		t.Fatalf("resource.current = %v, want 2", current.ToGo())
	}
	if active, ok := state.Field("active"); !ok || active.BoolVal() {
		t.Fatal("active should initialize to false")
	}
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := reg.Register(itemSchema(t)); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := reg.Lookup("srd-basic", "item"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	_, err := reg.Lookup("srd-basic", "vehicle")
	if !errors.Is(err, apperrors.New(apperrors.CodeSchemaUnknown, "")) {
		t.Fatalf("err = %v, want SCHEMA_UNKNOWN", err)
	}
}

func TestRegistryRejectsDuplicatePairs(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := reg.Register(itemSchema(t)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(itemSchema(t)); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistryEnumeration(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	for _, pair := range [][2]string{{"srd-basic", "item"}, {"srd-basic", "spell"}, {"homebrew-west", "item"}} {
		s := New(pair[0], pair[1])
		if err := s.AddField("name", fieldtype.ShortText(100), true, true); err != nil {
			t.Fatalf("add field: %v", err)
		}
		if err := reg.Register(s); err != nil {
			t.Fatalf("register %v: %v", pair, err)
		}
	}

	systems := reg.Systems()
	if len(systems) != 2 || systems[0] != "homebrew-west" || systems[1] != "srd-basic" {
		t.Fatalf("systems = %v", systems)
	}
	types := reg.EntryTypes("srd-basic")
	if len(types) != 2 || types[0] != "item" || types[1] != "spell" {
		t.Fatalf("entry types = %v", types)
	}
}
