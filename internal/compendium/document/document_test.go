package document

import (
	"bytes"
	"testing"
)

func TestFromJSONRoundTrip(t *testing.T) {
	t.Parallel()

	input := []byte(`{"name":"Club","weight":2,"tags":["simple","melee"],"magic":null,"stats":{"damage_dice":"1d4"}}`)
	v, err := FromJSON(input)
	if err != nil {
		t.Fatalf("from json: %v", err)
	}

	name, ok := v.Field("name")
	if !ok || name.StringVal() != "Club" {
		t.Fatalf("name = %v, want Club", name)
	}
	weight, _ := v.Field("weight")
	if weight.IntVal() != 2 {
		t.Fatalf("weight = %d, want 2", weight.IntVal())
	}
	tags, _ := v.Field("tags")
	if tags.Len() != 2 || tags.Index(0).StringVal() != "simple" {
		t.Fatalf("unexpected tags: %v", tags.ToGo())
	}
	if dice, ok := v.GetPath("stats", "damage_dice"); !ok || dice.StringVal() != "1d4" {
		t.Fatalf("stats.damage_dice = %v", dice)
	}
	if magic, ok := v.Field("magic"); !ok || !magic.IsNull() {
		t.Fatal("expected explicit null field")
	}
}

func TestMarshalJSONIsCanonical(t *testing.T) {
	t.Parallel()

	v := Map(map[string]Value{
		"zeta":  Int(1),
		"alpha": String("a"),
		"mid":   List(Bool(true), Null()),
	})
	first, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal again: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("marshal not deterministic: %s vs %s", first, second)
	}
	want := `{"alpha":"a","mid":[true,null],"zeta":1}`
	if string(first) != want {
		t.Fatalf("canonical json = %s, want %s", first, want)
	}
}

func TestEqualDeepCompare(t *testing.T) {
	t.Parallel()

	a, err := FromJSON([]byte(`{"resource":{"maximum":2},"tags":["a","b"]}`))
	if err != nil {
		t.Fatalf("from json: %v", err)
	}
	b, err := FromJSON([]byte(`{"tags":["a","b"],"resource":{"maximum":2}}`))
	if err != nil {
		t.Fatalf("from json: %v", err)
	}
	if !Equal(a, b) {
		t.Fatal("expected structural equality regardless of key order")
	}

	c := b.SetPath([]string{"resource", "maximum"}, Int(3))
	if Equal(a, c) {
		t.Fatal("expected inequality after nested change")
	}
}

func TestWithFieldDoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	base := Map(map[string]Value{"name": String("Club")})
	next := base.WithField("weight", Int(2))

	if _, ok := base.Field("weight"); ok {
		t.Fatal("receiver mutated by WithField")
	}
	if w, ok := next.Field("weight"); !ok || w.IntVal() != 2 {
		t.Fatal("expected weight on derived value")
	}
}

func TestSetPathCreatesIntermediateMaps(t *testing.T) {
	t.Parallel()

	v := Null().SetPath([]string{"references", "srd-basic-item-club", "version"}, String("v1"))
	got, ok := v.GetPath("references", "srd-basic-item-club", "version")
	if !ok || got.StringVal() != "v1" {
		t.Fatalf("nested value = %v, ok = %v", got, ok)
	}
}

func TestChangedFieldsReportsExactSet(t *testing.T) {
	t.Parallel()

	old, _ := FromJSON([]byte(`{"name":"Club","damage":"1d4","weight":2}`))
	new, _ := FromJSON([]byte(`{"name":"Club","damage":"1d6","reach":5}`))

	got := ChangedFields(old, new)
	want := []string{"damage", "reach", "weight"}
	if len(got) != len(want) {
		t.Fatalf("changed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("changed = %v, want %v", got, want)
		}
	}
}

func TestChangedFieldsEmptyForEqualDocs(t *testing.T) {
	t.Parallel()

	doc, _ := FromJSON([]byte(`{"name":"Club","stats":{"weight":2}}`))
	if got := ChangedFields(doc, doc.Clone()); len(got) != 0 {
		t.Fatalf("changed = %v, want empty", got)
	}
}

func TestRestrictKeepsOnlyNamedFields(t *testing.T) {
	t.Parallel()

	doc, _ := FromJSON([]byte(`{"name":"Club","weight":2,"secret":"x"}`))
	got := Restrict(doc, []string{"name", "weight", "missing"})
	if got.Len() != 2 {
		t.Fatalf("restricted len = %d, want 2", got.Len())
	}
	if _, ok := got.Field("secret"); ok {
		t.Fatal("unexpected field retained")
	}
}

func TestFromGoRejectsUnsupportedTypes(t *testing.T) {
	t.Parallel()

	if _, err := FromGo(struct{}{}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
