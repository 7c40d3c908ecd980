package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/lorebound/internal/compendium/document"
	"github.com/louisbranch/lorebound/internal/compendium/fieldtype"
	"github.com/louisbranch/lorebound/internal/compendium/schema"
	"github.com/louisbranch/lorebound/internal/compendium/storage"
	"github.com/louisbranch/lorebound/internal/compendium/storage/sqlite"
	apperrors "github.com/louisbranch/lorebound/internal/platform/errors"
)

func TestCreateEntryDerivesGUID(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	entry, err := svc.CreateEntry(context.Background(), CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Cléric's Ward",
		Data:      itemData("Cléric's Ward", 1),
		Source:    "srd",
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if entry.GUID != "srd-basic-item-clerics-ward" {
		t.Fatalf("guid = %q, want %q", entry.GUID, "srd-basic-item-clerics-ward")
	}
	if !entry.Active {
		t.Fatal("expected new entry to be active")
	}
	if entry.Category != storage.CategoryLeaf {
		t.Fatalf("category = %q, want leaf default", entry.Category)
	}
}

func TestCreateEntryResolvesCollisionsWithSmallestSuffix(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	params := CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Club",
		Data:      itemData("Club", 2),
	}

	wantGUIDs := []string{
		"srd-basic-item-club",
		"srd-basic-item-club-2",
		"srd-basic-item-club-3",
	}
	for _, want := range wantGUIDs {
		entry, err := svc.CreateEntry(context.Background(), params)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if entry.GUID != want {
			t.Fatalf("guid = %q, want %q", entry.GUID, want)
		}
	}
}

func TestCreateEntryRejectsUnknownSchema(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	_, err := svc.CreateEntry(context.Background(), CreateEntryParams{
		System:    "srd-basic",
		EntryType: "vehicle",
		Name:      "Wagon",
		Data:      document.Map(nil),
	})
	wantErr(t, err, apperrors.CodeSchemaUnknown)
}

func TestCreateEntryRejectsInvalidData(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	_, err := svc.CreateEntry(context.Background(), CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Club",
		Data: document.Map(map[string]document.Value{
			"name":    document.String("Club"),
			"weight":  document.Int(2),
			"stealth": document.Bool(true),
		}),
	})
	wantErr(t, err, apperrors.CodeValidationFailed)
}

func TestCreateEntryParentChecks(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	leaf, err := svc.CreateEntry(ctx, CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Club",
		Data:      itemData("Club", 2),
	})
	if err != nil {
		t.Fatalf("create leaf: %v", err)
	}

	// Missing parent.
	_, err = svc.CreateEntry(ctx, CreateEntryParams{
		System:     "srd-basic",
		EntryType:  "item",
		Name:       "Dagger",
		Data:       itemData("Dagger", 1),
		ParentGUID: "srd-basic-item-missing",
	})
	wantErr(t, err, apperrors.CodeInvalidParent)

	// Parent is not a container.
	_, err = svc.CreateEntry(ctx, CreateEntryParams{
		System:     "srd-basic",
		EntryType:  "item",
		Name:       "Dagger",
		Data:       itemData("Dagger", 1),
		ParentGUID: leaf.GUID,
	})
	wantErr(t, err, apperrors.CodeInvalidParent)

	container, err := svc.CreateEntry(ctx, CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Weapons",
		Data:      itemData("Weapons", 0),
		Category:  storage.CategoryContainer,
	})
	if err != nil {
		t.Fatalf("create container: %v", err)
	}

	child, err := svc.CreateEntry(ctx, CreateEntryParams{
		System:     "srd-basic",
		EntryType:  "item",
		Name:       "Dagger",
		Data:       itemData("Dagger", 1),
		ParentGUID: container.GUID,
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child.ParentGUID != container.GUID {
		t.Fatalf("parent_guid = %q, want %q", child.ParentGUID, container.GUID)
	}

	// Retired parent refuses new children.
	if _, err := svc.RetireEntry(ctx, container.GUID, container.Version); err != nil {
		t.Fatalf("retire container: %v", err)
	}
	_, err = svc.CreateEntry(ctx, CreateEntryParams{
		System:     "srd-basic",
		EntryType:  "item",
		Name:       "Mace",
		Data:       itemData("Mace", 4),
		ParentGUID: container.GUID,
	})
	wantErr(t, err, apperrors.CodeInvalidParent)
}

func TestUpdateEntryBumpsVersionMonotonically(t *testing.T) {
	t.Parallel()

	// A frozen clock forces the monotonic fallback.
	frozen := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	svc := newTestServiceWithClock(t, func() time.Time { return frozen })
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Club",
		Data:      itemData("Club", 2),
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}

	updated, err := svc.UpdateEntry(ctx, UpdateEntryParams{
		GUID:            entry.GUID,
		Data:            itemData("Club", 3),
		LastSeenVersion: entry.Version,
	})
	if err != nil {
		t.Fatalf("update entry: %v", err)
	}
	if !updated.Version.After(entry.Version) {
		t.Fatalf("version %v is not after %v", updated.Version, entry.Version)
	}
}

func TestUpdateEntrySameMillisecondStillConflicts(t *testing.T) {
	t.Parallel()

	// The clock advances, but by less than the millisecond the store keeps.
	now := time.Date(2026, time.March, 14, 9, 30, 0, 123_000_000, time.UTC)
	svc := newTestServiceWithClock(t, func() time.Time { return now })
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Club",
		Data:      itemData("Club", 2),
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	now = now.Add(500 * time.Microsecond)

	updated, err := svc.UpdateEntry(ctx, UpdateEntryParams{
		GUID:            entry.GUID,
		Data:            itemData("Club", 3),
		LastSeenVersion: entry.Version,
	})
	if err != nil {
		t.Fatalf("update entry: %v", err)
	}
	stored, err := svc.GetEntry(ctx, entry.GUID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if !stored.Version.After(entry.Version) {
		t.Fatalf("stored version %v is not after %v", stored.Version, entry.Version)
	}
	if !stored.Version.Equal(updated.Version) {
		t.Fatalf("stored version = %v, want %v", stored.Version, updated.Version)
	}

	// A second writer holding the same stale read must conflict, not clobber.
	_, err = svc.UpdateEntry(ctx, UpdateEntryParams{
		GUID:            entry.GUID,
		Data:            itemData("Club", 9),
		LastSeenVersion: entry.Version,
	})
	wantErr(t, err, apperrors.CodeVersionConflict)

	after, err := svc.GetEntry(ctx, entry.GUID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	weight, _ := after.Data.Field("weight")
	if weight.IntVal() != 3 {
		t.Fatalf("weight = %v, want the first writer's value 3", weight)
	}
}

func TestUpdateEntryStaleVersionConflicts(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Club",
		Data:      itemData("Club", 2),
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := svc.UpdateEntry(ctx, UpdateEntryParams{
		GUID:            entry.GUID,
		Data:            itemData("Club", 3),
		LastSeenVersion: entry.Version,
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	_, err = svc.UpdateEntry(ctx, UpdateEntryParams{
		GUID:            entry.GUID,
		Data:            itemData("Club", 4),
		LastSeenVersion: entry.Version,
	})
	wantErr(t, err, apperrors.CodeVersionConflict)
}

func TestUpdateEntryRefusesRetired(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Club",
		Data:      itemData("Club", 2),
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	retired, err := svc.RetireEntry(ctx, entry.GUID, entry.Version)
	if err != nil {
		t.Fatalf("retire entry: %v", err)
	}
	if retired.Active {
		t.Fatal("expected entry to be retired")
	}

	_, err = svc.UpdateEntry(ctx, UpdateEntryParams{
		GUID:            entry.GUID,
		Data:            itemData("Club", 3),
		LastSeenVersion: retired.Version,
	})
	wantErr(t, err, apperrors.CodeEntryRetired)

	// Retiring twice fails too.
	_, err = svc.RetireEntry(ctx, entry.GUID, retired.Version)
	wantErr(t, err, apperrors.CodeEntryRetired)
}

func TestRestoreEntry(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Club",
		Data:      itemData("Club", 2),
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	retired, err := svc.RetireEntry(ctx, entry.GUID, entry.Version)
	if err != nil {
		t.Fatalf("retire entry: %v", err)
	}

	restored, err := svc.RestoreEntry(ctx, entry.GUID, retired.Version)
	if err != nil {
		t.Fatalf("restore entry: %v", err)
	}
	if !restored.Active {
		t.Fatal("expected entry to be active after restore")
	}
	if !restored.Version.After(retired.Version) {
		t.Fatalf("version %v is not after %v", restored.Version, retired.Version)
	}
}

func TestQueryRejectsMalformedFilter(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	_, err := svc.Query(context.Background(), QueryParams{Filter: `system = `})
	wantErr(t, err, apperrors.CodeValidationFailed)
}

func TestQueryAppliesFilterExpression(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateEntry(ctx, CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Club",
		Data:      itemData("Club", 2),
	}); err != nil {
		t.Fatalf("create club: %v", err)
	}
	homebrew, err := svc.CreateEntry(ctx, CreateEntryParams{
		System:    "srd-basic",
		EntryType: "item",
		Name:      "Chair Leg",
		Data:      itemData("Chair Leg", 1),
		Homebrew:  true,
	})
	if err != nil {
		t.Fatalf("create homebrew: %v", err)
	}

	page, err := svc.Query(ctx, QueryParams{Filter: `homebrew = true`})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].GUID != homebrew.GUID {
		t.Fatalf("entries = %v, want only %q", page.Entries, homebrew.GUID)
	}
}

func TestSchemaDescriptor(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	desc, err := svc.SchemaDescriptor("srd-basic", "item")
	if err != nil {
		t.Fatalf("schema descriptor: %v", err)
	}
	if desc.System != "srd-basic" || desc.EntryType != "item" {
		t.Fatalf("descriptor = %+v", desc)
	}
	if len(desc.Fields) == 0 {
		t.Fatal("expected field descriptors")
	}
}

func itemData(name string, weight int64) document.Value {
	return document.Map(map[string]document.Value{
		"name":   document.String(name),
		"weight": document.Int(weight),
	})
}

func wantErr(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want code %s", code)
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("err = %v, want *apperrors.Error", err)
	}
	if appErr.Code != code {
		t.Fatalf("code = %s, want %s", appErr.Code, code)
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return newTestServiceWithClock(t, nil)
}

func newTestServiceWithClock(t *testing.T, now func() time.Time) *Service {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "compendium.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return NewService(store, testSchemas(t), now)
}

func testSchemas(t *testing.T) *schema.Registry {
	t.Helper()

	item := schema.New("srd-basic", "item")
	if err := item.AddField("name", fieldtype.ShortText(100), true, true); err != nil {
		t.Fatalf("add name field: %v", err)
	}
	if err := item.AddField("weight", fieldtype.Integer(fieldtype.Bound(0), nil), false, false); err != nil {
		t.Fatalf("add weight field: %v", err)
	}

	registry := schema.NewRegistry()
	if err := registry.Register(item); err != nil {
		t.Fatalf("register schema: %v", err)
	}
	return registry
}
