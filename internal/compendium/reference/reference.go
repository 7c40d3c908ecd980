// Package reference manages compendium snapshots embedded in character
// sheets: attaching them, detecting drift against the live compendium, and
// applying updates without losing per-character state.
package reference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/lorebound/internal/compendium/document"
	"github.com/louisbranch/lorebound/internal/compendium/schema"
	"github.com/louisbranch/lorebound/internal/compendium/storage"
	apperrors "github.com/louisbranch/lorebound/internal/platform/errors"
)

// sheetReferencesKey is where snapshots live inside a character sheet.
const sheetReferencesKey = "references"

// SourceCompendium marks snapshots copied from compendium entries.
const SourceCompendium = "compendium"

// Snapshot is one frozen copy of a compendium entry inside a character
// sheet. Data holds only schema-declared fields; MutableState holds the
// per-character values that survive updates.
type Snapshot struct {
	GUID         string
	Version      time.Time
	Name         string
	Source       string
	Data         document.Value
	MutableState document.Value
}

func snapshotToValue(s Snapshot) document.Value {
	return document.Map(map[string]document.Value{
		"guid":          document.String(s.GUID),
		"version":       document.String(s.Version.UTC().Format(time.RFC3339Nano)),
		"name":          document.String(s.Name),
		"source":        document.String(s.Source),
		"data":          s.Data.Clone(),
		"mutable_state": s.MutableState.Clone(),
	})
}

func snapshotFromValue(guid string, v document.Value) (Snapshot, error) {
	snapshot := Snapshot{GUID: guid}
	if field, ok := v.Field("guid"); ok {
		snapshot.GUID = field.StringVal()
	}
	versionField, ok := v.Field("version")
	if !ok {
		return Snapshot{}, fmt.Errorf("reference %s has no version", guid)
	}
	version, err := time.Parse(time.RFC3339Nano, versionField.StringVal())
	if err != nil {
		return Snapshot{}, fmt.Errorf("reference %s version: %w", guid, err)
	}
	snapshot.Version = version.UTC()
	if field, ok := v.Field("name"); ok {
		snapshot.Name = field.StringVal()
	}
	if field, ok := v.Field("source"); ok {
		snapshot.Source = field.StringVal()
	}
	if field, ok := v.Field("data"); ok {
		snapshot.Data = field
	}
	if field, ok := v.Field("mutable_state"); ok {
		snapshot.MutableState = field
	}
	return snapshot, nil
}

// Manager attaches and reconciles entry snapshots on character sheets.
type Manager struct {
	store   storage.Store
	schemas *schema.Registry
	now     func() time.Time
}

// NewManager builds a reference manager. A nil now function defaults to
// time.Now.
func NewManager(store storage.Store, schemas *schema.Registry, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, schemas: schemas, now: now}
}

// Attach snapshots an active compendium entry into a character sheet.
// Attaching an already referenced entry fails; retired entries cannot be
// attached.
func (m *Manager) Attach(ctx context.Context, characterID, guid string) (storage.Character, error) {
	if err := ctx.Err(); err != nil {
		return storage.Character{}, err
	}
	character, err := m.getCharacter(ctx, characterID)
	if err != nil {
		return storage.Character{}, err
	}
	entry, err := m.store.GetEntry(ctx, guid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Character{}, apperrors.WithMetadata(
				apperrors.CodeNotFound,
				"entry does not exist",
				map[string]string{"guid": guid},
			)
		}
		return storage.Character{}, fmt.Errorf("get entry: %w", err)
	}
	if !entry.Active {
		return storage.Character{}, apperrors.WithMetadata(
			apperrors.CodeEntryRetired,
			"retired entries cannot be attached",
			map[string]string{"guid": guid},
		)
	}

	references := sheetReferences(character.Sheet)
	if _, ok := references.Field(guid); ok {
		return storage.Character{}, apperrors.WithMetadata(
			apperrors.CodeReferenceExists,
			"character already references this entry",
			map[string]string{"guid": guid, "character_id": characterID},
		)
	}

	snapshot, err := m.buildSnapshot(entry)
	if err != nil {
		return storage.Character{}, err
	}
	sheet := character.Sheet.WithField(
		sheetReferencesKey,
		references.WithField(guid, snapshotToValue(snapshot)),
	)
	return m.writeSheet(ctx, character, sheet)
}

// Detach removes a snapshot from a character sheet. The compendium entry is
// untouched.
func (m *Manager) Detach(ctx context.Context, characterID, guid string) (storage.Character, error) {
	if err := ctx.Err(); err != nil {
		return storage.Character{}, err
	}
	character, err := m.getCharacter(ctx, characterID)
	if err != nil {
		return storage.Character{}, err
	}
	references := sheetReferences(character.Sheet)
	if _, ok := references.Field(guid); !ok {
		return storage.Character{}, referenceNotFound(characterID, guid)
	}
	sheet := character.Sheet.WithField(sheetReferencesKey, references.WithoutField(guid))
	return m.writeSheet(ctx, character, sheet)
}

// UpdateCandidate describes one reference whose source entry moved on, or
// broke, since the snapshot was taken.
type UpdateCandidate struct {
	GUID           string
	Name           string
	CurrentVersion time.Time
	NewVersion     time.Time
	// ChangedFields lists the schema-declared fields whose values differ
	// between the snapshot and the live entry, sorted.
	ChangedFields []string
	// Broken marks references whose source entry is retired or gone.
	Broken bool
	Reason string
}

// CheckUpdates compares every snapshot on a character sheet against the live
// compendium and reports the ones that drifted. Results are sorted by GUID.
// Checking never modifies the sheet.
func (m *Manager) CheckUpdates(ctx context.Context, characterID string) ([]UpdateCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	character, err := m.getCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}

	references := sheetReferences(character.Sheet)
	var candidates []UpdateCandidate
	for _, guid := range references.Keys() {
		refValue, _ := references.Field(guid)
		snapshot, err := snapshotFromValue(guid, refValue)
		if err != nil {
			return nil, err
		}

		entry, err := m.store.GetEntry(ctx, guid)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				candidates = append(candidates, UpdateCandidate{
					GUID:           guid,
					Name:           snapshot.Name,
					CurrentVersion: snapshot.Version,
					Broken:         true,
					Reason:         "entry no longer exists",
				})
				continue
			}
			return nil, fmt.Errorf("get entry %s: %w", guid, err)
		}
		if !entry.Active {
			candidates = append(candidates, UpdateCandidate{
				GUID:           guid,
				Name:           snapshot.Name,
				CurrentVersion: snapshot.Version,
				NewVersion:     entry.Version,
				Broken:         true,
				Reason:         "entry is retired",
			})
			continue
		}
		if !entry.Version.After(snapshot.Version) {
			continue
		}

		restricted, err := m.restrictData(entry)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, UpdateCandidate{
			GUID:           guid,
			Name:           entry.Name,
			CurrentVersion: snapshot.Version,
			NewVersion:     entry.Version,
			ChangedFields:  document.ChangedFields(snapshot.Data, restricted),
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].GUID < candidates[j].GUID })
	return candidates, nil
}

// UpdateStrategy selects how a drifted reference is reconciled.
type UpdateStrategy string

const (
	// UpdateNow refreshes the snapshot from the live entry.
	UpdateNow UpdateStrategy = "update_now"
	// Ignore keeps the snapshot as is.
	Ignore UpdateStrategy = "ignore"
)

// ApplyUpdate reconciles one drifted reference. Refreshing replaces the
// snapshot data wholesale while keeping the mutable state and any
// schema-preserved paths, then records the change in the audit trail.
func (m *Manager) ApplyUpdate(ctx context.Context, characterID, guid string, strategy UpdateStrategy) (storage.Character, error) {
	if err := ctx.Err(); err != nil {
		return storage.Character{}, err
	}
	character, err := m.getCharacter(ctx, characterID)
	if err != nil {
		return storage.Character{}, err
	}
	references := sheetReferences(character.Sheet)
	refValue, ok := references.Field(guid)
	if !ok {
		return storage.Character{}, referenceNotFound(characterID, guid)
	}
	if strategy == Ignore {
		return character, nil
	}
	if strategy != UpdateNow {
		return storage.Character{}, apperrors.WithMetadata(
			apperrors.CodeValidationFailed,
			"unknown update strategy",
			map[string]string{"strategy": string(strategy)},
		)
	}

	snapshot, err := snapshotFromValue(guid, refValue)
	if err != nil {
		return storage.Character{}, err
	}
	entry, err := m.store.GetEntry(ctx, guid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Character{}, brokenReference(characterID, guid, "entry no longer exists")
		}
		return storage.Character{}, fmt.Errorf("get entry: %w", err)
	}
	if !entry.Active {
		return storage.Character{}, brokenReference(characterID, guid, "entry is retired")
	}

	restricted, err := m.restrictData(entry)
	if err != nil {
		return storage.Character{}, err
	}
	sch, err := m.schemas.Lookup(entry.System, entry.EntryType)
	if err != nil {
		return storage.Character{}, err
	}
	for _, path := range sch.PreservedPaths() {
		segments := strings.Split(path, ".")
		if old, ok := snapshot.Data.GetPath(segments...); ok {
			restricted = restricted.SetPath(segments, old)
		}
	}
	changedFields := document.ChangedFields(snapshot.Data, restricted)

	updated := Snapshot{
		GUID:         guid,
		Version:      entry.Version,
		Name:         entry.Name,
		Source:       snapshot.Source,
		Data:         restricted,
		MutableState: snapshot.MutableState,
	}
	sheet := character.Sheet.WithField(
		sheetReferencesKey,
		references.WithField(guid, snapshotToValue(updated)),
	)
	updatedAt := m.now().UTC()
	audit := storage.UpdateAudit{
		CharacterID:   characterID,
		GUID:          guid,
		OldVersion:    snapshot.Version,
		NewVersion:    entry.Version,
		ChangedFields: changedFields,
		AppliedAt:     updatedAt,
	}
	// One transaction: the refresh never commits without its audit row.
	rev, err := m.store.UpdateCharacterSheetWithAudit(ctx, character.ID, sheet, character.Rev, updatedAt, audit)
	if err != nil {
		return storage.Character{}, err
	}
	character.Sheet = sheet
	character.Rev = rev
	character.UpdatedAt = updatedAt
	return character, nil
}

// Snapshots returns the parsed snapshots on a character sheet, sorted by
// GUID.
func (m *Manager) Snapshots(ctx context.Context, characterID string) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	character, err := m.getCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}
	references := sheetReferences(character.Sheet)
	keys := references.Keys()
	snapshots := make([]Snapshot, 0, len(keys))
	for _, guid := range keys {
		refValue, _ := references.Field(guid)
		snapshot, err := snapshotFromValue(guid, refValue)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (m *Manager) buildSnapshot(entry storage.Entry) (Snapshot, error) {
	restricted, err := m.restrictData(entry)
	if err != nil {
		return Snapshot{}, err
	}
	sch, err := m.schemas.Lookup(entry.System, entry.EntryType)
	if err != nil {
		return Snapshot{}, err
	}
	mutableState := sch.InitMutableState(entry.Data)
	return Snapshot{
		GUID:         entry.GUID,
		Version:      entry.Version,
		Name:         entry.Name,
		Source:       SourceCompendium,
		Data:         restricted,
		MutableState: mutableState,
	}, nil
}

// restrictData drops anything outside the schema-declared fields so sheet
// snapshots never carry stray content.
func (m *Manager) restrictData(entry storage.Entry) (document.Value, error) {
	sch, err := m.schemas.Lookup(entry.System, entry.EntryType)
	if err != nil {
		return document.Value{}, err
	}
	return document.Restrict(entry.Data, sch.FieldNames()), nil
}

func (m *Manager) getCharacter(ctx context.Context, characterID string) (storage.Character, error) {
	character, err := m.store.GetCharacter(ctx, characterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Character{}, apperrors.WithMetadata(
				apperrors.CodeNotFound,
				"character does not exist",
				map[string]string{"character_id": characterID},
			)
		}
		return storage.Character{}, fmt.Errorf("get character: %w", err)
	}
	return character, nil
}

func (m *Manager) writeSheet(ctx context.Context, character storage.Character, sheet document.Value) (storage.Character, error) {
	updatedAt := m.now().UTC()
	rev, err := m.store.UpdateCharacterSheet(ctx, character.ID, sheet, character.Rev, updatedAt)
	if err != nil {
		return storage.Character{}, err
	}
	character.Sheet = sheet
	character.Rev = rev
	character.UpdatedAt = updatedAt
	return character, nil
}

func sheetReferences(sheet document.Value) document.Value {
	if references, ok := sheet.Field(sheetReferencesKey); ok {
		return references
	}
	return document.Map(nil)
}

func referenceNotFound(characterID, guid string) error {
	return apperrors.WithMetadata(
		apperrors.CodeReferenceNotFound,
		"character does not reference this entry",
		map[string]string{"guid": guid, "character_id": characterID},
	)
}

func brokenReference(characterID, guid, reason string) error {
	return apperrors.WithMetadata(
		apperrors.CodeBrokenReference,
		"reference source is unavailable",
		map[string]string{"guid": guid, "character_id": characterID, "reason": reason},
	)
}
