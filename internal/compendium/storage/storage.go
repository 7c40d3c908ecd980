// Package storage defines persistence contracts for compendium and
// character state.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/lorebound/internal/compendium/document"
	apperrors "github.com/louisbranch/lorebound/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing. Callers
// use this to differentiate legitimate "no such entity" states from
// transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
var ErrAlreadyExists = apperrors.New(apperrors.CodeDuplicateGUID, "record already exists")

// ErrVersionConflict indicates an optimistic write lost the race: the stored
// version changed after the caller's read. The caller re-reads and retries;
// the store never retries on its own.
var ErrVersionConflict = apperrors.New(apperrors.CodeVersionConflict, "stored version changed since read")

// Category classifies an entry's place in the hierarchy.
type Category string

const (
	// CategoryContainer permits child entries.
	CategoryContainer Category = "container"
	// CategoryDefinition is a referencable rule definition without children.
	CategoryDefinition Category = "definition"
	// CategoryLeaf is plain content.
	CategoryLeaf Category = "leaf"
)

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	switch c {
	case CategoryContainer, CategoryDefinition, CategoryLeaf:
		return true
	}
	return false
}

// Entry is one compendium record. Version is a strictly increasing
// timestamp per GUID; hierarchy links live on the record, not in data.
type Entry struct {
	GUID       string
	System     string
	EntryType  string
	Name       string
	Data       document.Value
	Version    time.Time
	ParentGUID string
	Category   Category
	Homebrew   bool
	Active     bool
	Source     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EntryPage is one page of entries ordered by name.
type EntryPage struct {
	Entries       []Entry
	NextPageToken string
}

// EntryQuery describes one query over the compendium.
type EntryQuery struct {
	System    string
	EntryType string
	// Text matches entry names case-insensitively as a substring.
	Text string
	// Homebrew filters on the homebrew flag when non-nil.
	Homebrew *bool
	// IncludeRetired includes entries with is_active = false.
	IncludeRetired bool
	// FilterClause is an optional SQL WHERE fragment (see storage/filter).
	FilterClause string
	// FilterParams are the positional parameters for the filter clause.
	FilterParams []any
	PageSize     int
	PageToken    string
}

// EntryStats contains aggregate compendium counters.
type EntryStats struct {
	TotalEntries  int64
	ByEntryType   map[string]int64
	OfficialCount int64
	HomebrewCount int64
}

// EntryStore persists compendium entries.
type EntryStore interface {
	// CreateEntry inserts a new entry. Returns ErrAlreadyExists when the
	// GUID is taken.
	CreateEntry(ctx context.Context, entry Entry) error
	// UpdateEntryData replaces an entry's data and name and bumps its
	// version, but only while the stored version still equals lastSeen.
	// Returns ErrVersionConflict otherwise.
	UpdateEntryData(ctx context.Context, guid string, name string, data document.Value, newVersion, lastSeen time.Time) error
	// SetEntryActive flips the soft-retirement flag under the same
	// optimistic version discipline as UpdateEntryData.
	SetEntryActive(ctx context.Context, guid string, active bool, newVersion, lastSeen time.Time) error
	// GetEntry retrieves an entry by GUID.
	GetEntry(ctx context.Context, guid string) (Entry, error)
	// ListEntryGUIDsWithPrefix returns all GUIDs starting with prefix,
	// sorted. Used for deterministic slug collision resolution.
	ListEntryGUIDsWithPrefix(ctx context.Context, prefix string) ([]string, error)
	// ListChildren returns the active entries whose parent is guid,
	// ordered by name.
	ListChildren(ctx context.Context, guid string) ([]Entry, error)
	// QueryEntries returns a page of entries matching the query, ordered
	// by name then GUID for stability.
	QueryEntries(ctx context.Context, q EntryQuery) (EntryPage, error)
	// EntryStatistics returns aggregate counts.
	EntryStatistics(ctx context.Context) (EntryStats, error)
}

// Character is one long-lived mutable character document. Rev is a CAS
// counter: every successful sheet write increments it.
type Character struct {
	ID         string
	CampaignID string
	Name       string
	Sheet      document.Value
	Rev        int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CharacterStore persists character documents with optimistic concurrency.
type CharacterStore interface {
	// CreateCharacter inserts a character at rev 1.
	CreateCharacter(ctx context.Context, c Character) error
	// GetCharacter retrieves a character by id.
	GetCharacter(ctx context.Context, id string) (Character, error)
	// UpdateCharacterSheet replaces the sheet if the stored rev still
	// equals expectedRev, returning the new rev. Returns
	// ErrVersionConflict when another writer got there first.
	UpdateCharacterSheet(ctx context.Context, id string, sheet document.Value, expectedRev int64, updatedAt time.Time) (int64, error)
	// UpdateCharacterSheetWithAudit replaces the sheet and appends the
	// audit record in one transaction under the same rev check, so a
	// committed refresh always has its audit row.
	UpdateCharacterSheetWithAudit(ctx context.Context, id string, sheet document.Value, expectedRev int64, updatedAt time.Time, audit UpdateAudit) (int64, error)
	// ListCharactersByCampaign returns the campaign's characters ordered
	// by name.
	ListCharactersByCampaign(ctx context.Context, campaignID string) ([]Character, error)
}

// UpdateAudit records one applied reference update for later review.
type UpdateAudit struct {
	ID            int64
	CharacterID   string
	GUID          string
	OldVersion    time.Time
	NewVersion    time.Time
	ChangedFields []string
	AppliedAt     time.Time
}

// AuditStore persists reference update audit records.
type AuditStore interface {
	AppendUpdateAudit(ctx context.Context, audit UpdateAudit) error
	// ListUpdateAudits returns a character's audit trail, newest first.
	ListUpdateAudits(ctx context.Context, characterID string, limit int) ([]UpdateAudit, error)
}

// Store is the composite persistence interface for the compendium core.
type Store interface {
	EntryStore
	CharacterStore
	AuditStore
	Close() error
}
