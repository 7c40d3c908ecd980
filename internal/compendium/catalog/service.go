// Package catalog implements the compendium entry lifecycle: creation with
// stable GUID derivation, schema-validated updates, soft retirement, and
// filtered queries.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/lorebound/internal/compendium/document"
	"github.com/louisbranch/lorebound/internal/compendium/fieldtype"
	"github.com/louisbranch/lorebound/internal/compendium/schema"
	"github.com/louisbranch/lorebound/internal/compendium/storage"
	"github.com/louisbranch/lorebound/internal/compendium/storage/filter"
	apperrors "github.com/louisbranch/lorebound/internal/platform/errors"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service coordinates schema validation and entry persistence.
type Service struct {
	store   storage.Store
	schemas *schema.Registry
	now     func() time.Time
}

// NewService builds a catalog service. A nil now function defaults to
// time.Now.
func NewService(store storage.Store, schemas *schema.Registry, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, schemas: schemas, now: now}
}

// CreateEntryParams describes one new compendium entry.
type CreateEntryParams struct {
	System     string
	EntryType  string
	Name       string
	Data       document.Value
	ParentGUID string
	Category   storage.Category
	Homebrew   bool
	Source     string
}

// CreateEntry validates and persists a new entry, deriving a GUID from the
// entry's system, type, and slugified name. Name collisions get the smallest
// unused numeric suffix.
func (s *Service) CreateEntry(ctx context.Context, params CreateEntryParams) (storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Entry{}, err
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return storage.Entry{}, apperrors.New(apperrors.CodeValidationFailed, "entry name is required")
	}
	sch, err := s.schemas.Lookup(params.System, params.EntryType)
	if err != nil {
		return storage.Entry{}, err
	}
	if err := validationError(sch.Validate(params.Data)); err != nil {
		return storage.Entry{}, err
	}

	category := params.Category
	if category == "" {
		category = storage.CategoryLeaf
	}
	if !category.Valid() {
		return storage.Entry{}, apperrors.WithMetadata(
			apperrors.CodeValidationFailed,
			"unknown entry category",
			map[string]string{"category": string(category)},
		)
	}

	parentGUID := strings.TrimSpace(params.ParentGUID)
	if parentGUID != "" {
		if err := s.validateParent(ctx, params.System, parentGUID); err != nil {
			return storage.Entry{}, err
		}
	}

	guid, err := s.resolveGUID(ctx, params.System, params.EntryType, name)
	if err != nil {
		return storage.Entry{}, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	entry := storage.Entry{
		GUID:       guid,
		System:     params.System,
		EntryType:  params.EntryType,
		Name:       name,
		Data:       params.Data,
		Version:    now,
		ParentGUID: parentGUID,
		Category:   category,
		Homebrew:   params.Homebrew,
		Active:     true,
		Source:     params.Source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateEntry(ctx, entry); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return storage.Entry{}, apperrors.WithMetadata(
				apperrors.CodeDuplicateGUID,
				"entry identifier was claimed concurrently",
				map[string]string{"guid": guid},
			)
		}
		return storage.Entry{}, fmt.Errorf("create entry: %w", err)
	}
	return entry, nil
}

// resolveGUID derives the base GUID and picks the smallest unused collision
// suffix when the base is taken.
func (s *Service) resolveGUID(ctx context.Context, system, entryType, name string) (string, error) {
	base, err := EntryGUID(system, entryType, name)
	if err != nil {
		return "", apperrors.New(apperrors.CodeValidationFailed, err.Error())
	}
	existing, err := s.store.ListEntryGUIDsWithPrefix(ctx, base)
	if err != nil {
		return "", fmt.Errorf("list entry guids: %w", err)
	}
	taken := make(map[string]struct{}, len(existing))
	for _, guid := range existing {
		taken[guid] = struct{}{}
	}
	if _, ok := taken[base]; !ok {
		return base, nil
	}
	for i := 2; i <= maxSlugAttempts; i++ {
		candidate := base + "-" + strconv.Itoa(i)
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
	return "", apperrors.WithMetadata(
		apperrors.CodeDuplicateGUID,
		"identifier suffix space exhausted",
		map[string]string{"guid": base},
	)
}

func (s *Service) validateParent(ctx context.Context, system, parentGUID string) error {
	parent, err := s.store.GetEntry(ctx, parentGUID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.WithMetadata(
				apperrors.CodeInvalidParent,
				"parent entry does not exist",
				map[string]string{"parent_guid": parentGUID},
			)
		}
		return fmt.Errorf("get parent entry: %w", err)
	}
	if !parent.Active {
		return apperrors.WithMetadata(
			apperrors.CodeInvalidParent,
			"parent entry is retired",
			map[string]string{"parent_guid": parentGUID},
		)
	}
	if parent.Category != storage.CategoryContainer {
		return apperrors.WithMetadata(
			apperrors.CodeInvalidParent,
			"parent entry is not a container",
			map[string]string{"parent_guid": parentGUID, "category": string(parent.Category)},
		)
	}
	if parent.System != system {
		return apperrors.WithMetadata(
			apperrors.CodeInvalidParent,
			"parent entry belongs to a different system",
			map[string]string{"parent_guid": parentGUID, "parent_system": parent.System},
		)
	}
	return nil
}

// UpdateEntryParams describes one full-content replacement of an entry.
type UpdateEntryParams struct {
	GUID string
	// Name optionally renames the entry; empty keeps the current name.
	Name string
	Data document.Value
	// LastSeenVersion is the version the caller read. The update is
	// rejected with a version conflict when the stored version moved on.
	LastSeenVersion time.Time
}

// UpdateEntry replaces an entry's content wholesale and bumps its version.
// The new version is strictly greater than the previous one even when the
// wall clock has not advanced.
func (s *Service) UpdateEntry(ctx context.Context, params UpdateEntryParams) (storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Entry{}, err
	}
	entry, err := s.getEntry(ctx, params.GUID)
	if err != nil {
		return storage.Entry{}, err
	}
	if !entry.Active {
		return storage.Entry{}, apperrors.WithMetadata(
			apperrors.CodeEntryRetired,
			"entry is retired",
			map[string]string{"guid": entry.GUID},
		)
	}
	sch, err := s.schemas.Lookup(entry.System, entry.EntryType)
	if err != nil {
		return storage.Entry{}, err
	}
	if err := validationError(sch.Validate(params.Data)); err != nil {
		return storage.Entry{}, err
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = entry.Name
	}
	newVersion := s.nextVersion(params.LastSeenVersion)
	if err := s.store.UpdateEntryData(ctx, entry.GUID, name, params.Data, newVersion, params.LastSeenVersion); err != nil {
		return storage.Entry{}, err
	}
	entry.Name = name
	entry.Data = params.Data
	entry.Version = newVersion
	entry.UpdatedAt = newVersion
	return entry, nil
}

// RetireEntry soft-deletes an entry. Existing references keep their
// snapshots; new references and updates are refused.
func (s *Service) RetireEntry(ctx context.Context, guid string, lastSeenVersion time.Time) (storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Entry{}, err
	}
	entry, err := s.getEntry(ctx, guid)
	if err != nil {
		return storage.Entry{}, err
	}
	if !entry.Active {
		return storage.Entry{}, apperrors.WithMetadata(
			apperrors.CodeEntryRetired,
			"entry is already retired",
			map[string]string{"guid": entry.GUID},
		)
	}
	newVersion := s.nextVersion(lastSeenVersion)
	if err := s.store.SetEntryActive(ctx, entry.GUID, false, newVersion, lastSeenVersion); err != nil {
		return storage.Entry{}, err
	}
	entry.Active = false
	entry.Version = newVersion
	entry.UpdatedAt = newVersion
	return entry, nil
}

// RestoreEntry reverses a retirement.
func (s *Service) RestoreEntry(ctx context.Context, guid string, lastSeenVersion time.Time) (storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Entry{}, err
	}
	entry, err := s.getEntry(ctx, guid)
	if err != nil {
		return storage.Entry{}, err
	}
	if entry.Active {
		return entry, nil
	}
	newVersion := s.nextVersion(lastSeenVersion)
	if err := s.store.SetEntryActive(ctx, entry.GUID, true, newVersion, lastSeenVersion); err != nil {
		return storage.Entry{}, err
	}
	entry.Active = true
	entry.Version = newVersion
	entry.UpdatedAt = newVersion
	return entry, nil
}

// GetEntry returns one entry by GUID.
func (s *Service) GetEntry(ctx context.Context, guid string) (storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Entry{}, err
	}
	return s.getEntry(ctx, guid)
}

func (s *Service) getEntry(ctx context.Context, guid string) (storage.Entry, error) {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return storage.Entry{}, apperrors.New(apperrors.CodeValidationFailed, "guid is required")
	}
	entry, err := s.store.GetEntry(ctx, guid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Entry{}, apperrors.WithMetadata(
				apperrors.CodeNotFound,
				"entry does not exist",
				map[string]string{"guid": guid},
			)
		}
		return storage.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// QueryParams describes one compendium search.
type QueryParams struct {
	System    string
	EntryType string
	// Text matches entry names case-insensitively.
	Text string
	// Homebrew restricts to homebrew or official entries when non-nil.
	Homebrew *bool
	// IncludeRetired includes soft-deleted entries.
	IncludeRetired bool
	// Filter is an AIP-160 expression over system, entry_type, name,
	// category, source, homebrew, is_active, and version.
	Filter    string
	PageSize  int
	PageToken string
}

// Query returns one page of entries matching the search, ordered by name.
func (s *Service) Query(ctx context.Context, params QueryParams) (storage.EntryPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EntryPage{}, err
	}
	cond, err := filter.ParseEntryFilter(params.Filter)
	if err != nil {
		return storage.EntryPage{}, apperrors.WithMetadata(
			apperrors.CodeValidationFailed,
			"filter expression is not valid",
			map[string]string{"filter": params.Filter, "reason": err.Error()},
		)
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.store.QueryEntries(ctx, storage.EntryQuery{
		System:         params.System,
		EntryType:      params.EntryType,
		Text:           params.Text,
		Homebrew:       params.Homebrew,
		IncludeRetired: params.IncludeRetired,
		FilterClause:   cond.Clause,
		FilterParams:   cond.Params,
		PageSize:       pageSize,
		PageToken:      params.PageToken,
	})
}

// Stats returns aggregate counts over active entries.
func (s *Service) Stats(ctx context.Context) (storage.EntryStats, error) {
	if err := ctx.Err(); err != nil {
		return storage.EntryStats{}, err
	}
	return s.store.EntryStatistics(ctx)
}

// SchemaDescriptor returns the declared field descriptors for a system and
// entry type pair.
func (s *Service) SchemaDescriptor(system, entryType string) (schema.Descriptor, error) {
	sch, err := s.schemas.Lookup(system, entryType)
	if err != nil {
		return schema.Descriptor{}, err
	}
	return sch.Describe(), nil
}

// Schema returns the schema registered for a system and entry type pair.
func (s *Service) Schema(system, entryType string) (*schema.Schema, error) {
	return s.schemas.Lookup(system, entryType)
}

// nextVersion returns a version strictly after lastSeen at the stored
// millisecond granularity, even when the clock has not moved past it.
// Sub-millisecond precision is dropped up front so the in-memory version
// never compares differently from the persisted one.
func (s *Service) nextVersion(lastSeen time.Time) time.Time {
	lastSeen = lastSeen.UTC().Truncate(time.Millisecond)
	version := s.now().UTC().Truncate(time.Millisecond)
	if !version.After(lastSeen) {
		version = lastSeen.Add(time.Millisecond)
	}
	return version
}

func validationError(issues []fieldtype.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	metadata := make(map[string]string, len(issues)+1)
	metadata["issue_count"] = strconv.Itoa(len(issues))
	for _, issue := range issues {
		metadata[issue.Field] = issue.Code + ": " + issue.Message
	}
	return apperrors.WithMetadata(apperrors.CodeValidationFailed, "entry data failed schema validation", metadata)
}
