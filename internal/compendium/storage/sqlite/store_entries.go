package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/lorebound/internal/compendium/document"
	"github.com/louisbranch/lorebound/internal/compendium/storage"
)

// CreateEntry inserts one compendium entry record.
func (s *Store) CreateEntry(ctx context.Context, entry storage.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	guid := strings.TrimSpace(entry.GUID)
	if guid == "" {
		return fmt.Errorf("guid is required")
	}
	if strings.TrimSpace(entry.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !entry.Category.Valid() {
		return fmt.Errorf("category %q is not valid", entry.Category)
	}
	dataJSON, err := entry.Data.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode entry data: %w", err)
	}
	createdAt := entry.CreatedAt.UTC()
	updatedAt := entry.UpdatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO entries (
		   guid, system, entry_type, name, data_json, version_ms,
		   parent_guid, category, homebrew, is_active, source,
		   created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		guid,
		entry.System,
		entry.EntryType,
		entry.Name,
		string(dataJSON),
		toMillis(entry.Version),
		entry.ParentGUID,
		string(entry.Category),
		boolToInt(entry.Homebrew),
		boolToInt(entry.Active),
		entry.Source,
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create entry: %w", err)
	}
	return nil
}

// UpdateEntryData replaces an entry's name and data under optimistic version
// control.
func (s *Store) UpdateEntryData(ctx context.Context, guid string, name string, data document.Value, newVersion, lastSeen time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return fmt.Errorf("guid is required")
	}
	dataJSON, err := data.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode entry data: %w", err)
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE entries
		    SET name = ?, data_json = ?, version_ms = ?, updated_at = ?
		  WHERE guid = ? AND version_ms = ?`,
		name,
		string(dataJSON),
		toMillis(newVersion),
		toMillis(newVersion),
		guid,
		toMillis(lastSeen),
	)
	if err != nil {
		return fmt.Errorf("update entry data: %w", err)
	}
	return s.checkVersionedWrite(ctx, result, guid)
}

// SetEntryActive flips the soft-retirement flag under optimistic version
// control.
func (s *Store) SetEntryActive(ctx context.Context, guid string, active bool, newVersion, lastSeen time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return fmt.Errorf("guid is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE entries
		    SET is_active = ?, version_ms = ?, updated_at = ?
		  WHERE guid = ? AND version_ms = ?`,
		boolToInt(active),
		toMillis(newVersion),
		toMillis(newVersion),
		guid,
		toMillis(lastSeen),
	)
	if err != nil {
		return fmt.Errorf("set entry active: %w", err)
	}
	return s.checkVersionedWrite(ctx, result, guid)
}

// checkVersionedWrite distinguishes a lost optimistic race from a missing row
// after an UPDATE touched nothing.
func (s *Store) checkVersionedWrite(ctx context.Context, result sql.Result, guid string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var found int
	row := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM entries WHERE guid = ?`, guid)
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("check entry: %w", err)
	}
	return storage.ErrVersionConflict
}

// GetEntry returns one entry by GUID.
func (s *Store) GetEntry(ctx context.Context, guid string) (storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Entry{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Entry{}, fmt.Errorf("storage is not configured")
	}
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return storage.Entry{}, fmt.Errorf("guid is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT guid, system, entry_type, name, data_json, version_ms,
		        parent_guid, category, homebrew, is_active, source,
		        created_at, updated_at
		   FROM entries
		  WHERE guid = ?`,
		guid,
	)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Entry{}, storage.ErrNotFound
		}
		return storage.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// ListEntryGUIDsWithPrefix returns all GUIDs starting with prefix, sorted.
func (s *Store) ListEntryGUIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(prefix) == "" {
		return nil, fmt.Errorf("prefix is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT guid FROM entries WHERE guid >= ? AND guid < ? ORDER BY guid ASC`,
		prefix,
		prefix+"￿",
	)
	if err != nil {
		return nil, fmt.Errorf("list entry guids: %w", err)
	}
	defer rows.Close()

	var guids []string
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return nil, fmt.Errorf("list entry guids: %w", err)
		}
		guids = append(guids, guid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entry guids: %w", err)
	}
	return guids, nil
}

// ListChildren returns the active entries whose parent is guid, ordered by name.
func (s *Store) ListChildren(ctx context.Context, guid string) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return nil, fmt.Errorf("guid is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT guid, system, entry_type, name, data_json, version_ms,
		        parent_guid, category, homebrew, is_active, source,
		        created_at, updated_at
		   FROM entries
		  WHERE parent_guid = ? AND is_active = 1
		  ORDER BY name ASC, guid ASC`,
		guid,
	)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var entries []storage.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list children: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return entries, nil
}

// QueryEntries returns one page of entries matching the query, ordered by
// name then GUID.
func (s *Store) QueryEntries(ctx context.Context, q storage.EntryQuery) (storage.EntryPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EntryPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EntryPage{}, fmt.Errorf("storage is not configured")
	}
	if q.PageSize <= 0 {
		return storage.EntryPage{}, fmt.Errorf("page size must be greater than zero")
	}

	conditions := make([]string, 0, 8)
	params := make([]any, 0, 8)
	if q.System != "" {
		conditions = append(conditions, "system = ?")
		params = append(params, q.System)
	}
	if q.EntryType != "" {
		conditions = append(conditions, "entry_type = ?")
		params = append(params, q.EntryType)
	}
	if q.Text != "" {
		conditions = append(conditions, "name LIKE ? ESCAPE '\\'")
		params = append(params, "%"+escapeLike(q.Text)+"%")
	}
	if q.Homebrew != nil {
		conditions = append(conditions, "homebrew = ?")
		params = append(params, boolToInt(*q.Homebrew))
	}
	if !q.IncludeRetired {
		conditions = append(conditions, "is_active = 1")
	}
	if strings.TrimSpace(q.FilterClause) != "" {
		conditions = append(conditions, "("+q.FilterClause+")")
		params = append(params, q.FilterParams...)
	}

	pageToken := strings.TrimSpace(q.PageToken)
	if pageToken != "" {
		var tokenName string
		row := s.sqlDB.QueryRowContext(ctx, `SELECT name FROM entries WHERE guid = ?`, pageToken)
		if err := row.Scan(&tokenName); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.EntryPage{}, fmt.Errorf("page token %q is not valid", pageToken)
			}
			return storage.EntryPage{}, fmt.Errorf("resolve page token: %w", err)
		}
		conditions = append(conditions, "(name > ? OR (name = ? AND guid > ?))")
		params = append(params, tokenName, tokenName, pageToken)
	}

	query := `SELECT guid, system, entry_type, name, data_json, version_ms,
	                 parent_guid, category, homebrew, is_active, source,
	                 created_at, updated_at
	            FROM entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY name ASC, guid ASC LIMIT ?"
	params = append(params, q.PageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, query, params...)
	if err != nil {
		return storage.EntryPage{}, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	page := storage.EntryPage{
		Entries: make([]storage.Entry, 0, q.PageSize),
	}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return storage.EntryPage{}, fmt.Errorf("query entries: %w", err)
		}
		page.Entries = append(page.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return storage.EntryPage{}, fmt.Errorf("query entries: %w", err)
	}
	if len(page.Entries) > q.PageSize {
		page.NextPageToken = page.Entries[q.PageSize-1].GUID
		page.Entries = page.Entries[:q.PageSize]
	}
	return page, nil
}

// EntryStatistics returns aggregate counts over active entries.
func (s *Store) EntryStatistics(ctx context.Context) (storage.EntryStats, error) {
	if err := ctx.Err(); err != nil {
		return storage.EntryStats{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EntryStats{}, fmt.Errorf("storage is not configured")
	}

	stats := storage.EntryStats{ByEntryType: make(map[string]int64)}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT entry_type, homebrew, COUNT(*)
		   FROM entries
		  WHERE is_active = 1
		  GROUP BY entry_type, homebrew`,
	)
	if err != nil {
		return storage.EntryStats{}, fmt.Errorf("entry statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entryType string
		var homebrew int64
		var count int64
		if err := rows.Scan(&entryType, &homebrew, &count); err != nil {
			return storage.EntryStats{}, fmt.Errorf("entry statistics: %w", err)
		}
		stats.TotalEntries += count
		stats.ByEntryType[entryType] += count
		if homebrew != 0 {
			stats.HomebrewCount += count
		} else {
			stats.OfficialCount += count
		}
	}
	if err := rows.Err(); err != nil {
		return storage.EntryStats{}, fmt.Errorf("entry statistics: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (storage.Entry, error) {
	var entry storage.Entry
	var dataJSON string
	var versionMillis int64
	var category string
	var homebrew int64
	var active int64
	var createdAt int64
	var updatedAt int64
	if err := row.Scan(
		&entry.GUID,
		&entry.System,
		&entry.EntryType,
		&entry.Name,
		&dataJSON,
		&versionMillis,
		&entry.ParentGUID,
		&category,
		&homebrew,
		&active,
		&entry.Source,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.Entry{}, err
	}
	data, err := document.FromJSON([]byte(dataJSON))
	if err != nil {
		return storage.Entry{}, fmt.Errorf("decode entry data: %w", err)
	}
	entry.Data = data
	entry.Version = fromMillis(versionMillis)
	entry.Category = storage.Category(category)
	entry.Homebrew = homebrew != 0
	entry.Active = active != 0
	entry.CreatedAt = fromMillis(createdAt)
	entry.UpdatedAt = fromMillis(updatedAt)
	return entry, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func escapeLike(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, "%", `\%`)
	value = strings.ReplaceAll(value, "_", `\_`)
	return value
}
