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
	apperrors "github.com/louisbranch/lorebound/internal/platform/errors"
)

// CreateCharacter inserts one character record at revision 1.
func (s *Store) CreateCharacter(ctx context.Context, c storage.Character) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(c.ID)
	if id == "" {
		return fmt.Errorf("character id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return apperrors.New(apperrors.CodeCharacterEmptyName, "character name is required")
	}
	sheetJSON, err := c.Sheet.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode character sheet: %w", err)
	}
	createdAt := c.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := c.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO characters (
		   id, campaign_id, name, sheet_json, rev, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, 1, ?, ?)`,
		id,
		c.CampaignID,
		c.Name,
		string(sheetJSON),
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create character: %w", err)
	}
	return nil
}

// GetCharacter returns one character by id.
func (s *Store) GetCharacter(ctx context.Context, id string) (storage.Character, error) {
	if err := ctx.Err(); err != nil {
		return storage.Character{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Character{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Character{}, fmt.Errorf("character id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, campaign_id, name, sheet_json, rev, created_at, updated_at
		   FROM characters
		  WHERE id = ?`,
		id,
	)
	character, err := scanCharacter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Character{}, storage.ErrNotFound
		}
		return storage.Character{}, fmt.Errorf("get character: %w", err)
	}
	return character, nil
}

// UpdateCharacterSheet replaces the sheet when the stored revision still
// equals expectedRev and returns the new revision.
func (s *Store) UpdateCharacterSheet(ctx context.Context, id string, sheet document.Value, expectedRev int64, updatedAt time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, fmt.Errorf("character id is required")
	}
	sheetJSON, err := sheet.MarshalJSON()
	if err != nil {
		return 0, fmt.Errorf("encode character sheet: %w", err)
	}

	if err := updateSheet(ctx, s.sqlDB, id, string(sheetJSON), expectedRev, updatedAt); err != nil {
		return 0, err
	}
	return expectedRev + 1, nil
}

// UpdateCharacterSheetWithAudit replaces the sheet and records the audit
// row in one transaction, so a committed refresh is always audited and a
// failed audit never leaves a silent refresh behind.
func (s *Store) UpdateCharacterSheetWithAudit(ctx context.Context, id string, sheet document.Value, expectedRev int64, updatedAt time.Time, audit storage.UpdateAudit) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, fmt.Errorf("character id is required")
	}
	sheetJSON, err := sheet.MarshalJSON()
	if err != nil {
		return 0, fmt.Errorf("encode character sheet: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateSheet(ctx, tx, id, string(sheetJSON), expectedRev, updatedAt); err != nil {
		return 0, err
	}
	if err := insertUpdateAudit(ctx, tx, audit); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sheet update: %w", err)
	}
	return expectedRev + 1, nil
}

// sqlConn is satisfied by both *sql.DB and *sql.Tx.
type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func updateSheet(ctx context.Context, db sqlConn, id, sheetJSON string, expectedRev int64, updatedAt time.Time) error {
	result, err := db.ExecContext(
		ctx,
		`UPDATE characters
		    SET sheet_json = ?, rev = rev + 1, updated_at = ?
		  WHERE id = ? AND rev = ?`,
		sheetJSON,
		toMillis(updatedAt),
		id,
		expectedRev,
	)
	if err != nil {
		return fmt.Errorf("update character sheet: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var found int
		row := db.QueryRowContext(ctx, `SELECT 1 FROM characters WHERE id = ?`, id)
		if err := row.Scan(&found); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("check character: %w", err)
		}
		return storage.ErrVersionConflict
	}
	return nil
}

// ListCharactersByCampaign returns the campaign's characters ordered by name.
func (s *Store) ListCharactersByCampaign(ctx context.Context, campaignID string) ([]storage.Character, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, fmt.Errorf("campaign id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, campaign_id, name, sheet_json, rev, created_at, updated_at
		   FROM characters
		  WHERE campaign_id = ?
		  ORDER BY name ASC, id ASC`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var characters []storage.Character
	for rows.Next() {
		character, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("list characters: %w", err)
		}
		characters = append(characters, character)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	return characters, nil
}

func scanCharacter(row rowScanner) (storage.Character, error) {
	var character storage.Character
	var sheetJSON string
	var createdAt int64
	var updatedAt int64
	if err := row.Scan(
		&character.ID,
		&character.CampaignID,
		&character.Name,
		&sheetJSON,
		&character.Rev,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.Character{}, err
	}
	sheet, err := document.FromJSON([]byte(sheetJSON))
	if err != nil {
		return storage.Character{}, fmt.Errorf("decode character sheet: %w", err)
	}
	character.Sheet = sheet
	character.CreatedAt = fromMillis(createdAt)
	character.UpdatedAt = fromMillis(updatedAt)
	return character, nil
}
