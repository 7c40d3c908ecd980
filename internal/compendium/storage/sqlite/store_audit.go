package sqlite

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/louisbranch/lorebound/internal/compendium/storage"
)

// AppendUpdateAudit records one applied reference update.
func (s *Store) AppendUpdateAudit(ctx context.Context, audit storage.UpdateAudit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return insertUpdateAudit(ctx, s.sqlDB, audit)
}

func insertUpdateAudit(ctx context.Context, db sqlConn, audit storage.UpdateAudit) error {
	characterID := strings.TrimSpace(audit.CharacterID)
	if characterID == "" {
		return fmt.Errorf("character id is required")
	}
	guid := strings.TrimSpace(audit.GUID)
	if guid == "" {
		return fmt.Errorf("guid is required")
	}
	changedFields := audit.ChangedFields
	if changedFields == nil {
		changedFields = []string{}
	}
	fieldsJSON, err := json.Marshal(changedFields)
	if err != nil {
		return fmt.Errorf("encode changed fields: %w", err)
	}

	_, err = db.ExecContext(
		ctx,
		`INSERT INTO update_audits (
		   character_id, guid, old_version_ms, new_version_ms,
		   changed_fields_json, applied_at
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		characterID,
		guid,
		toMillis(audit.OldVersion),
		toMillis(audit.NewVersion),
		string(fieldsJSON),
		toMillis(audit.AppliedAt),
	)
	if err != nil {
		return fmt.Errorf("append update audit: %w", err)
	}
	return nil
}

// ListUpdateAudits returns a character's audit trail, newest first.
func (s *Store) ListUpdateAudits(ctx context.Context, characterID string, limit int) ([]storage.UpdateAudit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	characterID = strings.TrimSpace(characterID)
	if characterID == "" {
		return nil, fmt.Errorf("character id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, character_id, guid, old_version_ms, new_version_ms,
		        changed_fields_json, applied_at
		   FROM update_audits
		  WHERE character_id = ?
		  ORDER BY applied_at DESC, id DESC
		  LIMIT ?`,
		characterID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list update audits: %w", err)
	}
	defer rows.Close()

	var audits []storage.UpdateAudit
	for rows.Next() {
		var audit storage.UpdateAudit
		var oldVersion int64
		var newVersion int64
		var fieldsJSON string
		var appliedAt int64
		if err := rows.Scan(
			&audit.ID,
			&audit.CharacterID,
			&audit.GUID,
			&oldVersion,
			&newVersion,
			&fieldsJSON,
			&appliedAt,
		); err != nil {
			return nil, fmt.Errorf("list update audits: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &audit.ChangedFields); err != nil {
			return nil, fmt.Errorf("decode changed fields: %w", err)
		}
		audit.OldVersion = fromMillis(oldVersion)
		audit.NewVersion = fromMillis(newVersion)
		audit.AppliedAt = fromMillis(appliedAt)
		audits = append(audits, audit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list update audits: %w", err)
	}
	return audits, nil
}
