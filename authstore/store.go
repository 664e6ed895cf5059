package authstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoAuthorization is returned when no record exists for the requested
// (room, person) pair.
var ErrNoAuthorization = errors.New("no authorization for this person in this room")

// Store reads and writes room authorization documents in Postgres. Each room
// owns a single row whose records column is replaced wholesale on save;
// concurrent saves to the same room are last-writer-wins.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

// GetAuthorizedUsers returns all authorization records for a room, or nil when
// none exist. Absence is not an error.
func (s *Store) GetAuthorizedUsers(ctx context.Context, roomID string) ([]AuthRecord, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT records FROM auth_rooms WHERE room_id=$1`, roomID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load auth records for room %s: %w", roomID, err)
	}
	var records []AuthRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode auth records for room %s: %w", roomID, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}

// Save inserts or updates one record within its room document. An existing
// record for the same person is overwritten in place; otherwise the record is
// appended.
func (s *Store) Save(ctx context.Context, rec AuthRecord) error {
	records, err := s.GetAuthorizedUsers(ctx, rec.RoomID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range records {
		if records[i].PersonID == rec.PersonID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	if replaced {
		slog.Debug("updating authorization", slog.String("room", rec.RoomID), slog.String("person", rec.DisplayName))
	} else {
		slog.Debug("adding authorization", slog.String("room", rec.RoomID), slog.String("person", rec.DisplayName))
	}
	return s.replace(ctx, rec.RoomID, records)
}

// DeleteAll removes the room document and returns the records it held.
// Deleting an absent room is a no-op.
func (s *Store) DeleteAll(ctx context.Context, roomID string) ([]AuthRecord, error) {
	records, err := s.GetAuthorizedUsers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_rooms WHERE room_id=$1`, roomID); err != nil {
		return nil, fmt.Errorf("delete auth records for room %s: %w", roomID, err)
	}
	return records, nil
}

// DeleteOne removes a single person's record from the room document and
// returns it. Returns ErrNoAuthorization when the person has no record.
func (s *Store) DeleteOne(ctx context.Context, roomID, personID string) (*AuthRecord, error) {
	records, err := s.GetAuthorizedUsers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].PersonID == personID {
			removed := records[i]
			remaining := append(records[:i:i], records[i+1:]...)
			if len(remaining) == 0 {
				if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_rooms WHERE room_id=$1`, roomID); err != nil {
					return nil, fmt.Errorf("delete auth records for room %s: %w", roomID, err)
				}
				return &removed, nil
			}
			if err := s.replace(ctx, roomID, remaining); err != nil {
				return nil, err
			}
			return &removed, nil
		}
	}
	return nil, ErrNoAuthorization
}

// ListRoomIDs returns every room with at least one authorization record.
func (s *Store) ListRoomIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT room_id FROM auth_rooms ORDER BY room_id`)
	if err != nil {
		return nil, fmt.Errorf("list auth rooms: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) replace(ctx context.Context, roomID string, records []AuthRecord) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode auth records for room %s: %w", roomID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO auth_rooms (room_id, records, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (room_id) DO UPDATE SET records=EXCLUDED.records, updated_at=NOW()`, roomID, raw)
	if err != nil {
		return fmt.Errorf("save auth records for room %s: %w", roomID, err)
	}
	return nil
}
