package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/platform/logger"
	"github.com/phrazzld/matrix-outbox/internal/store"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// EchoStore implements store.LocalEchoStore and store.RoomEncryptionStore.
type EchoStore struct {
	db  store.DBTX
	now func() time.Time
}

// NewEchoStore creates an EchoStore on db.
// db may be a *sql.DB or a *sql.Tx.
func NewEchoStore(db store.DBTX) *EchoStore {
	return &EchoStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Ensure EchoStore implements both store interfaces
var (
	_ store.LocalEchoStore      = (*EchoStore)(nil)
	_ store.RoomEncryptionStore = (*EchoStore)(nil)
)

const echoColumns = `event_id, room_id, type, content, redacts, reason,
	remote_event_id, send_state, created_at, updated_at`

// Save implements store.LocalEchoStore.
func (s *EchoStore) Save(ctx context.Context, echo *domain.LocalEcho) error {
	log := logger.FromContext(ctx)

	if echo == nil {
		return fmt.Errorf("%w: nil local echo", store.ErrInvalidEntity)
	}
	if err := echo.Validate(); err != nil {
		log.Warn("refusing to save invalid local echo",
			"error", err,
			"event_id", echo.EventID)
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	content := string(echo.Content)
	if content == "" {
		content = "{}"
	}
	createdAt := echo.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	updatedAt := echo.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO local_echoes (`+echoColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		echo.EventID, echo.RoomID, echo.Type, content, echo.Redacts, echo.Reason,
		echo.RemoteEventID, string(echo.SendState),
		createdAt.UnixNano(), updatedAt.UnixNano(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return store.ErrLocalEchoExists
		}
		log.Error("failed to save local echo",
			"error", err,
			"event_id", echo.EventID,
			"room_id", echo.RoomID)
		return store.NewStoreError("local_echo", "save", echo.EventID, err)
	}

	log.Debug("saved local echo",
		"event_id", echo.EventID,
		"room_id", echo.RoomID,
		"type", echo.Type)
	return nil
}

// Get implements store.LocalEchoStore.
func (s *EchoStore) Get(ctx context.Context, eventID string) (*domain.LocalEcho, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+echoColumns+` FROM local_echoes WHERE event_id = ?`, eventID)

	echo, err := scanEcho(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrLocalEchoNotFound
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to read local echo",
			"error", err,
			"event_id", eventID)
		return nil, store.NewStoreError("local_echo", "get", eventID, err)
	}
	return echo, nil
}

// UpdateSendState implements store.LocalEchoStore.
func (s *EchoStore) UpdateSendState(ctx context.Context, eventID string, state domain.SendState) error {
	if !domain.IsValidSendState(state) {
		return fmt.Errorf("%w: %w: %q", store.ErrInvalidEntity, domain.ErrInvalidSendState, state)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE local_echoes SET send_state = ?, updated_at = ? WHERE event_id = ?`,
		string(state), s.now().UnixNano(), eventID)
	if err != nil {
		return store.NewStoreError("local_echo", "update_send_state", eventID, err)
	}
	return checkRowsAffected(result, eventID, "update_send_state")
}

// MarkSent implements store.LocalEchoStore. On a *sql.DB both updates run in
// one transaction; on a *sql.Tx they join the caller's.
func (s *EchoStore) MarkSent(ctx context.Context, eventID, remoteEventID string) error {
	db, ok := s.db.(*sql.DB)
	if !ok {
		return s.markSent(ctx, eventID, remoteEventID)
	}
	return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		return NewEchoStore(tx).markSent(ctx, eventID, remoteEventID)
	})
}

func (s *EchoStore) markSent(ctx context.Context, eventID, remoteEventID string) error {
	if err := s.SetRemoteEventID(ctx, eventID, remoteEventID); err != nil {
		return err
	}
	return s.UpdateSendState(ctx, eventID, domain.SendStateSent)
}

// SetRemoteEventID records the event id assigned by the homeserver without
// changing the send state.
func (s *EchoStore) SetRemoteEventID(ctx context.Context, eventID, remoteEventID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE local_echoes SET remote_event_id = ?, updated_at = ? WHERE event_id = ?`,
		remoteEventID, s.now().UnixNano(), eventID)
	if err != nil {
		return store.NewStoreError("local_echo", "set_remote_event_id", eventID, err)
	}
	return checkRowsAffected(result, eventID, "set_remote_event_id")
}

// Delete implements store.LocalEchoStore.
func (s *EchoStore) Delete(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM local_echoes WHERE event_id = ?`, eventID); err != nil {
		return store.NewStoreError("local_echo", "delete", eventID, err)
	}
	return nil
}

// ListByRoom implements store.LocalEchoStore.
func (s *EchoStore) ListByRoom(ctx context.Context, roomID string) ([]*domain.LocalEcho, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+echoColumns+` FROM local_echoes
		 WHERE room_id = ?
		 ORDER BY created_at, event_id`, roomID)
	if err != nil {
		return nil, store.NewStoreError("local_echo", "list", roomID, err)
	}
	defer func() { _ = rows.Close() }()

	var echoes []*domain.LocalEcho
	for rows.Next() {
		echo, err := scanEcho(rows)
		if err != nil {
			return nil, store.NewStoreError("local_echo", "list", roomID, err)
		}
		echoes = append(echoes, echo)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("local_echo", "list", roomID, err)
	}
	return echoes, nil
}

// IsRoomEncrypted implements store.RoomEncryptionStore. Unknown rooms are
// not encrypted.
func (s *EchoStore) IsRoomEncrypted(ctx context.Context, roomID string) (bool, error) {
	var encrypted bool
	err := s.db.QueryRowContext(ctx,
		`SELECT encrypted FROM room_encryption WHERE room_id = ?`, roomID).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, store.NewStoreError("room_encryption", "get", roomID, err)
	}
	return encrypted, nil
}

// SetRoomEncrypted implements store.RoomEncryptionStore.
func (s *EchoStore) SetRoomEncrypted(ctx context.Context, roomID string, encrypted bool) error {
	flag := 0
	if encrypted {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_encryption (room_id, encrypted, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (room_id) DO UPDATE SET encrypted = excluded.encrypted, updated_at = excluded.updated_at`,
		roomID, flag, s.now().UnixNano())
	if err != nil {
		return store.NewStoreError("room_encryption", "set", roomID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEcho(row rowScanner) (*domain.LocalEcho, error) {
	var (
		echo                 domain.LocalEcho
		content, state       string
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&echo.EventID, &echo.RoomID, &echo.Type, &content, &echo.Redacts, &echo.Reason,
		&echo.RemoteEventID, &state, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	echo.Content = []byte(content)
	echo.SendState = domain.SendState(state)
	echo.CreatedAt = time.Unix(0, createdAt).UTC()
	echo.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &echo, nil
}

func checkRowsAffected(result sql.Result, eventID, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("local_echo", op, eventID, err)
	}
	if n == 0 {
		return store.ErrLocalEchoNotFound
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
