package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-supportchat/internal/types"
)

const (
	roomColumns    = "id, display_name, last_message, timestamp, has_unread_admin, is_closed, has_image, push_subscriptions, created_at"
	messageColumns = "id, room_id, sender_id, display_name, is_admin, text, image, created_at"
)

// Messages sharing a timestamp are ordered by seq, their insertion order.
const (
	findLatestMessageQuery = "SELECT " + messageColumns + " FROM messages WHERE room_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1"
	listMessagesQuery      = "SELECT " + messageColumns + " FROM messages WHERE room_id = $1 ORDER BY created_at ASC, seq ASC"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner, extra ...any) (types.Room, error) {
	var (
		room types.Room
		subs []byte
	)

	dest := []any{
		&room.Id,
		&room.DisplayName,
		&room.LastMessage,
		&room.Timestamp,
		&room.HasUnreadAdmin,
		&room.IsClosed,
		&room.HasImage,
		&subs,
		&room.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return types.Room{}, err
	}

	if len(subs) > 0 {
		if err := json.Unmarshal(subs, &room.PushSubscriptions); err != nil {
			return types.Room{}, fmt.Errorf("decode push subscriptions: %w", err)
		}
	}

	return room, nil
}

func scanMessage(row rowScanner) (types.Message, error) {
	var msg types.Message
	err := row.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SenderId,
		&msg.DisplayName,
		&msg.IsAdmin,
		&msg.Text,
		&msg.Image,
		&msg.Timestamp,
	)

	return msg, err
}

func (db *PgRoomStore) UpsertRoomOnJoin(ctx context.Context, roomId, displayName string) (types.Room, bool, error) {
	now := Now()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO rooms (id, display_name, timestamp, created_at) VALUES ($1, $2, $3, $3) "+
			"ON CONFLICT (id) DO UPDATE SET display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), rooms.display_name) "+
			"RETURNING "+roomColumns+", (xmax = 0) AS inserted",
		roomId,
		displayName,
		now,
	)

	var created bool
	room, err := scanRoom(row, &created)
	if err != nil {
		return types.Room{}, false, err
	}

	return room, created, nil
}

func (db *PgRoomStore) GetRoom(ctx context.Context, roomId string) (types.Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE id = $1 LIMIT 1",
		roomId,
	)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Room{}, ErrNotFound
	}

	return room, err
}

func (db *PgRoomStore) UpdateRoomSummary(ctx context.Context, roomId string, update RoomSummaryUpdate) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE rooms SET "+
			"last_message = COALESCE($2::text, last_message), "+
			"timestamp = COALESCE($3::timestamptz, timestamp), "+
			"has_unread_admin = COALESCE($4::boolean, has_unread_admin), "+
			"has_image = COALESCE($5::boolean, has_image) "+
			"WHERE id = $1",
		roomId,
		update.LastMessage,
		update.Timestamp,
		update.HasUnreadAdmin,
		update.HasImage,
	)

	return err
}

func (db *PgRoomStore) ListRoomsByRecency(ctx context.Context) ([]types.Room, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+roomColumns+" FROM rooms ORDER BY timestamp DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]types.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgRoomStore) SetLocked(ctx context.Context, roomId string, locked bool) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE rooms SET is_closed = $2 WHERE id = $1",
		roomId,
		locked,
	)
	if err != nil {
		return err
	}

	return expectAffected(res)
}

func (db *PgRoomStore) DeleteRoom(ctx context.Context, roomId string) error {
	// single statement so the cascade needs no transaction
	_, err := db.conn.ExecContext(ctx,
		"WITH deleted_messages AS (DELETE FROM messages WHERE room_id = $1) "+
			"DELETE FROM rooms WHERE id = $1",
		roomId,
	)

	return err
}

func (db *PgRoomStore) AppendMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	msg, err := prepareMessage(msg)
	if err != nil {
		return types.Message{}, err
	}

	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO messages ("+messageColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		msg.Id,
		msg.RoomId,
		msg.SenderId,
		msg.DisplayName,
		msg.IsAdmin,
		msg.Text,
		msg.Image,
		msg.Timestamp,
	)
	if err != nil {
		return types.Message{}, err
	}

	return msg, nil
}

func (db *PgRoomStore) DeleteMessage(ctx context.Context, messageId string) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"DELETE FROM messages WHERE id = $1 RETURNING "+messageColumns,
		messageId,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, ErrNotFound
	}

	return msg, err
}

func (db *PgRoomStore) FindLatestMessage(ctx context.Context, roomId string) (types.Message, bool, error) {
	row := db.conn.QueryRowContext(ctx,
		findLatestMessageQuery,
		roomId,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, false, nil
	}
	if err != nil {
		return types.Message{}, false, err
	}

	return msg, true, nil
}

func (db *PgRoomStore) ListMessages(ctx context.Context, roomId string) ([]types.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		listMessagesQuery,
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]types.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgRoomStore) AddRoomSubscription(ctx context.Context, roomId string, sub types.PushSubscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}

	// drop any entry with the same endpoint, then append the new one
	res, err := db.conn.ExecContext(ctx,
		"UPDATE rooms SET push_subscriptions = ("+
			"SELECT COALESCE(jsonb_agg(s), '[]'::jsonb) FROM jsonb_array_elements(push_subscriptions) AS s "+
			"WHERE s->>'endpoint' <> $2"+
			") || jsonb_build_array($3::jsonb) WHERE id = $1",
		roomId,
		sub.Endpoint,
		string(raw),
	)
	if err != nil {
		return err
	}

	return expectAffected(res)
}

func (db *PgRoomStore) RemoveRoomSubscription(ctx context.Context, roomId, endpoint string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE rooms SET push_subscriptions = ("+
			"SELECT COALESCE(jsonb_agg(s), '[]'::jsonb) FROM jsonb_array_elements(push_subscriptions) AS s "+
			"WHERE s->>'endpoint' <> $2"+
			") WHERE id = $1",
		roomId,
		endpoint,
	)

	return err
}

func (db *PgRoomStore) SaveAdminSubscription(ctx context.Context, sub types.PushSubscription) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO admin_subscriptions (endpoint, p256dh, auth, expiration_time, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) "+
			"ON CONFLICT (endpoint) DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth, "+
			"expiration_time = EXCLUDED.expiration_time, updated_at = EXCLUDED.updated_at",
		sub.Endpoint,
		sub.Keys.P256dh,
		sub.Keys.Auth,
		sub.ExpirationTime,
		now,
	)

	return err
}

func (db *PgRoomStore) ListAdminSubscriptions(ctx context.Context) ([]types.PushSubscription, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT endpoint, p256dh, auth, expiration_time FROM admin_subscriptions ORDER BY created_at ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]types.PushSubscription, 0)
	for rows.Next() {
		var (
			sub types.PushSubscription
			exp sql.NullInt64
		)
		if err := rows.Scan(&sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth, &exp); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if exp.Valid {
			sub.ExpirationTime = &exp.Int64
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func (db *PgRoomStore) RemoveAdminSubscription(ctx context.Context, endpoint string) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM admin_subscriptions WHERE endpoint = $1",
		endpoint,
	)

	return err
}

func (db *PgRoomStore) GetAdminByEmail(ctx context.Context, email string) (Admin, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, email, password_hash, display_name, created_at FROM admins "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var admin Admin
	err := row.Scan(
		&admin.Id,
		&admin.Email,
		&admin.PasswordHash,
		&admin.DisplayName,
		&admin.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Admin{}, ErrNotFound
	}

	return admin, err
}

func (db *PgRoomStore) CreateAdmin(ctx context.Context, params CreateAdminParams) (Admin, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO admins (email, password_hash, display_name, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, email, password_hash, display_name, created_at",
		params.Email,
		params.PasswordHash,
		params.DisplayName,
		time.Now().UTC(),
	)

	var admin Admin
	err := row.Scan(
		&admin.Id,
		&admin.Email,
		&admin.PasswordHash,
		&admin.DisplayName,
		&admin.CreatedAt,
	)

	return admin, err
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
