package database

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-supportchat/internal/types"
)

// MemoryRoomStore keeps everything in-process. Every method takes the lock
// for its whole duration, which gives the same per-operation atomicity as
// the single-statement Postgres queries.
type MemoryRoomStore struct {
	mu        sync.RWMutex
	rooms     map[string]types.Room
	messages  map[string][]types.Message // room id -> messages in append order
	msgRoom   map[string]string          // message id -> room id
	adminSubs []types.PushSubscription
	admins    map[string]Admin // email -> admin
	nextAdmin int
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms:    make(map[string]types.Room),
		messages: make(map[string][]types.Message),
		msgRoom:  make(map[string]string),
		admins:   make(map[string]Admin),
	}
}

func (m *MemoryRoomStore) Ping(context.Context) error { return nil }

func (m *MemoryRoomStore) Close() error { return nil }

func (m *MemoryRoomStore) UpsertRoomOnJoin(_ context.Context, roomId, displayName string) (types.Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if ok {
		if displayName != "" {
			room.DisplayName = displayName
			m.rooms[roomId] = room
		}
		return cloneRoom(room), false, nil
	}

	now := Now()
	room = types.Room{
		Id:          roomId,
		DisplayName: displayName,
		Timestamp:   now,
		CreatedAt:   now,
	}
	m.rooms[roomId] = room

	return cloneRoom(room), true, nil
}

func (m *MemoryRoomStore) GetRoom(_ context.Context, roomId string) (types.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return types.Room{}, ErrNotFound
	}

	return cloneRoom(room), nil
}

func (m *MemoryRoomStore) UpdateRoomSummary(_ context.Context, roomId string, update RoomSummaryUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return nil
	}

	if update.LastMessage != nil {
		room.LastMessage = *update.LastMessage
	}
	if update.Timestamp != nil {
		room.Timestamp = *update.Timestamp
	}
	if update.HasUnreadAdmin != nil {
		room.HasUnreadAdmin = *update.HasUnreadAdmin
	}
	if update.HasImage != nil {
		room.HasImage = *update.HasImage
	}
	m.rooms[roomId] = room

	return nil
}

func (m *MemoryRoomStore) ListRoomsByRecency(context.Context) ([]types.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]types.Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, cloneRoom(room))
	}

	slices.SortStableFunc(rooms, func(a, b types.Room) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Id, b.Id)
	})

	return rooms, nil
}

func (m *MemoryRoomStore) SetLocked(_ context.Context, roomId string, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return ErrNotFound
	}
	room.IsClosed = locked
	m.rooms[roomId] = room

	return nil
}

func (m *MemoryRoomStore) DeleteRoom(_ context.Context, roomId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages[roomId] {
		delete(m.msgRoom, msg.Id)
	}
	delete(m.messages, roomId)
	delete(m.rooms, roomId)

	return nil
}

func (m *MemoryRoomStore) AppendMessage(_ context.Context, msg types.Message) (types.Message, error) {
	msg, err := prepareMessage(msg)
	if err != nil {
		return types.Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[msg.RoomId] = append(m.messages[msg.RoomId], msg)
	m.msgRoom[msg.Id] = msg.RoomId

	return msg, nil
}

func (m *MemoryRoomStore) DeleteMessage(_ context.Context, messageId string) (types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomId, ok := m.msgRoom[messageId]
	if !ok {
		return types.Message{}, ErrNotFound
	}

	msgs := m.messages[roomId]
	for i, msg := range msgs {
		if msg.Id == messageId {
			m.messages[roomId] = slices.Delete(msgs, i, i+1)
			delete(m.msgRoom, messageId)
			return msg, nil
		}
	}

	return types.Message{}, ErrNotFound
}

func (m *MemoryRoomStore) FindLatestMessage(_ context.Context, roomId string) (types.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		latest types.Message
		found  bool
	)
	for _, msg := range m.messages[roomId] {
		if !found || !msg.Timestamp.Before(latest.Timestamp) {
			latest = msg
			found = true
		}
	}

	return latest, found, nil
}

func (m *MemoryRoomStore) ListMessages(_ context.Context, roomId string) ([]types.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := slices.Clone(m.messages[roomId])
	if msgs == nil {
		msgs = make([]types.Message, 0)
	}
	slices.SortStableFunc(msgs, func(a, b types.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	return msgs, nil
}

func (m *MemoryRoomStore) AddRoomSubscription(_ context.Context, roomId string, sub types.PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return ErrNotFound
	}
	room.PushSubscriptions = upsertSubscription(room.PushSubscriptions, sub)
	m.rooms[roomId] = room

	return nil
}

func (m *MemoryRoomStore) RemoveRoomSubscription(_ context.Context, roomId, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return nil
	}
	room.PushSubscriptions = removeSubscription(room.PushSubscriptions, endpoint)
	m.rooms[roomId] = room

	return nil
}

func (m *MemoryRoomStore) SaveAdminSubscription(_ context.Context, sub types.PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.adminSubs = upsertSubscription(m.adminSubs, sub)
	return nil
}

func (m *MemoryRoomStore) ListAdminSubscriptions(context.Context) ([]types.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := slices.Clone(m.adminSubs)
	if subs == nil {
		subs = make([]types.PushSubscription, 0)
	}
	return subs, nil
}

func (m *MemoryRoomStore) RemoveAdminSubscription(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.adminSubs = removeSubscription(m.adminSubs, endpoint)
	return nil
}

func (m *MemoryRoomStore) GetAdminByEmail(_ context.Context, email string) (Admin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	admin, ok := m.admins[email]
	if !ok {
		return Admin{}, ErrNotFound
	}
	return admin, nil
}

func (m *MemoryRoomStore) CreateAdmin(_ context.Context, params CreateAdminParams) (Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAdmin++
	admin := Admin{
		Id:           m.nextAdmin,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		DisplayName:  params.DisplayName,
		CreatedAt:    time.Now().UTC(),
	}
	m.admins[admin.Email] = admin

	return admin, nil
}

func cloneRoom(r types.Room) types.Room {
	r.PushSubscriptions = slices.Clone(r.PushSubscriptions)
	return r
}

func upsertSubscription(subs []types.PushSubscription, sub types.PushSubscription) []types.PushSubscription {
	subs = removeSubscription(subs, sub.Endpoint)
	return append(subs, sub)
}

func removeSubscription(subs []types.PushSubscription, endpoint string) []types.PushSubscription {
	return slices.DeleteFunc(slices.Clone(subs), func(s types.PushSubscription) bool {
		return s.Endpoint == endpoint
	})
}
