// Package relay tracks room membership for identity and conversation rooms.
package relay

import (
	"sync"

	"github.com/samber/lo"
)

// RoomKind separates identity rooms from conversation rooms so a client can
// never join another user's private room through joinRoom.
type RoomKind uint8

const (
	IdentityRoom RoomKind = iota + 1
	ConversationRoom
)

func (k RoomKind) String() string {
	switch k {
	case IdentityRoom:
		return "identity"
	case ConversationRoom:
		return "conversation"
	default:
		return "unknown"
	}
}

// RoomKey addresses a room in the registry.
type RoomKey struct {
	Kind RoomKind
	ID   string
}

func (k RoomKey) String() string {
	return k.Kind.String() + ":" + k.ID
}

// IdentityRoomOf returns the key of a user's private room.
func IdentityRoomOf(userID string) RoomKey {
	return RoomKey{Kind: IdentityRoom, ID: userID}
}

// ConversationRoomOf returns the key of a conversation room.
func ConversationRoomOf(chatID string) RoomKey {
	return RoomKey{Kind: ConversationRoom, ID: chatID}
}

type clientSet map[*Client]struct{}

// Registry tracks which live connections are in which rooms. Rooms exist only
// while they have at least one member.
//
// The hub mutates the registry from its dispatch goroutine only; the lock lets
// diagnostics read it from other goroutines.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[RoomKey]clientSet
	joined map[*Client]map[RoomKey]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[RoomKey]clientSet),
		joined: make(map[*Client]map[RoomKey]struct{}),
	}
}

// Join adds c to room. It reports whether the membership is new; joining a
// room twice is a no-op.
func (r *Registry) Join(c *Client, room RoomKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.join(c, room)
}

func (r *Registry) join(c *Client, room RoomKey) bool {
	members, ok := r.rooms[room]
	if !ok {
		members = make(clientSet)
		r.rooms[room] = members
	}
	if _, exists := members[c]; exists {
		return false
	}
	members[c] = struct{}{}

	rooms, ok := r.joined[c]
	if !ok {
		rooms = make(map[RoomKey]struct{})
		r.joined[c] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// Leave removes c from room and reports whether it was a member.
func (r *Registry) Leave(c *Client, room RoomKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(c, room)
}

func (r *Registry) leave(c *Client, room RoomKey) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[c]; !exists {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}

	if rooms, ok := r.joined[c]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, c)
		}
	}
	return true
}

// BindIdentity moves c into the identity room of userID, leaving any other
// identity room it was in. Both steps happen under one lock.
func (r *Registry) BindIdentity(c *Client, userID string) {
	target := IdentityRoomOf(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.joined[c] {
		if room.Kind == IdentityRoom && room != target {
			r.leave(c, room)
		}
	}
	r.join(c, target)
}

// LeaveAll removes c from every room and returns the rooms it left.
func (r *Registry) LeaveAll(c *Client) []RoomKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := lo.Keys(r.joined[c])
	for _, room := range left {
		r.leave(c, room)
	}
	return left
}

// MembersOf returns a snapshot of the connections currently in room.
func (r *Registry) MembersOf(room RoomKey) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil
	}
	return lo.Keys(members)
}

// RoomsOf returns a snapshot of the rooms c has joined.
func (r *Registry) RoomsOf(c *Client) []RoomKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.joined[c])
}

// IsMember reports whether c is in room.
func (r *Registry) IsMember(c *Client, room RoomKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][c]
	return ok
}

// RoomCount returns the number of live rooms of the given kind.
func (r *Registry) RoomCount(kind RoomKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.CountBy(lo.Keys(r.rooms), func(k RoomKey) bool { return k.Kind == kind })
}
