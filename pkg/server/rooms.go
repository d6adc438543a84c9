package server

import (
	"errors"
	"sort"
	"sync"
)

var ErrRoomNotFound = errors.New("server: room not found")
var ErrRoomFull = errors.New("server: room is full")
var ErrRoomTableFull = errors.New("server: room table full")
var ErrAlreadyInRoom = errors.New("server: connection already in a room")

// RoomRegistry tracks active private rooms and their membership. A
// connection belongs to at most one room; a room disappears as soon as
// its last member leaves.
type RoomRegistry struct {
	mu sync.Mutex

	capacity int // max members per room, owner included
	maxRooms int // 0 = unlimited

	nextID  int
	members map[int]map[uint32]bool
	owners  map[int]uint32
	byConn  map[uint32]int
}

// NewRoomRegistry creates an empty registry. capacity bounds total room
// membership (owner included); maxRooms <= 0 means unlimited.
func NewRoomRegistry(capacity, maxRooms int) *RoomRegistry {
	return &RoomRegistry{
		capacity: capacity,
		maxRooms: maxRooms,
		nextID:   1,
		members:  make(map[int]map[uint32]bool),
		owners:   make(map[int]uint32),
		byConn:   make(map[uint32]int),
	}
}

// Create makes a new room holding the owner plus the accepted invitees.
// Callers truncate the invitee list to capacity-1 beforehand; a longer
// list fails with ErrRoomFull. Every participant must be room-free.
func (rr *RoomRegistry) Create(owner uint32, invitees []uint32) (int, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if len(invitees)+1 > rr.capacity {
		return 0, ErrRoomFull
	}
	if rr.maxRooms > 0 && len(rr.members) >= rr.maxRooms {
		return 0, ErrRoomTableFull
	}
	if _, in := rr.byConn[owner]; in {
		return 0, ErrAlreadyInRoom
	}
	for _, id := range invitees {
		if _, in := rr.byConn[id]; in {
			return 0, ErrAlreadyInRoom
		}
	}

	roomID := rr.nextID
	rr.nextID++
	set := make(map[uint32]bool, len(invitees)+1)
	set[owner] = true
	rr.byConn[owner] = roomID
	for _, id := range invitees {
		set[id] = true
		rr.byConn[id] = roomID
	}
	rr.members[roomID] = set
	rr.owners[roomID] = owner
	return roomID, nil
}

// Join adds a connection to an existing room.
func (rr *RoomRegistry) Join(roomID int, id uint32) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	set, ok := rr.members[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if _, in := rr.byConn[id]; in {
		return ErrAlreadyInRoom
	}
	if len(set) >= rr.capacity {
		return ErrRoomFull
	}
	set[id] = true
	rr.byConn[id] = roomID
	return nil
}

// Leave removes a connection from whatever room it is in, deleting the
// room when it empties. No-op when the connection is not in a room.
func (rr *RoomRegistry) Leave(id uint32) (roomID int, emptied bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	roomID, ok := rr.byConn[id]
	if !ok {
		return 0, false
	}
	delete(rr.byConn, id)
	set := rr.members[roomID]
	delete(set, id)
	if len(set) == 0 {
		delete(rr.members, roomID)
		delete(rr.owners, roomID)
		return roomID, true
	}
	return roomID, false
}

// Members returns the SockIDs in a room, sorted.
func (rr *RoomRegistry) Members(roomID int) []uint32 {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	set := rr.members[roomID]
	result := make([]uint32, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// RoomOf returns the room a connection is in, if any.
func (rr *RoomRegistry) RoomOf(id uint32) (int, bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	roomID, ok := rr.byConn[id]
	return roomID, ok
}

// Count returns the number of active rooms.
func (rr *RoomRegistry) Count() int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return len(rr.members)
}
