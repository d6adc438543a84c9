package server

import (
	"errors"
	"sort"
	"sync"

	"github.com/dkroy/hallchat/pkg/model"
)

var ErrSessionNotFound = errors.New("server: session not found")
var ErrAlreadyAuthenticated = errors.New("server: session already authenticated")

// SessionTable tracks live connections and their authentication state.
// All mutation happens under the table mutex; reads return copies so
// broadcast decisions see a consistent snapshot.
type SessionTable struct {
	mu       sync.RWMutex
	nextID   uint32
	sessions map[uint32]*model.Session
}

// NewSessionTable creates an empty session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{
		nextID:   1,
		sessions: make(map[uint32]*model.Session),
	}
}

// Create registers a new anonymous session and assigns its SockID.
// SockIDs are handed out in connection order and never reused.
func (st *SessionTable) Create() *model.Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess := &model.Session{
		SockID: st.nextID,
		Place:  model.PlaceNone,
	}
	st.nextID++
	st.sessions[sess.SockID] = sess
	copySess := *sess
	return &copySess
}

// Get returns a snapshot of a session.
func (st *SessionTable) Get(id uint32) (model.Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return *sess, true
}

// Authenticate marks a session as logged in. Re-authenticating an
// already-authenticated session fails with ErrAlreadyAuthenticated;
// the caller keeps the session open so the user can continue.
func (st *SessionTable) Authenticate(id uint32, acct *model.Account) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Authed {
		return ErrAlreadyAuthenticated
	}
	sess.Authed = true
	sess.Account = acct
	sess.Place = model.PlaceHall
	sess.RoomID = 0
	return nil
}

// SetPlace moves a session to the Hall or into a room.
func (st *SessionTable) SetPlace(id uint32, place model.Place, roomID int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok := st.sessions[id]; ok {
		sess.Place = place
		sess.RoomID = roomID
	}
}

// Remove destroys a session. The caller is responsible for removing the
// connection from any room it occupies first.
func (st *SessionTable) Remove(id uint32) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// HallMembers returns the SockIDs of all authenticated sessions
// currently in the Hall.
func (st *SessionTable) HallMembers() []uint32 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var result []uint32
	for id, sess := range st.sessions {
		if sess.Authed && sess.Place == model.PlaceHall {
			result = append(result, id)
		}
	}
	return result
}

// OnlineAuthed returns snapshots of all authenticated sessions, ordered
// by SockID.
func (st *SessionTable) OnlineAuthed() []model.Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	result := make([]model.Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		if sess.Authed {
			result = append(result, *sess)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SockID < result[j].SockID })
	return result
}

// Count returns the number of live sessions.
func (st *SessionTable) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
