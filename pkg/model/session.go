package model

import "fmt"

// Place is where a session's chat messages go.
type Place int

const (
	PlaceNone Place = iota // not authenticated yet
	PlaceHall              // the shared Hall
	PlaceRoom              // a private room; Session.RoomID identifies it
)

func (p Place) String() string {
	switch p {
	case PlaceHall:
		return "Hall"
	case PlaceRoom:
		return "Room"
	default:
		return "None"
	}
}

// Session represents an active client connection (in-memory only).
// SockID is the per-connection identifier tagged onto every broadcast.
type Session struct {
	SockID  uint32
	Authed  bool
	Account *Account // nil until login succeeds
	Place   Place
	RoomID  int // valid only when Place == PlaceRoom
}

// PlaceLabel returns the broadcast context tag for the session's
// current place, e.g. "HALL" or "PRV#7".
func (s *Session) PlaceLabel() string {
	if s.Place == PlaceRoom {
		return fmt.Sprintf("PRV#%d", s.RoomID)
	}
	return "HALL"
}
