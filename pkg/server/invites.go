package server

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrNoValidInvitees = errors.New("server: no valid invitees")

// Resolution is the terminal outcome of an invitation: either the
// inviter abandoned it by disconnecting, or every invitee has answered
// (a disconnect counts as a rejection) and Accepted holds the SockIDs
// that said yes. An empty Accepted list means everyone declined.
type Resolution struct {
	Token     string
	Inviter   uint32
	Accepted  []uint32
	Abandoned bool
}

type invitation struct {
	token     string
	inviter   uint32
	invitees  map[uint32]bool
	responses map[uint32]bool // invitee -> accepted
}

func (inv *invitation) complete() bool {
	return len(inv.responses) == len(inv.invitees)
}

func (inv *invitation) resolution() *Resolution {
	res := &Resolution{Token: inv.token, Inviter: inv.inviter}
	for id, accepted := range inv.responses {
		if accepted {
			res.Accepted = append(res.Accepted, id)
		}
	}
	sort.Slice(res.Accepted, func(i, j int) bool { return res.Accepted[i] < res.Accepted[j] })
	return res
}

// InviteBroker tracks in-flight invite negotiations. It is a pure state
// machine: callers validate invitees against the session table, send
// the wire notifications, and act on the returned Resolutions, so the
// inviter's read loop never blocks waiting for answers.
type InviteBroker struct {
	mu       sync.Mutex
	newToken func() string
	byToken  map[string]*invitation
}

// NewInviteBroker creates an empty broker using UUID tokens.
func NewInviteBroker() *InviteBroker {
	return NewInviteBrokerWithTokens(uuid.NewString)
}

// NewInviteBrokerWithTokens creates a broker with a custom token
// generator, for deterministic tests.
func NewInviteBrokerWithTokens(newToken func() string) *InviteBroker {
	if newToken == nil {
		newToken = uuid.NewString
	}
	return &InviteBroker{
		newToken: newToken,
		byToken:  make(map[string]*invitation),
	}
}

// Open records a new invitation for the already-validated invitee list
// and returns its token. An empty list fails with ErrNoValidInvitees
// and records nothing.
func (b *InviteBroker) Open(inviter uint32, invitees []uint32) (string, error) {
	if len(invitees) == 0 {
		return "", ErrNoValidInvitees
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	inv := &invitation{
		token:     b.newToken(),
		inviter:   inviter,
		invitees:  make(map[uint32]bool, len(invitees)),
		responses: make(map[uint32]bool),
	}
	for _, id := range invitees {
		inv.invitees[id] = true
	}
	b.byToken[inv.token] = inv
	return inv.token, nil
}

// Respond records one invitee's answer. The first response per invitee
// wins; duplicates, unknown tokens and answers from connections that
// were never invited are ignored. recorded reports whether the answer
// counted; res is non-nil when this answer completed the negotiation.
func (b *InviteBroker) Respond(token string, invitee uint32, accept bool) (res *Resolution, recorded bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inv, ok := b.byToken[token]
	if !ok || !inv.invitees[invitee] {
		return nil, false
	}
	if _, dup := inv.responses[invitee]; dup {
		return nil, false
	}
	inv.responses[invitee] = accept

	if !inv.complete() {
		return nil, true
	}
	delete(b.byToken, token)
	return inv.resolution(), true
}

// DropConnection handles a disconnect. Invitations the connection
// opened are abandoned; invitations it had yet to answer record an
// implicit rejection, which may complete them. All resulting terminal
// outcomes are returned for the caller to apply.
func (b *InviteBroker) DropConnection(id uint32) []*Resolution {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []*Resolution
	for token, inv := range b.byToken {
		if inv.inviter == id {
			delete(b.byToken, token)
			result = append(result, &Resolution{Token: token, Inviter: id, Abandoned: true})
			continue
		}
		if inv.invitees[id] {
			if _, answered := inv.responses[id]; !answered {
				inv.responses[id] = false
				if inv.complete() {
					delete(b.byToken, token)
					result = append(result, inv.resolution())
				}
			}
		}
	}
	return result
}

// OpenCount returns the number of unresolved invitations.
func (b *InviteBroker) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byToken)
}
