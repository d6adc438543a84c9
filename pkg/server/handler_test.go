package server

import (
	"fmt"
	"net"
	"testing"

	"github.com/dkroy/hallchat/pkg/accounts"
	"github.com/dkroy/hallchat/pkg/model"
	"github.com/dkroy/hallchat/pkg/wire"
)

// newBareServer builds a Server without starting its listener, for
// tests that drive the session, room and invitation state directly.
func newBareServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	srv := New(cfg, Dependencies{Accounts: accounts.NewMemory(cfg.Policy, cfg.MaxAccounts)})
	t.Cleanup(func() { _ = srv.accounts.Close() })
	return srv
}

func authedSession(t *testing.T, srv *Server, n int) uint32 {
	t.Helper()
	sess := srv.sessions.Create()
	acct := &model.Account{StudentID: fmt.Sprintf("2025%04d", n), Handle: fmt.Sprintf("member_%02d", n)}
	if err := srv.sessions.Authenticate(sess.SockID, acct); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return sess.SockID
}

// An invitee can disconnect between the inviter's eligibility check and
// Open; its teardown sweeps the broker before the invitation exists.
// The reconcile pass must record the implicit NO so the invitation
// still resolves.
func TestInvitationResolvesWhenInviteeGoneAtOpen(t *testing.T) {
	t.Parallel()
	srv := newBareServer(t)

	inviter := authedSession(t, srv, 1)
	ghost := srv.sessions.Create().SockID
	srv.sessions.Remove(ghost) // disconnected, teardown already swept the broker

	token, err := srv.invites.Open(inviter, []uint32{ghost})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	srv.reconcileInvitation(token, []uint32{ghost})

	if n := srv.invites.OpenCount(); n != 0 {
		t.Fatalf("OpenCount = %d after reconcile, want 0", n)
	}
	if got := srv.metrics.InviteRejects.Load(); got != 1 {
		t.Fatalf("InviteRejects = %d, want 1", got)
	}
}

// An accepter can disconnect between the resolution's eligibility check
// and Create; its teardown ran the room sweep as a no-op. The evict
// pass must take the dead connection back out so the room can empty.
func TestRoomEvictsMemberWhoseSessionVanished(t *testing.T) {
	t.Parallel()
	srv := newBareServer(t)

	owner := authedSession(t, srv, 1)
	ghost := srv.sessions.Create().SockID
	srv.sessions.Remove(ghost)

	roomID, err := srv.rooms.Create(owner, []uint32{ghost})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	srv.evictVanished([]uint32{owner, ghost})

	members := srv.rooms.Members(roomID)
	if len(members) != 1 || members[0] != owner {
		t.Fatalf("Members = %v after evict, want [%d]", members, owner)
	}

	// Once the last live member's session goes too, the room is deleted.
	srv.sessions.Remove(owner)
	srv.evictVanished([]uint32{owner})
	if n := srv.rooms.Count(); n != 0 {
		t.Fatalf("room count = %d after last evict, want 0", n)
	}
}

// A room or invitation can register a connection after teardown's first
// sweep. The second sweep runs after the session is removed, so it must
// clean up both.
func TestTeardownSweepsLateRegistrations(t *testing.T) {
	t.Parallel()
	srv := newBareServer(t)

	owner := authedSession(t, srv, 1)
	inviter := authedSession(t, srv, 2)
	victim := srv.sessions.Create().SockID
	srv.sessions.Remove(victim) // teardown got as far as removing the session

	// Racing registrations land while teardown is mid-flight.
	roomID, err := srv.rooms.Create(owner, []uint32{victim})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := srv.invites.Open(inviter, []uint32{victim}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	left, right := net.Pipe()
	defer func() { _ = right.Close() }()
	srv.teardown(victim, wire.NewConn(left, 0), "test")

	members := srv.rooms.Members(roomID)
	if len(members) != 1 || members[0] != owner {
		t.Fatalf("Members = %v after teardown, want [%d]", members, owner)
	}
	if n := srv.invites.OpenCount(); n != 0 {
		t.Fatalf("OpenCount = %d after teardown, want 0", n)
	}
}
