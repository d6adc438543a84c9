package server

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"
	"unicode"

	"github.com/dkroy/hallchat/pkg/accounts"
	"github.com/dkroy/hallchat/pkg/model"
	"github.com/dkroy/hallchat/pkg/wire"
)

// handleConn owns a single admitted connection from greeting to
// teardown. It is the only goroutine that reads from the connection;
// writes may come from any goroutine through wire.Conn's write lock.
func (s *Server) handleConn(conn net.Conn) {
	c := wire.NewConn(conn, s.cfg.MaxLineLen)
	sess := s.sessions.Create()
	id := sess.SockID

	s.registerConn(id, c)
	s.metrics.ActiveConnections.Add(1)

	remote := conn.RemoteAddr().String()
	slog.Info("client connected", "sock_id", id, "remote", remote)

	defer s.teardown(id, c, remote)

	_ = c.WriteLine("SYSTEM: welcome, you are SockID %d", id)

	for {
		s.applyReadDeadline(id, c)

		line, err := c.ReadLine()
		if err != nil {
			s.noteReadError(id, c, err)
			return
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		cmd, perr := wire.Parse(line)
		if perr != nil {
			s.replyUsage(c, cmd.Kind)
			continue
		}

		switch cmd.Kind {
		case wire.KindSignup:
			if err := s.handleSignup(id, c); err != nil {
				s.noteReadError(id, c, err)
				return
			}
		case wire.KindLogin:
			if err := s.handleLogin(id, c); err != nil {
				s.noteReadError(id, c, err)
				return
			}
		case wire.KindChat:
			if err := s.handleChat(id, c); err != nil {
				s.noteReadError(id, c, err)
				return
			}
		case wire.KindCreatePrivate:
			s.handleCreatePrivate(id, c, cmd)
		case wire.KindInviteResponse:
			s.handleInviteResponse(id, c, cmd)
		case wire.KindLeave:
			s.handleLeave(id, c)
		case wire.KindWho:
			s.handleWho(id, c)
		case wire.KindExit:
			slog.Info("client exiting", "sock_id", id)
			return
		default:
			if sess, ok := s.sessions.Get(id); !ok || !sess.Authed {
				_ = c.WriteLine("SYSTEM: please SIGNUP or LOGIN first")
			} else {
				_ = c.WriteLine("SYSTEM: unknown command")
			}
		}
	}
}

// applyReadDeadline bounds how long an unauthenticated connection may
// sit idle before the next line. Authenticated sessions read without a
// deadline.
func (s *Server) applyReadDeadline(id uint32, c *wire.Conn) {
	if s.cfg.AuthTimeout <= 0 {
		return
	}
	if sess, ok := s.sessions.Get(id); ok && sess.Authed {
		_ = c.SetReadDeadline(time.Time{})
		return
	}
	_ = c.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))
}

// noteReadError tells the client why its connection is about to close,
// for the errors where that is possible. The caller returns to teardown
// immediately after.
func (s *Server) noteReadError(id uint32, c *wire.Conn, err error) {
	if errors.Is(err, wire.ErrLineTooLong) {
		_ = c.WriteLine("SYSTEM: line too long, goodbye")
		slog.Warn("oversized line", "sock_id", id)
	}
}

// replyUsage answers a recognised command with malformed arguments.
func (s *Server) replyUsage(c *wire.Conn, k wire.Kind) {
	switch k {
	case wire.KindCreatePrivate:
		_ = c.WriteLine("FAIL CREATEPRV: usage")
	case wire.KindInviteResponse:
		_ = c.WriteLine("FAIL INVITE_RESP: usage")
	default:
		_ = c.WriteLine("SYSTEM: unknown command")
	}
}

// readPayload reads the single payload line a command expects and
// extracts the given key. A read error means the payload never
// arrived; the caller must tear the connection down.
func readPayload(c *wire.Conn, key string) (value string, ok bool, readErr error) {
	line, err := c.ReadLine()
	if err != nil {
		return "", false, err
	}
	v, ok := wire.ParseKV(line, key)
	return strings.TrimSpace(v), ok, nil
}

// handleSignup drives the three-line SIGNUP payload exchange:
// SID:, ACC:, PWD:. Policy failures consume the whole payload before
// answering so the client never desynchronises. A non-nil error means
// the payload never arrived and the connection must come down.
func (s *Server) handleSignup(id uint32, c *wire.Conn) error {
	sid, sidOK, err := readPayload(c, "SID")
	if err != nil {
		return err
	}
	acc, accOK, err := readPayload(c, "ACC")
	if err != nil {
		return err
	}
	pwd, pwdOK, err := readPayload(c, "PWD")
	if err != nil {
		return err
	}

	switch {
	case !sidOK || sid == "":
		_ = c.WriteLine("FAIL SIGNUP: bad SID")
		return nil
	case !accOK || acc == "":
		_ = c.WriteLine("FAIL SIGNUP: bad ACC")
		return nil
	case !pwdOK || pwd == "":
		_ = c.WriteLine("FAIL SIGNUP: bad PWD")
		return nil
	}

	if err := s.accounts.Register(sid, acc, pwd); err != nil {
		switch {
		case errors.Is(err, accounts.ErrPolicyViolation):
			_ = c.WriteLine("FAIL SIGNUP: policy violation")
		case errors.Is(err, accounts.ErrDuplicateHandle):
			_ = c.WriteLine("FAIL SIGNUP: account exists")
		case errors.Is(err, accounts.ErrStoreFull):
			_ = c.WriteLine("FAIL SIGNUP: user table full")
		default:
			slog.Error("signup failed", "sock_id", id, "err", err)
			_ = c.WriteLine("FAIL SIGNUP: internal error")
		}
		return nil
	}

	s.metrics.Signups.Add(1)
	slog.Info("account registered", "sock_id", id, "handle", acc)
	_ = c.WriteLine("OK SIGNUP")
	return nil
}

// handleLogin drives the two-line LOGIN payload exchange (ACC:, PWD:)
// and, on success, moves the session into the Hall.
func (s *Server) handleLogin(id uint32, c *wire.Conn) error {
	acc, accOK, err := readPayload(c, "ACC")
	if err != nil {
		return err
	}
	pwd, pwdOK, err := readPayload(c, "PWD")
	if err != nil {
		return err
	}

	switch {
	case !accOK || acc == "":
		_ = c.WriteLine("FAIL LOGIN: bad ACC")
		return nil
	case !pwdOK || pwd == "":
		_ = c.WriteLine("FAIL LOGIN: bad PWD")
		return nil
	}

	acct, err := s.accounts.Authenticate(acc, pwd)
	if err != nil {
		s.metrics.FailedAuths.Add(1)
		switch {
		case errors.Is(err, accounts.ErrUnknownHandle):
			_ = c.WriteLine("FAIL LOGIN: unknown account")
		case errors.Is(err, accounts.ErrWrongPassword):
			_ = c.WriteLine("FAIL LOGIN: wrong password")
		default:
			slog.Error("login failed", "sock_id", id, "err", err)
			_ = c.WriteLine("FAIL LOGIN: internal error")
		}
		return nil
	}

	if err := s.sessions.Authenticate(id, acct); err != nil {
		s.metrics.FailedAuths.Add(1)
		_ = c.WriteLine("FAIL LOGIN: already logged in")
		return nil
	}

	s.metrics.SuccessfulAuths.Add(1)
	slog.Info("login", "sock_id", id, "handle", acct.Handle, "sid", acct.StudentID)
	_ = c.WriteLine("OK LOGIN sid:%s", acct.StudentID)
	s.broadcastHall(id, "SYSTEM: %s has joined (Hall)", acct.StudentID)
	return nil
}

// handleChat reads the one-line chat payload and relays it to the
// sender's current place. A non-nil error means the payload never
// arrived and the connection must come down.
func (s *Server) handleChat(id uint32, c *wire.Conn) error {
	line, err := c.ReadLine()
	if err != nil {
		return err
	}

	sess, ok := s.sessions.Get(id)
	if !ok || !sess.Authed {
		_ = c.WriteLine("note: please LOGIN first")
		return nil
	}

	text := sanitizeText(strings.TrimSpace(line))
	if text == "" {
		return nil // silently drop empty messages
	}

	s.metrics.ChatMessages.Add(1)
	switch sess.Place {
	case model.PlaceRoom:
		s.broadcastRoom(sess.RoomID, 0, "[PRV#%d][SockID %d]: %s", sess.RoomID, id, text)
	default:
		for _, member := range s.sessions.HallMembers() {
			s.sendTo(member, "[HALL][SockID %d]: %s", id, text)
		}
	}
	return nil
}

// handleCreatePrivate validates the candidate list, opens an
// invitation and delivers INVITE lines. The inviter goes back to its
// read loop immediately; resolution happens when responses arrive.
func (s *Server) handleCreatePrivate(id uint32, c *wire.Conn, cmd wire.Command) {
	sess, ok := s.sessions.Get(id)
	if !ok || !sess.Authed {
		_ = c.WriteLine("SYSTEM: please SIGNUP or LOGIN first")
		return
	}
	if sess.Place == model.PlaceRoom {
		_ = c.WriteLine("FAIL CREATEPRV: leave room first (LEAVE)")
		return
	}

	// Keep only targets that can actually receive an invitation:
	// online, authenticated, in the Hall, not the inviter, no dupes.
	seen := make(map[uint32]bool, len(cmd.Targets))
	var invitees []uint32
	for _, target := range cmd.Targets {
		if target == id || seen[target] {
			continue
		}
		seen[target] = true
		ts, ok := s.sessions.Get(target)
		if !ok || !ts.Authed || ts.Place != model.PlaceHall {
			continue
		}
		invitees = append(invitees, target)
	}

	token, err := s.invites.Open(id, invitees)
	if err != nil {
		_ = c.WriteLine("FAIL CREATEPRV: no valid invitees")
		return
	}

	for _, invitee := range invitees {
		s.metrics.InvitesSent.Add(1)
		s.sendTo(invitee, "INVITE %s FROM %d : Accept? (YES/NO) -> reply: INVITE_RESP %s <YES|NO>",
			token, id, token)
	}
	slog.Info("invitations sent", "sock_id", id, "token", token, "invitees", len(invitees))
	_ = c.WriteLine("SYSTEM: invitations sent (token=%s)", token)

	s.reconcileInvitation(token, invitees)
}

// reconcileInvitation records an implicit NO for any invitee whose
// session vanished between validation and Open. An invitee whose
// teardown ran in that window swept the broker before the invitation
// existed, so without this pass the invitation could never resolve.
func (s *Server) reconcileInvitation(token string, invitees []uint32) {
	for _, invitee := range invitees {
		if _, ok := s.sessions.Get(invitee); ok {
			continue
		}
		res, recorded := s.invites.Respond(token, invitee, false)
		if recorded {
			s.metrics.InviteRejects.Add(1)
		}
		if res != nil {
			s.applyResolution(res)
		}
	}
}

// handleInviteResponse records a YES/NO and, if the invitation is now
// fully answered, applies the resolution. The responder gets no direct
// reply; room notices are the observable outcome.
func (s *Server) handleInviteResponse(id uint32, c *wire.Conn, cmd wire.Command) {
	if sess, ok := s.sessions.Get(id); !ok || !sess.Authed {
		_ = c.WriteLine("SYSTEM: please SIGNUP or LOGIN first")
		return
	}

	res, recorded := s.invites.Respond(cmd.Token, id, cmd.Accept)
	if recorded {
		if cmd.Accept {
			s.metrics.InviteAccepts.Add(1)
		} else {
			s.metrics.InviteRejects.Add(1)
		}
	}
	if res != nil {
		s.applyResolution(res)
	}
}

// applyResolution turns a completed invitation into a room, or tells
// the inviter why it could not. Eligibility is re-checked here: an
// accepter may have left the Hall between answering and resolution.
func (s *Server) applyResolution(res *Resolution) {
	if res.Abandoned {
		s.metrics.InvitesAbandoned.Add(1)
		return
	}

	inviter, ok := s.sessions.Get(res.Inviter)
	if !ok || !inviter.Authed || inviter.Place != model.PlaceHall {
		s.metrics.InvitesAbandoned.Add(1)
		return
	}

	if len(res.Accepted) == 0 {
		s.sendTo(res.Inviter, "SYSTEM: all invitees rejected; room not created")
		return
	}

	var members []uint32
	for _, id := range res.Accepted {
		sess, ok := s.sessions.Get(id)
		if !ok || !sess.Authed || sess.Place != model.PlaceHall {
			continue
		}
		members = append(members, id)
	}
	if len(members) == 0 {
		s.sendTo(res.Inviter, "SYSTEM: failed to create room")
		return
	}

	roomID, err := s.rooms.Create(res.Inviter, members)
	if err != nil {
		slog.Warn("room creation failed", "inviter", res.Inviter, "err", err)
		s.sendTo(res.Inviter, "SYSTEM: failed to create room")
		return
	}

	s.sessions.SetPlace(res.Inviter, model.PlaceRoom, roomID)
	for _, id := range members {
		s.sessions.SetPlace(id, model.PlaceRoom, roomID)
	}

	s.metrics.RoomsCreated.Add(1)
	slog.Info("private room created", "room", roomID, "owner", res.Inviter, "members", len(members)+1)
	s.sendTo(res.Inviter, "SYSTEM: private room #%d created", roomID)
	s.broadcastRoom(roomID, 0, "SYSTEM: room #%d ready. Members joined.", roomID)

	s.evictVanished(append([]uint32{res.Inviter}, members...))
}

// evictVanished removes room members whose sessions vanished between
// the eligibility check above and Create. Their teardown already ran
// its room sweep as a no-op, so without this pass a dead connection
// would hold its room slot forever.
func (s *Server) evictVanished(participants []uint32) {
	for _, id := range participants {
		if _, ok := s.sessions.Get(id); !ok {
			s.dropFromRoom(id)
		}
	}
}

// dropFromRoom takes a connection out of whatever room it is in,
// deleting the room when it empties and notifying the remaining
// members otherwise. No-op for connections outside any room.
func (s *Server) dropFromRoom(id uint32) {
	roomID, emptied := s.rooms.Leave(id)
	if roomID == 0 {
		return
	}
	if emptied {
		s.metrics.RoomsDeleted.Add(1)
		slog.Info("room deleted", "room", roomID)
	} else {
		s.broadcastRoom(roomID, id, "SYSTEM: SockID %d left room", id)
	}
}

// handleLeave moves a room member back to the Hall.
func (s *Server) handleLeave(id uint32, c *wire.Conn) {
	sess, ok := s.sessions.Get(id)
	if !ok || !sess.Authed {
		_ = c.WriteLine("SYSTEM: please SIGNUP or LOGIN first")
		return
	}
	if sess.Place != model.PlaceRoom {
		_ = c.WriteLine("SYSTEM: you are not in a room")
		return
	}

	s.dropFromRoom(id)
	s.sessions.SetPlace(id, model.PlaceHall, 0)
	_ = c.WriteLine("SYSTEM: returned to Hall")
}

// handleWho lists everyone online and authenticated, one line each.
func (s *Server) handleWho(id uint32, c *wire.Conn) {
	sess, ok := s.sessions.Get(id)
	if !ok || !sess.Authed {
		_ = c.WriteLine("SYSTEM: please SIGNUP or LOGIN first")
		return
	}

	for _, other := range s.sessions.OnlineAuthed() {
		_ = c.WriteLine("SYSTEM: SockID %d sid:%s acc:%s (%s)",
			other.SockID, other.Account.StudentID, other.Account.Handle, other.PlaceLabel())
	}
}

// teardown runs exactly once per admitted connection and unwinds its
// state in a fixed order: room membership, session, conn map, cap slot,
// then a second sweep of room and broker state. The session must be
// gone before that second sweep: any invitation or room that registers
// this connection afterwards sees no session and evicts it itself, so
// between the two sides nothing is left dangling.
func (s *Server) teardown(id uint32, c *wire.Conn, remote string) {
	sess, existed := s.sessions.Get(id)

	s.dropFromRoom(id)

	// Remove before the departure notice so the broadcast set no
	// longer contains the leaving session, and free the cap slot
	// before announcing so a new connection can take it immediately.
	s.sessions.Remove(id)
	s.removeConn(id)
	_ = c.Close()
	s.release()

	// Second sweep: catch a room or invitation that registered this
	// connection between the passes above and the session removal.
	s.dropFromRoom(id)
	for _, res := range s.invites.DropConnection(id) {
		s.applyResolution(res)
	}

	if existed && sess.Authed {
		s.broadcastHall(0, "SYSTEM: %s left", sess.Account.StudentID)
	}

	s.metrics.ActiveConnections.Add(-1)
	s.metrics.TotalDisconnects.Add(1)
	slog.Info("client disconnected", "sock_id", id, "remote", remote)
}

// sanitizeText strips control characters (except newline) from
// user-supplied text before it is relayed.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' ' // collapse newlines to spaces
		}
		if unicode.IsControl(r) {
			return -1 // strip all other control chars (null, bell, ANSI escapes, etc.)
		}
		return r
	}, s)
}
