package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a protocol command.
type Kind int

const (
	KindUnknown Kind = iota
	KindSignup
	KindLogin
	KindChat
	KindCreatePrivate
	KindInviteResponse
	KindLeave
	KindWho
	KindExit
)

func (k Kind) String() string {
	switch k {
	case KindSignup:
		return "SIGNUP"
	case KindLogin:
		return "LOGIN"
	case KindChat:
		return "CHAT"
	case KindCreatePrivate:
		return "CREATEPRV"
	case KindInviteResponse:
		return "INVITE_RESP"
	case KindLeave:
		return "LEAVE"
	case KindWho:
		return "WHO"
	case KindExit:
		return "EXIT!"
	default:
		return "unknown"
	}
}

var ErrUsage = errors.New("wire: bad command usage")

// Command is one tokenized protocol line. SIGNUP, LOGIN and CHAT carry
// their arguments on follow-up payload lines, which the connection
// handler reads separately.
type Command struct {
	Kind Kind

	// CREATEPRV <k> <id...>
	Targets []uint32

	// INVITE_RESP <token> <YES|NO>
	Token  string
	Accept bool
}

// Parse tokenizes one command line. A recognised command with malformed
// arguments returns the command's Kind along with an error wrapping
// ErrUsage so the caller can report which command failed.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, nil
	}

	switch fields[0] {
	case "SIGNUP":
		return Command{Kind: KindSignup}, nil
	case "LOGIN":
		return Command{Kind: KindLogin}, nil
	case "CHAT":
		return Command{Kind: KindChat}, nil
	case "LEAVE":
		return Command{Kind: KindLeave}, nil
	case "WHO":
		return Command{Kind: KindWho}, nil
	case "EXIT!":
		return Command{Kind: KindExit}, nil

	case "CREATEPRV":
		cmd := Command{Kind: KindCreatePrivate}
		if len(fields) < 3 {
			return cmd, fmt.Errorf("%w: CREATEPRV <k> <id> [<id>]", ErrUsage)
		}
		k, err := strconv.Atoi(fields[1])
		if err != nil || k < 1 || k > 2 || len(fields) != 2+k {
			return cmd, fmt.Errorf("%w: CREATEPRV <k> <id> [<id>]", ErrUsage)
		}
		for _, f := range fields[2:] {
			id, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return cmd, fmt.Errorf("%w: bad SockID %q", ErrUsage, f)
			}
			cmd.Targets = append(cmd.Targets, uint32(id))
		}
		return cmd, nil

	case "INVITE_RESP":
		cmd := Command{Kind: KindInviteResponse}
		if len(fields) != 3 {
			return cmd, fmt.Errorf("%w: INVITE_RESP <token> <YES|NO>", ErrUsage)
		}
		cmd.Token = fields[1]
		switch strings.ToUpper(fields[2]) {
		case "YES":
			cmd.Accept = true
		case "NO":
			cmd.Accept = false
		default:
			return cmd, fmt.Errorf("%w: INVITE_RESP <token> <YES|NO>", ErrUsage)
		}
		return cmd, nil
	}

	return Command{Kind: KindUnknown}, nil
}
