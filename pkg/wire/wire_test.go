package wire

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	t.Parallel()

	type tcase struct {
		line    string
		want    Command
		wantErr bool
	}

	tcases := map[string]tcase{
		"signup":  {line: "SIGNUP", want: Command{Kind: KindSignup}},
		"login":   {line: "LOGIN", want: Command{Kind: KindLogin}},
		"chat":    {line: "CHAT", want: Command{Kind: KindChat}},
		"leave":   {line: "LEAVE", want: Command{Kind: KindLeave}},
		"who":     {line: "WHO", want: Command{Kind: KindWho}},
		"exit":    {line: "EXIT!", want: Command{Kind: KindExit}},
		"empty":   {line: "", want: Command{}},
		"unknown": {line: "FROBNICATE 12", want: Command{Kind: KindUnknown}},
		"createprv_one": {
			line: "CREATEPRV 1 7",
			want: Command{Kind: KindCreatePrivate, Targets: []uint32{7}},
		},
		"createprv_two": {
			line: "CREATEPRV 2 7 9",
			want: Command{Kind: KindCreatePrivate, Targets: []uint32{7, 9}},
		},
		"createprv_count_mismatch": {
			line:    "CREATEPRV 2 7",
			want:    Command{Kind: KindCreatePrivate},
			wantErr: true,
		},
		"createprv_zero": {
			line:    "CREATEPRV 0",
			want:    Command{Kind: KindCreatePrivate},
			wantErr: true,
		},
		"createprv_three": {
			line:    "CREATEPRV 3 1 2 3",
			want:    Command{Kind: KindCreatePrivate},
			wantErr: true,
		},
		"createprv_bad_id": {
			line:    "CREATEPRV 1 bob",
			want:    Command{Kind: KindCreatePrivate},
			wantErr: true,
		},
		"invite_resp_yes": {
			line: "INVITE_RESP tok-1 YES",
			want: Command{Kind: KindInviteResponse, Token: "tok-1", Accept: true},
		},
		"invite_resp_no_lowercase": {
			line: "INVITE_RESP tok-1 no",
			want: Command{Kind: KindInviteResponse, Token: "tok-1"},
		},
		"invite_resp_bad_answer": {
			line:    "INVITE_RESP tok-1 MAYBE",
			want:    Command{Kind: KindInviteResponse, Token: "tok-1"},
			wantErr: true,
		},
		"invite_resp_missing_args": {
			line:    "INVITE_RESP",
			want:    Command{Kind: KindInviteResponse},
			wantErr: true,
		},
	}

	for name, tc := range tcases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tc.line)
			if tc.wantErr {
				if !errors.Is(err, ErrUsage) {
					t.Fatalf("Parse(%q) err = %v, want ErrUsage", tc.line, err)
				}
				if got.Kind != tc.want.Kind {
					t.Fatalf("Parse(%q) kind = %v, want %v", tc.line, got.Kind, tc.want.Kind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) err = %v", tc.line, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tc.line, diff)
			}
		})
	}
}

func TestParseKV(t *testing.T) {
	t.Parallel()

	if v, ok := ParseKV("ACC:alice_01", "ACC"); !ok || v != "alice_01" {
		t.Fatalf("ParseKV = %q, %t", v, ok)
	}
	if v, ok := ParseKV("SID:1001", "ACC"); ok {
		t.Fatalf("ParseKV accepted wrong key: %q", v)
	}
	if _, ok := ParseKV("ACC alice", "ACC"); ok {
		t.Fatal("ParseKV accepted missing colon")
	}
}

func TestConnReadWriteLine(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	a := NewConn(left, 0)
	b := NewConn(right, 0)
	defer a.Close()
	defer b.Close()

	go func() {
		_ = a.WriteLine("OK LOGIN sid:%s", "1001")
		_ = a.WriteLine("[HALL][SockID %d]: %s", 3, "hello")
	}()

	line, err := b.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "OK LOGIN sid:1001" {
		t.Fatalf("ReadLine = %q", line)
	}
	line, err = b.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "[HALL][SockID 3]: hello" {
		t.Fatalf("ReadLine = %q", line)
	}
}

func TestConnReadLineStripsCRLF(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	b := NewConn(right, 0)
	defer left.Close()
	defer b.Close()

	go func() {
		_, _ = left.Write([]byte("LOGIN\r\n"))
	}()

	line, err := b.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "LOGIN" {
		t.Fatalf("ReadLine = %q, want LOGIN", line)
	}
}

func TestConnLineTooLong(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	b := NewConn(right, 64)
	defer left.Close()
	defer b.Close()

	go func() {
		_, _ = left.Write([]byte(strings.Repeat("x", 128) + "\n"))
	}()

	if _, err := b.ReadLine(); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("ReadLine err = %v, want ErrLineTooLong", err)
	}
}

func TestConnConcurrentWritersKeepLinesIntact(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	a := NewConn(left, 0)
	b := NewConn(right, 0)
	defer a.Close()
	defer b.Close()

	const writers, lines = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < lines; i++ {
				_ = a.WriteLine("writer %d line %d", w, i)
			}
		}(w)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for i := 0; i < writers*lines; i++ {
		line, err := b.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine %d: %v", i, err)
		}
		if !strings.HasPrefix(line, "writer ") || !strings.Contains(line, " line ") {
			t.Fatalf("interleaved line: %q", line)
		}
	}
	<-done
}
