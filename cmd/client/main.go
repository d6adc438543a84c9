// Command client is a minimal interactive terminal client for hallchat.
//
// Server lines are printed as they arrive. Input starting with '/' is a
// client command; anything else is sent as a Hall or room chat message.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/dkroy/hallchat/pkg/logging"
	"github.com/dkroy/hallchat/pkg/version"
)

const usage = `commands:
  /signup <sid> <account> <password>
  /login <account> <password>
  /invite <sockid> [sockid]
  /accept <token>
  /reject <token>
  /leave
  /who
  /quit
anything else is sent as chat`

func main() {
	addr := flag.String("addr", "127.0.0.1:5678", "server address")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// Default to "info"; override with HALLCHAT_LOG_LEVEL env var.
	level := "info"
	if v := os.Getenv("HALLCHAT_LOG_LEVEL"); v != "" {
		level = v
	}
	_ = logging.Setup(logging.Options{Level: level, Output: os.Stderr})

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	fmt.Printf("connected to %s\n%s\n", *addr, usage)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				fmt.Println("** disconnected **")
				return
			}
			line = strings.TrimRight(line, "\r\n")
			fmt.Println(line)
			if strings.HasPrefix(line, "INVITE ") {
				if fields := strings.Fields(line); len(fields) >= 2 {
					fmt.Printf("-> reply with /accept %s or /reject %s\n", fields[1], fields[1])
				}
			}
		}
	}()

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		select {
		case <-done:
			return
		default:
		}

		input := strings.TrimSpace(in.Text())
		if input == "" {
			continue
		}
		if !strings.HasPrefix(input, "/") {
			send(conn, "CHAT", input)
			continue
		}

		fields := strings.Fields(input)
		switch fields[0] {
		case "/signup":
			if len(fields) != 4 {
				fmt.Println("usage: /signup <sid> <account> <password>")
				continue
			}
			send(conn, "SIGNUP", "SID:"+fields[1], "ACC:"+fields[2], "PWD:"+fields[3])
		case "/login":
			if len(fields) != 3 {
				fmt.Println("usage: /login <account> <password>")
				continue
			}
			send(conn, "LOGIN", "ACC:"+fields[1], "PWD:"+fields[2])
		case "/invite":
			if len(fields) < 2 || len(fields) > 3 {
				fmt.Println("usage: /invite <sockid> [sockid]")
				continue
			}
			ids := fields[1:]
			send(conn, fmt.Sprintf("CREATEPRV %d %s", len(ids), strings.Join(ids, " ")))
		case "/accept":
			if len(fields) != 2 {
				fmt.Println("usage: /accept <token>")
				continue
			}
			send(conn, "INVITE_RESP "+fields[1]+" YES")
		case "/reject":
			if len(fields) != 2 {
				fmt.Println("usage: /reject <token>")
				continue
			}
			send(conn, "INVITE_RESP "+fields[1]+" NO")
		case "/leave":
			send(conn, "LEAVE")
		case "/who":
			send(conn, "WHO")
		case "/quit":
			send(conn, "EXIT!")
			<-done
			return
		case "/help":
			fmt.Println(usage)
		default:
			fmt.Printf("unknown command %s\n%s\n", fields[0], usage)
		}
	}
}

func send(conn net.Conn, lines ...string) {
	for _, l := range lines {
		if _, err := fmt.Fprintf(conn, "%s\n", l); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
			return
		}
	}
}
