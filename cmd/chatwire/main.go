// Command chatwire is an interactive terminal client for the messaging
// service. All rendering here is thin glue over the core in internal/.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/RushangSavaliya/chatwire/internal/channel"
	"github.com/RushangSavaliya/chatwire/internal/client"
	"github.com/RushangSavaliya/chatwire/internal/model"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type config struct {
	APIBaseURL string `env:"CHATWIRE_API_URL"    envDefault:"http://localhost:5001/api"`
	SocketURL  string `env:"CHATWIRE_SOCKET_URL" envDefault:"ws://localhost:5001/socket"`
	StateDir   string `env:"CHATWIRE_STATE_DIR"`
	Verbose    bool   `env:"CHATWIRE_VERBOSE"`
}

func usage() {
	fmt.Fprintf(os.Stderr, `chatwire %s (%s)

Commands once running:
  /login <username-or-email>     log in (password prompted)
  /register <username> <email>   create an account (password prompted)
  /users                         list accounts (* marks online)
  /open <username>               open a conversation
  /msgs                          show the open conversation
  /who                           show who is online
  /logout                        log out
  /quit                          exit
  anything else                  send to the open conversation
`, version, buildDate)
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "parse env:", err)
		os.Exit(1)
	}
	flag.StringVar(&cfg.APIBaseURL, "api-url", cfg.APIBaseURL, "REST API base URL")
	flag.StringVar(&cfg.SocketURL, "socket-url", cfg.SocketURL, "websocket endpoint")
	flag.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory for persisted session state")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "log connection events to stderr")
	flag.Usage = usage
	flag.Parse()

	logger := zap.NewNop()
	if cfg.Verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, "init logger:", err)
			os.Exit(1)
		}
		logger = l
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := client.New(client.Config{
		BaseURL:   cfg.APIBaseURL,
		SocketURL: cfg.SocketURL,
		StateDir:  cfg.StateDir,
	}, logger)

	if app.Bootstrap(ctx) {
		fmt.Printf("resumed session as %s\n", app.Me().Username)
	} else {
		fmt.Println("not logged in; use /login or /register")
	}

	repl(ctx, app)
	app.Logout(context.Background())
}

func repl(ctx context.Context, app *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(prompt(app))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		switch {
		case line == "/quit":
			return
		case line == "/logout":
			app.Logout(ctx)
			fmt.Println("logged out")
		case strings.HasPrefix(line, "/login"):
			doLogin(ctx, app, scanner, strings.Fields(line))
		case strings.HasPrefix(line, "/register"):
			doRegister(ctx, app, scanner, strings.Fields(line))
		case line == "/users":
			doUsers(ctx, app)
		case strings.HasPrefix(line, "/open"):
			doOpen(ctx, app, strings.Fields(line))
		case line == "/msgs":
			printThread(app)
		case line == "/who":
			for _, u := range app.Online() {
				fmt.Println(" ", u.Username)
			}
		case strings.HasPrefix(line, "/"):
			usage()
		default:
			doSend(ctx, app, line)
		}
	}
}

func prompt(app *client.Client) string {
	if app.Status() != model.StatusAuthenticated {
		return "> "
	}
	if peer := app.Peer(); peer != "" {
		return fmt.Sprintf("[%s] ", peerName(app, peer))
	}
	return fmt.Sprintf("(%s) ", app.Me().Username)
}

func doLogin(ctx context.Context, app *client.Client, scanner *bufio.Scanner, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: /login <username-or-email>")
		return
	}
	password, ok := readPassword(scanner)
	if !ok {
		return
	}
	if !app.Login(ctx, args[1], password) {
		fmt.Println("login failed")
		return
	}
	fmt.Printf("logged in as %s\n", app.Me().Username)
}

func doRegister(ctx context.Context, app *client.Client, scanner *bufio.Scanner, args []string) {
	if len(args) != 3 {
		fmt.Println("usage: /register <username> <email>")
		return
	}
	password, ok := readPassword(scanner)
	if !ok {
		return
	}
	if err := app.Register(ctx, args[1], args[2], password); err != nil {
		fmt.Println("register failed:", err)
		return
	}
	fmt.Println("registered; use /login")
}

func doUsers(ctx context.Context, app *client.Client) {
	users, err := app.Users(ctx)
	if err != nil {
		fmt.Println("list users:", err)
		return
	}
	for _, u := range users {
		mark := " "
		if app.IsOnline(u.ID) {
			mark = "*"
		}
		fmt.Printf(" %s %s\n", mark, u.Username)
	}
}

func doOpen(ctx context.Context, app *client.Client, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: /open <username>")
		return
	}
	users, err := app.Users(ctx)
	if err != nil {
		fmt.Println("lookup user:", err)
		return
	}
	var peerID string
	for _, u := range users {
		if u.Username == args[1] {
			peerID = u.ID
			break
		}
	}
	if peerID == "" {
		fmt.Println("no such user:", args[1])
		return
	}
	if err := app.SelectPeer(ctx, peerID); err != nil {
		fmt.Println("open conversation:", err)
		return
	}
	printThread(app)
}

func doSend(ctx context.Context, app *client.Client, content string) {
	if app.Peer() == "" {
		fmt.Println("no conversation open; use /open <username>")
		return
	}
	if _, err := app.Send(ctx, content); err != nil {
		fmt.Println("send failed:", err)
	}
}

func printThread(app *client.Client) {
	if app.Peer() == "" {
		fmt.Println("no conversation open")
		return
	}
	me := app.Me().ID
	for _, m := range app.Messages() {
		who := peerName(app, m.SenderID)
		if m.SenderID == me {
			who = "me"
		}
		fmt.Printf(" %s %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), who, m.Content)
	}
	if app.ConnectionState() == channel.StateErrored {
		fmt.Println(" (connection lost; log in again to retry)")
	}
}

func peerName(app *client.Client, id string) string {
	for _, u := range app.Online() {
		if u.ID == id {
			return u.Username
		}
	}
	return id
}

// readPassword reads one line from the shared stdin scanner without echo
// suppression; chatwire targets dev environments where that is acceptable.
func readPassword(scanner *bufio.Scanner) (string, bool) {
	fmt.Print("password: ")
	if !scanner.Scan() {
		return "", false
	}
	pw := strings.TrimSpace(scanner.Text())
	if pw == "" {
		fmt.Println("empty password")
		return "", false
	}
	return pw, true
}
