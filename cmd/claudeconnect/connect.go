package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	apperrors "github.com/claudeconnect/client/internal/errors"
	"github.com/claudeconnect/client/internal/eventbus"
	"github.com/claudeconnect/client/internal/session"
)

const (
	historyFile     = "history"
	maxHistoryLines = 1000
)

const shellHelp = `Type text to send a prompt; lines starting with / are slash commands.

  :repos              request the repository list
  :select <path|name> make a repository active
  :commands [/name]   list the slash commands, or show one with its usage
  :status             show the connection status
  :connect            reconnect with the stored credentials
  :disconnect         close the connection
  :background         simulate the app moving to the background
  :foreground         simulate the app returning to the foreground
  :logs [n]           show the last n diagnostic log entries (default 20)
  :events [type] [n]  show the last n session events as JSON (default 20)
  :help               show this help
  :quit               leave the shell`

type shell struct {
	app    *app
	s      *session.Session
	out    io.Writer
	rl     *readline.Instance
	isTTY  bool
	done   chan struct{}
	closed bool
}

func newConnectCmd(a *app) *cobra.Command {
	var (
		serverURL string
		pairingID string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect and open an interactive shell",
		Long: `Connect authenticates with the stored credentials (or --url/--id) and opens
an interactive shell. Server replies and status changes are printed as they
arrive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(nil)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Start(); err != nil {
				return err
			}

			switch {
			case serverURL != "" || pairingID != "":
				if err := s.ConnectTo(serverURL, pairingID); err != nil {
					return err
				}
			case !s.Status().InFlight():
				if err := s.Connect(); err != nil {
					return err
				}
			}

			sh := &shell{app: a, s: s, out: a.stdout, done: make(chan struct{})}
			if f, ok := a.stdin.(*os.File); ok && f == os.Stdin {
				sh.isTTY = term.IsTerminal(int(f.Fd()))
			}
			return sh.run()
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "", "server URL; a different URL discards the stored token")
	cmd.Flags().StringVar(&pairingID, "id", "", "pairing id")
	return cmd
}

func (sh *shell) run() error {
	if sh.isTTY {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          sh.prompt(),
			HistoryFile:     sh.historyPath(),
			HistoryLimit:    maxHistoryLines,
			AutoComplete:    sh.completer(),
			InterruptPrompt: "^C",
			EOFPrompt:       ":quit",
		})
		if err != nil {
			return fmt.Errorf("failed to initialize readline: %w", err)
		}
		defer rl.Close()
		sh.rl = rl
		sh.out = rl.Stdout()
	}

	stop := sh.watch()
	defer stop()

	// Scripted input would otherwise race the handshake.
	st := waitSettled(sh.s, sh.app.cfg.Handshake()+sh.app.cfg.Connectivity())
	fmt.Fprintln(sh.out, renderStatus(st))
	fmt.Fprintln(sh.out, dimStyle.Render("Type :help for commands."))

	if sh.isTTY {
		return sh.runInteractive()
	}
	return sh.runScript()
}

func (sh *shell) runInteractive() error {
	for !sh.closed {
		sh.rl.SetPrompt(sh.prompt())
		line, err := sh.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				fmt.Fprintln(sh.out, "Use :quit to leave the shell.")
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		sh.handle(line)
	}
	return nil
}

func (sh *shell) runScript() error {
	scanner := bufio.NewScanner(sh.app.stdin)
	for !sh.closed && scanner.Scan() {
		sh.handle(scanner.Text())
	}
	return scanner.Err()
}

func (sh *shell) prompt() string {
	if repo := sh.s.Snapshot().Selected; repo != nil {
		return repo.Name + "> "
	}
	return "claude> "
}

func (sh *shell) historyPath() string {
	dir, err := sh.app.cfg.ResolvedDataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, historyFile)
}

func (sh *shell) completer() *readline.PrefixCompleter {
	repoNames := func(string) []string {
		var names []string
		for _, r := range sh.s.Snapshot().Repositories {
			names = append(names, r.Name)
		}
		return names
	}
	slashCommands := func(string) []string {
		var names []string
		for _, c := range sh.s.Snapshot().Commands {
			names = append(names, c.Name)
		}
		return names
	}
	return readline.NewPrefixCompleter(
		readline.PcItem(":repos"),
		readline.PcItem(":select", readline.PcItemDynamic(repoNames)),
		readline.PcItem(":commands", readline.PcItemDynamic(slashCommands)),
		readline.PcItem(":status"),
		readline.PcItem(":connect"),
		readline.PcItem(":disconnect"),
		readline.PcItem(":background"),
		readline.PcItem(":foreground"),
		readline.PcItem(":logs"),
		readline.PcItem(":events"),
		readline.PcItem(":help"),
		readline.PcItem(":quit"),
		readline.PcItemDynamic(slashCommands),
	)
}

// handle runs one line of input.
func (sh *shell) handle(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, ":") {
		sh.report(sh.s.SendPrompt(line))
		return
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "repos":
		sh.report(sh.s.ListRepos())
	case "select":
		if arg == "" {
			fmt.Fprintln(sh.out, "Usage: :select <path|name>")
			return
		}
		sh.report(sh.s.SelectRepo(arg))
	case "commands":
		if arg != "" {
			sh.printCommand(arg)
			return
		}
		sh.printCommands()
	case "status":
		state := sh.s.Snapshot()
		fmt.Fprintln(sh.out, renderStatus(state.Status))
		if state.Selected != nil {
			fmt.Fprintf(sh.out, "Repository: %s (%s)\n", state.Selected.Name, state.Selected.Path)
		}
		if state.KeepAlive {
			fmt.Fprintln(sh.out, "Keep-alive: active")
		}
	case "connect":
		sh.report(sh.s.Connect())
	case "disconnect":
		sh.report(sh.s.Disconnect())
	case "background":
		sh.report(sh.s.EnterBackground())
	case "foreground":
		sh.report(sh.s.EnterForeground())
	case "logs":
		n := 20
		if arg != "" {
			if v, err := strconv.Atoi(arg); err == nil && v > 0 {
				n = v
			}
		}
		entries := sh.s.DiagnosticLog().Entries()
		if len(entries) > n {
			entries = entries[len(entries)-n:]
		}
		for _, e := range entries {
			fmt.Fprintln(sh.out, renderEntry(e))
		}
	case "events":
		sh.printEvents(strings.Fields(arg))
	case "help", "h":
		fmt.Fprintln(sh.out, shellHelp)
	case "quit", "q", "exit":
		sh.closed = true
	default:
		fmt.Fprintf(sh.out, "Unknown command :%s. Type :help.\n", name)
	}
}

func (sh *shell) report(err error) {
	if err == nil {
		return
	}
	code, msg := apperrors.ToCodeAndMessage(err)
	if code == apperrors.CodeSessionNotAuthenticated {
		msg += " (try :connect)"
	}
	fmt.Fprintln(sh.out, errorStyle.Render(msg))
}

func (sh *shell) printCommands() {
	cmds := sh.s.Snapshot().Commands
	if len(cmds) == 0 {
		fmt.Fprintln(sh.out, "No commands loaded. Select a repository first.")
		return
	}
	for _, c := range cmds {
		fmt.Fprintf(sh.out, "%-16s %s\n", labelStyle.Render(c.Name), c.Description)
		if c.Usage != "" {
			fmt.Fprintf(sh.out, "%-16s %s\n", "", dimStyle.Render("usage: "+c.Usage))
		}
	}
}

func (sh *shell) printCommand(name string) {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	c, ok := sh.s.Command(name)
	if !ok {
		fmt.Fprintf(sh.out, "No command %s for the active repository.\n", name)
		return
	}
	fmt.Fprintf(sh.out, "%s %s\n", labelStyle.Render(c.Name), c.Description)
	if c.Usage != "" {
		fmt.Fprintln(sh.out, "usage: "+c.Usage)
	}
}

// printEvents prints bus history. Numeric args set the count, anything else
// filters by event type.
func (sh *shell) printEvents(args []string) {
	n := 20
	var types []eventbus.EventType
	for _, a := range args {
		if v, err := strconv.Atoi(a); err == nil && v > 0 {
			n = v
			continue
		}
		types = append(types, eventbus.EventType(a))
	}

	var history []*eventbus.Event
	if len(types) > 0 {
		history = sh.s.Bus().GetHistoryByType(types, n)
	} else {
		history = sh.s.Bus().GetHistory(n)
	}
	if len(history) == 0 {
		fmt.Fprintln(sh.out, "No events.")
		return
	}
	for _, ev := range history {
		data, err := ev.JSON()
		if err != nil {
			continue
		}
		fmt.Fprintln(sh.out, string(data))
	}
}

// watch prints server output and status changes until the returned func is
// called.
func (sh *shell) watch() func() {
	events, cancel := sh.s.Bus().Channel([]eventbus.EventType{
		eventbus.EventStatusChanged,
		eventbus.EventChatAppended,
		eventbus.EventServerRestartDetected,
		eventbus.EventRepositoryListUpdated,
	}, 64)

	stop := make(chan struct{})
	go func() {
		defer close(sh.done)
		for {
			select {
			case ev := <-events:
				sh.printEvent(ev)
			case <-stop:
				return
			}
		}
	}()
	return func() {
		cancel()
		close(stop)
		<-sh.done
	}
}

func (sh *shell) printEvent(ev *eventbus.Event) {
	switch ev.Type {
	case eventbus.EventStatusChanged:
		fmt.Fprintln(sh.out, renderStatus(statusFromEvent(ev)))
	case eventbus.EventChatAppended:
		if fromServer, _ := ev.Data["from_server"].(bool); fromServer {
			fmt.Fprintln(sh.out, ev.String("text"))
		}
	case eventbus.EventServerRestartDetected:
		fmt.Fprintln(sh.out, errorStyle.Render("The server was restarted and no longer knows this client."))
		fmt.Fprintln(sh.out, "Pair again with: claudeconnect pair '<payload from the server QR code>'")
	case eventbus.EventRepositoryListUpdated:
		for _, r := range sh.s.Snapshot().Repositories {
			fmt.Fprintf(sh.out, "  %s %s\n", labelStyle.Render(r.Name), dimStyle.Render(r.Path))
		}
	}
}
