// Package router applies decoded server messages to the client's repository,
// command, and chat state.
//
// The router owns no connection state. Route returns an Outcome describing
// what changed so the session can publish events and write the diagnostic
// log; error frames and unknown message types never touch the connection.
package router

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/claudeconnect/client/internal/eventbus"
	"github.com/claudeconnect/client/internal/eventlog"
	"github.com/claudeconnect/client/internal/logger"
	"github.com/claudeconnect/client/internal/protocol"
)

// ChatMessage is one entry of the conversation, in insertion order.
type ChatMessage struct {
	Text       string
	FromServer bool
	Timestamp  time.Time
}

// LogLine is a diagnostic log entry the caller should record.
type LogLine struct {
	Level    eventlog.Level
	Category eventlog.Category
	Message  string
}

// Outcome describes the effects of routing one message.
type Outcome struct {
	// Notice is the human-readable summary appended to the chat, if any.
	Notice string
	// Chat is the appended chat entry, if any.
	Chat *ChatMessage
	// ServerError is set for error frames.
	ServerError string
	// Events lists the domain events the change warrants, in order.
	Events []eventbus.EventType
	// Logs lists diagnostic entries to record, in order.
	Logs []LogLine
}

func (o *Outcome) logf(level eventlog.Level, cat eventlog.Category, format string, args ...any) {
	o.Logs = append(o.Logs, LogLine{Level: level, Category: cat, Message: fmt.Sprintf(format, args...)})
}

// Router holds the post-auth view of the server. Safe for concurrent reads;
// the session is its only writer.
type Router struct {
	mu sync.RWMutex

	repos      []protocol.Repository
	selected   *protocol.Repository
	predefined []protocol.SlashCommand
	custom     []protocol.SlashCommand
	chat       []ChatMessage

	now func() time.Time
	log zerolog.Logger
}

// New returns an empty router.
func New() *Router {
	return &Router{now: time.Now, log: logger.Component("router")}
}

// Route applies msg and returns its effects.
func (r *Router) Route(msg protocol.Message) Outcome {
	var out Outcome

	switch m := msg.(type) {
	case protocol.RepoList:
		r.mu.Lock()
		r.repos = append([]protocol.Repository(nil), m.Repositories...)
		r.mu.Unlock()

		out.Notice = fmt.Sprintf("Received %d repositories", len(m.Repositories))
		out.Events = append(out.Events, eventbus.EventRepositoryListUpdated)
		if len(m.Repositories) == 0 {
			out.logf(eventlog.LevelWarning, eventlog.CategoryRepository, "No repositories found")
		} else {
			out.logf(eventlog.LevelSuccess, eventlog.CategoryRepository, "Loaded %d repositories", len(m.Repositories))
			for _, repo := range m.Repositories {
				out.logf(eventlog.LevelInfo, eventlog.CategoryRepository, "Repository: %s at %s", repo.Name, repo.Path)
			}
		}

	case protocol.RepoSelected:
		changed := r.setSelected(m.Repository)
		out.Notice = fmt.Sprintf("Selected repository: %s", m.Repository.Name)
		out.Events = append(out.Events, eventbus.EventRepositorySelected)
		if changed {
			out.Events = append(out.Events, eventbus.EventCommandsUpdated)
		}
		out.logf(eventlog.LevelSuccess, eventlog.CategoryRepository, "Repository selected: %s", m.Repository.Name)

	case protocol.CommandsList:
		r.mu.Lock()
		r.predefined = append([]protocol.SlashCommand(nil), m.Predefined...)
		r.custom = append([]protocol.SlashCommand(nil), m.Custom...)
		r.mu.Unlock()

		out.Notice = commandsSummary(m)
		out.Events = append(out.Events, eventbus.EventCommandsUpdated)
		if len(m.Custom) > 0 {
			out.logf(eventlog.LevelInfo, eventlog.CategoryRepository, "Loaded %d custom commands for this repository", len(m.Custom))
			for _, c := range m.Custom {
				out.logf(eventlog.LevelInfo, eventlog.CategoryRepository, "Custom command: %s - %s", c.Name, c.Description)
			}
		}

	case protocol.ServerError:
		out.ServerError = m.Message
		out.Notice = "Error: " + m.Message
		out.Events = append(out.Events, eventbus.EventServerError)
		out.logf(eventlog.LevelError, eventlog.CategoryGeneral, "Server error: %s", m.Message)

	case protocol.Response:
		chat := r.appendChat(m.Text, true)
		out.Chat = &chat
		out.Events = append(out.Events, eventbus.EventChatAppended)

	case protocol.Unrecognized:
		ev := r.log.Warn().Str("type", typeOrNone(m.Type))
		if m.Err != nil {
			ev = ev.Err(m.Err)
		}
		ev.Msg("ignoring unrecognized message")
		out.logf(eventlog.LevelWarning, eventlog.CategoryGeneral, "Ignored unrecognized message type %q", m.Type)

	default:
		r.log.Warn().Str("type", fmt.Sprintf("%T", msg)).Msg("ignoring unhandled message")
	}

	if out.Notice != "" {
		chat := r.appendChat(out.Notice, true)
		if out.Chat == nil {
			out.Chat = &chat
			out.Events = append(out.Events, eventbus.EventChatAppended)
		}
	}
	return out
}

func typeOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func commandsSummary(m protocol.CommandsList) string {
	var b strings.Builder
	b.WriteString("Commands loaded:")
	if len(m.Predefined) > 0 {
		fmt.Fprintf(&b, "\n- %d predefined commands", len(m.Predefined))
	}
	if len(m.Custom) == 0 {
		b.WriteString("\n- No custom commands for this repository")
		return b.String()
	}
	names := make([]string, len(m.Custom))
	for i, c := range m.Custom {
		names[i] = c.Name
	}
	fmt.Fprintf(&b, "\n- %d custom commands for this repository\n  Custom: %s", len(m.Custom), strings.Join(names, ", "))
	return b.String()
}

// setSelected records the active repository. Switching to a different path
// drops the previous repository's custom commands.
func (r *Router) setSelected(repo protocol.Repository) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := r.selected == nil || r.selected.Path != repo.Path
	sel := repo
	r.selected = &sel
	if changed {
		r.custom = nil
	}
	return changed
}

// Select marks a repository from the current list as active, matching by
// path first and then by name. It reports the chosen repository.
func (r *Router) Select(key string) (protocol.Repository, bool) {
	r.mu.RLock()
	var found *protocol.Repository
	for i := range r.repos {
		if r.repos[i].Path == key {
			found = &r.repos[i]
			break
		}
	}
	if found == nil {
		for i := range r.repos {
			if r.repos[i].Name == key {
				found = &r.repos[i]
				break
			}
		}
	}
	var repo protocol.Repository
	if found != nil {
		repo = *found
	}
	r.mu.RUnlock()

	if found == nil {
		return protocol.Repository{}, false
	}
	r.setSelected(repo)
	return repo, true
}

// AddOutgoing records a chat entry typed by the user.
func (r *Router) AddOutgoing(text string) ChatMessage {
	return r.appendChat(text, false)
}

func (r *Router) appendChat(text string, fromServer bool) ChatMessage {
	m := ChatMessage{Text: text, FromServer: fromServer, Timestamp: r.now()}
	r.mu.Lock()
	r.chat = append(r.chat, m)
	r.mu.Unlock()
	return m
}

// ClearSelection forgets the active repository and its custom commands.
func (r *Router) ClearSelection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = nil
	r.custom = nil
}

// Repositories returns a copy of the current list.
func (r *Router) Repositories() []protocol.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]protocol.Repository(nil), r.repos...)
}

// Selected returns the active repository.
func (r *Router) Selected() (protocol.Repository, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selected == nil {
		return protocol.Repository{}, false
	}
	return *r.selected, true
}

// Commands returns predefined commands followed by custom ones.
func (r *Router) Commands() []protocol.SlashCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.SlashCommand, 0, len(r.predefined)+len(r.custom))
	out = append(out, r.predefined...)
	return append(out, r.custom...)
}

// Command looks a command up by name.
func (r *Router) Command(name string) (protocol.SlashCommand, bool) {
	for _, c := range r.Commands() {
		if c.Name == name {
			return c, true
		}
	}
	return protocol.SlashCommand{}, false
}

// Chat returns a copy of the conversation.
func (r *Router) Chat() []ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ChatMessage(nil), r.chat...)
}
