// Package protocol defines the post-authentication JSON messages exchanged
// with the companion server.
//
// Client to server:
//
//	{"type":"list_repos"}
//	{"type":"select_repo","path":"..."}
//	{"type":"prompt","text":"..."}
//
// Server to client:
//
//	{"type":"repo_list","repositories":[{"name","path"}...]}
//	{"type":"repo_selected","repository":{"name","path"}}
//	{"type":"commands_list","predefined_commands":[...],"custom_commands":[...]}
//	{"type":"error","message"|"error":"..."}
//	{"type":"response","text":"..."}
//
// Server frames decode into a closed set of Go types. Anything that does not
// fit decodes to Unrecognized rather than being dropped silently.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the "type" discriminator.
type Kind string

const (
	KindListRepos  Kind = "list_repos"
	KindSelectRepo Kind = "select_repo"
	KindPrompt     Kind = "prompt"

	KindRepoList     Kind = "repo_list"
	KindRepoSelected Kind = "repo_selected"
	KindCommandsList Kind = "commands_list"
	KindError        Kind = "error"
	KindResponse     Kind = "response"
)

// Repository is identified by Path; names may repeat.
type Repository struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// SlashCommand is identified by Name.
type SlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Usage       string `json:"usage,omitempty"`
	Example     string `json:"example,omitempty"`
	Content     string `json:"content,omitempty"`
}

// Message is a decoded server frame.
type Message interface {
	Kind() Kind
}

// RepoList replaces the repository collection.
type RepoList struct {
	Repositories []Repository
}

// RepoSelected confirms the active repository.
type RepoSelected struct {
	Repository Repository
}

// CommandsList carries both command pools.
type CommandsList struct {
	Predefined []SlashCommand
	Custom     []SlashCommand
}

// ServerError is a user-visible error; it never affects the connection.
type ServerError struct {
	Message string
}

// Response is chat text from the server. Plain is set when the frame was not
// JSON at all.
type Response struct {
	Text  string
	Plain bool
}

// Unrecognized is a JSON frame with an unknown or malformed shape.
type Unrecognized struct {
	Type string
	Raw  string
	Err  error
}

func (RepoList) Kind() Kind     { return KindRepoList }
func (RepoSelected) Kind() Kind { return KindRepoSelected }
func (CommandsList) Kind() Kind { return KindCommandsList }
func (ServerError) Kind() Kind  { return KindError }
func (Response) Kind() Kind     { return KindResponse }
func (u Unrecognized) Kind() Kind {
	return Kind(u.Type)
}

// wire is the union of every server message field.
type wire struct {
	Type               *string        `json:"type"`
	Repositories       []Repository   `json:"repositories"`
	Repository         *Repository    `json:"repository"`
	Message            string         `json:"message"`
	Error              string         `json:"error"`
	Text               *string        `json:"text"`
	PredefinedCommands []SlashCommand `json:"predefined_commands"`
	CustomCommands     []SlashCommand `json:"custom_commands"`
}

// Decode classifies one post-auth text frame.
func Decode(text string) Message {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return Response{Text: text, Plain: true}
	}

	var w wire
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal([]byte(trimmed), &probe) == nil && probe.Type != "" {
			return Unrecognized{Type: probe.Type, Raw: text, Err: err}
		}
		// Looked like JSON but was not; treat as chat text.
		return Response{Text: text, Plain: true}
	}

	if w.Type == nil {
		if w.Text != nil {
			return Response{Text: *w.Text}
		}
		return Response{Text: text}
	}

	switch Kind(*w.Type) {
	case KindRepoList:
		repos := make([]Repository, 0, len(w.Repositories))
		for _, r := range w.Repositories {
			if r.Path == "" {
				continue
			}
			repos = append(repos, r)
		}
		return RepoList{Repositories: repos}
	case KindRepoSelected:
		if w.Repository == nil || w.Repository.Path == "" {
			return Unrecognized{Type: *w.Type, Raw: text, Err: fmt.Errorf("repo_selected without repository")}
		}
		return RepoSelected{Repository: *w.Repository}
	case KindCommandsList:
		return CommandsList{Predefined: validCommands(w.PredefinedCommands), Custom: validCommands(w.CustomCommands)}
	case KindError:
		msg := w.Message
		if msg == "" {
			msg = w.Error
		}
		return ServerError{Message: msg}
	case KindResponse:
		if w.Text == nil {
			return Unrecognized{Type: *w.Type, Raw: text, Err: fmt.Errorf("response without text")}
		}
		return Response{Text: *w.Text}
	default:
		return Unrecognized{Type: *w.Type, Raw: text}
	}
}

func validCommands(in []SlashCommand) []SlashCommand {
	out := make([]SlashCommand, 0, len(in))
	for _, c := range in {
		if c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}
