package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ClientMessage is a decoded client command, used by the companion emulator.
type ClientMessage struct {
	Type Kind   `json:"type"`
	Path string `json:"path,omitempty"`
	Text string `json:"text,omitempty"`
}

// ListRepos builds {"type":"list_repos"}.
func ListRepos() string {
	return mustEncode(ClientMessage{Type: KindListRepos})
}

// SelectRepo builds {"type":"select_repo","path":...}.
func SelectRepo(path string) string {
	return mustEncode(struct {
		Type Kind   `json:"type"`
		Path string `json:"path"`
	}{KindSelectRepo, path})
}

// Prompt builds {"type":"prompt","text":...}.
func Prompt(text string) string {
	return mustEncode(struct {
		Type Kind   `json:"type"`
		Text string `json:"text"`
	}{KindPrompt, text})
}

// DecodeClient parses a client command. Unknown types are an error.
func DecodeClient(text string) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &m); err != nil {
		return ClientMessage{}, fmt.Errorf("decode client message: %w", err)
	}
	switch m.Type {
	case KindListRepos, KindPrompt:
	case KindSelectRepo:
		if m.Path == "" {
			return ClientMessage{}, fmt.Errorf("select_repo requires a path")
		}
	default:
		return ClientMessage{}, fmt.Errorf("unknown message type %q", m.Type)
	}
	return m, nil
}

// Encode serializes a server message, used by the companion emulator.
func Encode(m Message) (string, error) {
	var v any
	switch msg := m.(type) {
	case RepoList:
		repos := msg.Repositories
		if repos == nil {
			repos = []Repository{}
		}
		v = struct {
			Type         Kind         `json:"type"`
			Repositories []Repository `json:"repositories"`
		}{KindRepoList, repos}
	case RepoSelected:
		v = struct {
			Type       Kind       `json:"type"`
			Repository Repository `json:"repository"`
		}{KindRepoSelected, msg.Repository}
	case CommandsList:
		v = struct {
			Type       Kind           `json:"type"`
			Predefined []SlashCommand `json:"predefined_commands"`
			Custom     []SlashCommand `json:"custom_commands"`
		}{KindCommandsList, nonNil(msg.Predefined), nonNil(msg.Custom)}
	case ServerError:
		v = struct {
			Type    Kind   `json:"type"`
			Message string `json:"message"`
		}{KindError, msg.Message}
	case Response:
		if msg.Plain {
			return msg.Text, nil
		}
		v = struct {
			Type Kind   `json:"type"`
			Text string `json:"text"`
		}{KindResponse, msg.Text}
	default:
		return "", fmt.Errorf("cannot encode %T", m)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonNil(cmds []SlashCommand) []SlashCommand {
	if cmds == nil {
		return []SlashCommand{}
	}
	return cmds
}

func mustEncode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %T: %v", v, err))
	}
	return string(data)
}
