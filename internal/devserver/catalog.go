package devserver

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/claudeconnect/client/internal/protocol"
)

// maxDescriptionLen is the longest first line used verbatim as a custom
// command's description.
const maxDescriptionLen = 100

// PredefinedCommands is the server-wide command pool.
func PredefinedCommands() []protocol.SlashCommand {
	return []protocol.SlashCommand{
		{Name: "/bug", Description: "Report bugs (sends conversation to Anthropic)"},
		{Name: "/clear", Description: "Clear conversation history"},
		{Name: "/compact", Description: "Compact conversation with optional focus instructions",
			Usage: "/compact [instructions]", Example: "/compact focus on the authentication logic"},
		{Name: "/config", Description: "View/modify configuration"},
		{Name: "/cost", Description: "Show token usage statistics"},
		{Name: "/doctor", Description: "Checks the health of your installation"},
		{Name: "/help", Description: "Get usage help", Usage: "/help [command]", Example: "/help model"},
		{Name: "/init", Description: "Initialize project with CLAUDE.md guide"},
		{Name: "/login", Description: "Switch Anthropic accounts"},
		{Name: "/logout", Description: "Sign out from your Anthropic account"},
		{Name: "/memory", Description: "Edit CLAUDE.md memory files"},
		{Name: "/model", Description: "Select or change the AI model",
			Usage: "/model [model-name]", Example: "/model claude-3-opus"},
		{Name: "/permissions", Description: "View or update permissions"},
		{Name: "/pr_comments", Description: "View pull request comments"},
		{Name: "/review", Description: "Request code review"},
		{Name: "/status", Description: "View account and system statuses"},
	}
}

// ScanCustomCommands reads <repo>/.claude/commands/*.md. A file named
// deploy_app.md becomes /deploy-app; its first line is the description when
// short enough, and the whole file is the content.
func ScanCustomCommands(repoPath string) []protocol.SlashCommand {
	dir := filepath.Join(repoPath, ".claude", "commands")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var cmds []protocol.SlashCommand
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".md")
		content := string(data)

		first, _, _ := strings.Cut(content, "\n")
		first = strings.TrimSuffix(first, "\r")
		desc := first
		if content == "" || len(first) >= maxDescriptionLen {
			desc = "Custom command: " + strings.ReplaceAll(stem, "_", " ")
		}

		cmds = append(cmds, protocol.SlashCommand{
			Name:        "/" + strings.ReplaceAll(stem, "_", "-"),
			Description: desc,
			Content:     content,
		})
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// ScanRepositories lists the immediate subdirectories of each root that
// contain a .git entry, sorted by name.
func ScanRepositories(roots []string) []protocol.Repository {
	var repos []protocol.Repository
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			path := filepath.Join(root, e.Name())
			if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
				continue
			}
			repos = append(repos, protocol.Repository{Name: e.Name(), Path: path})
		}
	}
	sort.SliceStable(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos
}
