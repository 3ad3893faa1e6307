package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"Duet/internal/config"
)

// ErrUsage is returned by a command when arguments are invalid and usage should be shown.
var ErrUsage = errors.New("usage")

// Command represents a CLI subcommand.
type Command interface {
	// Name returns the command name as typed by the user, e.g. "login".
	Name() string
	// Description is a short human-readable description shown in help.
	Description() string
	// Usage returns the exact usage string, e.g. "login <login> <password>".
	Usage() string
	// Run executes the command with provided args (without the command name).
	Run(ctx context.Context, cfg *config.Config, args []string) error
}

// registry holds available commands by name.
var registry = map[string]Command{}

// Out - общий writer для вывода CLI. По умолчанию os.Stdout, но в тестах может переназначаться.
var Out io.Writer = os.Stdout

// RegisterCmd adds a command to the registry. Should be called from init() of each command.
func RegisterCmd(cmd Command) {
	registry[cmd.Name()] = cmd
}

// Get returns a command by name.
func Get(name string) (Command, bool) {
	c, ok := registry[name]
	return c, ok
}

// List returns all registered commands sorted by name.
func List() []Command {
	list := make([]Command, 0, len(registry))
	for _, c := range registry {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// sections - разделы справки по порядку; незнакомые команды идут в "Other".
var sections = []struct {
	title string
	names []string
}{
	{"Account", []string{"register", "login", "logout", "status", "name"}},
	{"Pair", []string{"pair", "requests", "respond", "unpair"}},
	{"Conversation", []string{"send", "sync", "history", "read", "react", "unreact", "tail", "mood", "location"}},
}

// FormatGlobalUsage builds a help text for all commands, grouped by section.
func FormatGlobalUsage() string {
	lines := []string{
		"Duet CLI",
		"",
		"Usage:",
		"  duet [--base-url <host:port>] <command> [args]",
	}
	listed := map[string]bool{}
	section := func(title string, cmds []Command) {
		if len(cmds) == 0 {
			return
		}
		lines = append(lines, "", title+":")
		for _, c := range cmds {
			listed[c.Name()] = true
			lines = append(lines, fmt.Sprintf("  %-40s %s", c.Usage(), c.Description()))
		}
	}
	for _, sec := range sections {
		var cmds []Command
		for _, n := range sec.names {
			if c, ok := Get(n); ok {
				cmds = append(cmds, c)
			}
		}
		section(sec.title, cmds)
	}
	var rest []Command
	for _, c := range List() {
		if !listed[c.Name()] {
			rest = append(rest, c)
		}
	}
	section("Other", rest)
	return strings.Join(lines, "\n") + "\n"
}
