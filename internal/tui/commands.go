package tui

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
)

const (
	resultQuit   = "__QUIT__"
	resultCancel = "__CANCEL__"
)

// Command represents a slash command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Category    string
	Handler     func(m *Model, args []string) (string, error)
}

func getBuiltinCommands() []Command {
	return []Command{
		// Session commands
		{Name: "cancel", Aliases: []string{"abort"}, Description: "Cancel the running turn", Category: "Session", Handler: cmdCancel},
		{Name: "status", Aliases: []string{"st"}, Description: "Show bridge status", Category: "Session", Handler: cmdStatus},

		// System commands
		{Name: "clear", Aliases: []string{"cls", "c"}, Description: "Clear chat", Category: "System", Handler: cmdClearChat},
		{Name: "help", Aliases: []string{"h", "?"}, Description: "Show help", Category: "System", Handler: cmdHelp},
		{Name: "quit", Aliases: []string{"q", "exit"}, Description: "Quit", Category: "System", Handler: cmdQuit},

		// Shell commands
		{Name: "sh", Aliases: []string{"shell", "!"}, Description: "Run shell command", Category: "Shell", Handler: cmdShell},
		{Name: "cd", Aliases: nil, Description: "Change directory", Category: "Shell", Handler: cmdCd},
		{Name: "pwd", Aliases: nil, Description: "Print working dir", Category: "Shell", Handler: cmdPwd},
	}
}

func findCommand(name string) *Command {
	name = strings.ToLower(strings.TrimSpace(name))
	cmds := getBuiltinCommands()
	for i := range cmds {
		if cmds[i].Name == name {
			return &cmds[i]
		}
		for _, alias := range cmds[i].Aliases {
			if alias == name {
				return &cmds[i]
			}
		}
	}
	return nil
}

func parseCommand(input string) (name string, args []string) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil
	}
	input = strings.TrimPrefix(input, "/")
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

func cmdCancel(m *Model, args []string) (string, error) {
	if !m.pending {
		return "Nothing to cancel.", nil
	}
	return resultCancel, nil
}

func cmdStatus(m *Model, args []string) (string, error) {
	snap := m.bridge.Snapshot()
	return fmt.Sprintf("Status:\n  State:    %s\n  Session:  %s\n  Pending:  %d rpc\n  Active:   %v\n  Messages: %d",
		snap.State, snap.SessionKey, snap.PendingRPCs, snap.TurnActive, snap.Emitted), nil
}

func cmdClearChat(m *Model, args []string) (string, error) {
	m.lines = nil
	m.updateViewport()
	return "Chat cleared.", nil
}

func cmdHelp(m *Model, args []string) (string, error) {
	cmds := getBuiltinCommands()
	cats := make(map[string][]Command)
	for _, cmd := range cmds {
		cats[cmd.Category] = append(cats[cmd.Category], cmd)
	}
	var b strings.Builder
	b.WriteString("Commands:\n\n")
	keys := make([]string, 0, len(cats))
	for k := range cats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, cat := range keys {
		b.WriteString(fmt.Sprintf("[%s]\n", cat))
		for _, cmd := range cats[cat] {
			als := ""
			if len(cmd.Aliases) > 0 {
				als = fmt.Sprintf(" (/%s)", strings.Join(cmd.Aliases, ", /"))
			}
			b.WriteString(fmt.Sprintf("  /%s%s - %s\n", cmd.Name, als, cmd.Description))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func cmdQuit(m *Model, args []string) (string, error) {
	return resultQuit, nil
}

func cmdShell(m *Model, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /sh <command>", nil
	}
	cmdStr := strings.Join(args, " ")
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/c", cmdStr)
	} else {
		cmd = exec.Command("sh", "-c", cmdStr)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Sprintf("$ %s\nError: %v\n%s", cmdStr, err, string(output)), nil
	}
	return fmt.Sprintf("$ %s\n%s", cmdStr, string(output)), nil
}

func cmdCd(m *Model, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /cd <dir>", nil
	}
	dir := strings.Join(args, " ")
	if err := os.Chdir(dir); err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	pwd, _ := os.Getwd()
	return fmt.Sprintf("Changed to: %s", pwd), nil
}

func cmdPwd(m *Model, args []string) (string, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return pwd, nil
}
