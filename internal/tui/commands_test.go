package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		wantName string
		wantArgs []string
	}{
		{"/cancel", "cancel", nil},
		{"/sh ls -la", "sh", []string{"ls", "-la"}},
		{"  /status  ", "status", nil},
		{"not a command", "", nil},
		{"/", "", nil},
		{"", "", nil},
	}
	for _, tc := range tests {
		name, args := parseCommand(tc.input)
		if name != tc.wantName {
			t.Errorf("parseCommand(%q) name = %q; want %q", tc.input, name, tc.wantName)
		}
		if len(args) != len(tc.wantArgs) {
			t.Errorf("parseCommand(%q) args = %v; want %v", tc.input, args, tc.wantArgs)
			continue
		}
		for i := range args {
			if args[i] != tc.wantArgs[i] {
				t.Errorf("parseCommand(%q) args = %v; want %v", tc.input, args, tc.wantArgs)
				break
			}
		}
	}
}

func TestFindCommand(t *testing.T) {
	tests := []struct {
		name  string
		found bool
	}{
		{"cancel", true},
		{"status", true},
		{"help", true},
		{"quit", true},
		{"exit", true}, // alias of quit
		{"CANCEL", true},
		{"bogus", false},
	}
	for _, tc := range tests {
		cmd := findCommand(tc.name)
		if (cmd != nil) != tc.found {
			t.Errorf("findCommand(%q) found = %v; want %v", tc.name, cmd != nil, tc.found)
		}
	}
}

func TestEveryCommandHasHandler(t *testing.T) {
	for _, cmd := range getBuiltinCommands() {
		if cmd.Handler == nil {
			t.Errorf("command %q has no handler", cmd.Name)
		}
		if cmd.Description == "" {
			t.Errorf("command %q has no description", cmd.Name)
		}
	}
}
