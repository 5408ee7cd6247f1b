package telegram

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestSplitMessageShort(t *testing.T) {
	chunks := splitMessage("fits", 100)
	if len(chunks) != 1 || chunks[0] != "fits" {
		t.Errorf("splitMessage = %v; want the text untouched", chunks)
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := "first line\nsecond line\nthird line"
	chunks := splitMessage(text, 25)

	if len(chunks) < 2 {
		t.Fatalf("splitMessage = %v; want multiple chunks", chunks)
	}
	for i, c := range chunks {
		if len(c) > 25 {
			t.Errorf("chunk %d length = %d; want <= 25", i, len(c))
		}
	}
	if chunks[0] != "first line\nsecond line" {
		t.Errorf("chunks[0] = %q; want the split at the last newline", chunks[0])
	}
	if got := strings.Join(chunks, "\n"); got != text {
		t.Errorf("rejoined = %q; want the original text", got)
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	text := strings.Repeat("a", 90)
	chunks := splitMessage(text, 40)

	var total int
	for i, c := range chunks {
		if len(c) > 40 {
			t.Errorf("chunk %d length = %d; want <= 40", i, len(c))
		}
		total += len(c)
	}
	if total != 90 {
		t.Errorf("total chunk length = %d; want 90 with nothing lost", total)
	}
}

func TestIsAllowed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	alice := &tgbotapi.User{ID: 12345, UserName: "alice"}

	tests := []struct {
		name      string
		allowFrom []string
		from      *tgbotapi.User
		want      bool
	}{
		{"empty_list_allows", nil, alice, true},
		{"nil_sender_denied", nil, nil, false},
		{"username_match", []string{"alice"}, alice, true},
		{"username_with_at", []string{"@alice"}, alice, true},
		{"numeric_id_match", []string{"12345"}, alice, true},
		{"no_match", []string{"bob", "99"}, alice, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := New(Config{AllowFrom: tc.allowFrom}, nil, logger)
			if got := r.isAllowed(tc.from); got != tc.want {
				t.Errorf("isAllowed = %v; want %v", got, tc.want)
			}
		})
	}
}
