package commands

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/history"
	"github.com/diogo/quillchat/internal/models"
)

// seedHistory stores conversations titled after each question, oldest first
func seedHistory(t *testing.T, dir string, questions ...string) *history.Store {
	t.Helper()
	store, err := history.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range questions {
		conv, err := store.CreateConversation(models.DefaultQualityProfile)
		if err != nil {
			t.Fatal(err)
		}
		msgs := []models.ChatMessage{
			{Role: models.RoleUser, Content: q, MsgNum: 1},
			{Role: models.RoleAssistant, Content: "Answer to " + q, MsgNum: 2, Final: true,
				Sources: []models.Source{{Title: "Ref", URL: "https://ref.example", MsgNum: 2}}},
		}
		if err := store.ReplaceMessages(conv.ID, "chat-"+q, msgs, nil); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestHistoryCommand(t *testing.T) {
	if historyCmd.Use != "history" {
		t.Errorf("Expected use 'history', got %s", historyCmd.Use)
	}

	expected := []string{"list", "show", "delete", "clear", "rename", "favorite", "export", "search"}
	for _, sub := range expected {
		found := false
		for _, cmd := range historyCmd.Commands() {
			if cmd.Name() == sub {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Subcommand %s not found", sub)
		}
	}
}

func TestHistoryList(t *testing.T) {
	dir := setupConfigDir(t)

	out, err := runCLI(t, "", "history", "list")
	if err != nil {
		t.Fatalf("history list error = %v", err)
	}
	if !strings.Contains(out, "No conversations found.") {
		t.Errorf("unexpected output: %q", out)
	}

	seedHistory(t, dir, "alpha question", "beta question")
	out, err = runCLI(t, "", "history", "list")
	if err != nil {
		t.Fatalf("history list error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", out)
	}
	// most recent first
	if !strings.Contains(lines[1], "beta question") || !strings.Contains(lines[2], "alpha question") {
		t.Errorf("unexpected order: %q", out)
	}
}

func TestHistoryShow(t *testing.T) {
	dir := setupConfigDir(t)
	seedHistory(t, dir, "what is rust")

	out, err := runCLI(t, "", "history", "show", "@last")
	if err != nil {
		t.Fatalf("history show error = %v", err)
	}
	for _, want := range []string{"Title: what is rust", "Chat: chat-what is rust", "Quillium", "Answer to what is rust", "[1] Ref <https://ref.example>"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	_, err = runCLI(t, "", "history", "show", "no such title")
	if !errors.Is(err, apierrors.ErrNotFound) {
		t.Errorf("show unknown error = %v, want ErrNotFound", err)
	}
}

func TestHistoryExport(t *testing.T) {
	dir := setupConfigDir(t)
	seedHistory(t, dir, "export me")

	out, err := runCLI(t, "", "history", "export", "1", "--format", "json", "--metadata")
	if err != nil {
		t.Fatalf("history export error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("export is not JSON: %v\n%s", err, out)
	}
	if doc["title"] != "export me" {
		t.Errorf("title = %v", doc["title"])
	}

	target := filepath.Join(t.TempDir(), "conversation")
	if _, err := runCLI(t, "", "history", "export", "1", "--format", "md", "-o", target); err != nil {
		t.Fatalf("history export to file error = %v", err)
	}
	data, err := os.ReadFile(target + ".md")
	if err != nil {
		t.Fatalf("export file missing: %v", err)
	}
	if !strings.Contains(string(data), "## Assistant") {
		t.Errorf("markdown export = %q", data)
	}

	if _, err := runCLI(t, "", "history", "export", "1", "--format", "pdf"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestHistoryFavoriteAndRename(t *testing.T) {
	dir := setupConfigDir(t)
	store := seedHistory(t, dir, "first", "second")

	out, err := runCLI(t, "", "history", "favorite", "first")
	if err != nil {
		t.Fatalf("favorite error = %v", err)
	}
	if !strings.Contains(out, "Marked as favorite") {
		t.Errorf("unexpected output: %q", out)
	}

	convs, err := store.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if convs[0].Title != "first" {
		t.Errorf("favorite should be listed first, got %q", convs[0].Title)
	}

	if _, err := runCLI(t, "", "history", "rename", "second", "Renamed chat"); err != nil {
		t.Fatalf("rename error = %v", err)
	}
	if _, err := runCLI(t, "", "history", "show", "Renamed"); err != nil {
		t.Errorf("renamed conversation not found: %v", err)
	}

	if _, err := runCLI(t, "", "history", "rename", "first", "   "); err == nil {
		t.Error("expected error for empty title")
	}
}

func TestHistorySearch(t *testing.T) {
	dir := setupConfigDir(t)
	seedHistory(t, dir, "golang channels", "python asyncio")

	out, err := runCLI(t, "", "history", "search", "golang")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	if !strings.Contains(out, "golang channels") || strings.Contains(out, "python") {
		t.Errorf("unexpected search output: %q", out)
	}

	out, err = runCLI(t, "", "history", "search", "Answer to python", "--content")
	if err != nil {
		t.Fatalf("content search error = %v", err)
	}
	if !strings.Contains(out, "python asyncio") {
		t.Errorf("content search missed: %q", out)
	}

	out, err = runCLI(t, "", "history", "search", "haskell")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No matching conversations.") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestHistoryDeleteAndClear(t *testing.T) {
	dir := setupConfigDir(t)
	store := seedHistory(t, dir, "keep", "drop", "other")

	if _, err := runCLI(t, "", "history", "delete", "drop"); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	convs, _ := store.ListConversations()
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations after delete, got %d", len(convs))
	}

	out, err := runCLI(t, "n\n", "history", "clear")
	if err != nil {
		t.Fatalf("clear error = %v", err)
	}
	if !strings.Contains(out, "Aborted.") {
		t.Errorf("clear should ask first: %q", out)
	}
	convs, _ = store.ListConversations()
	if len(convs) != 2 {
		t.Fatalf("declined clear deleted conversations")
	}

	if _, err := runCLI(t, "y\n", "history", "clear"); err != nil {
		t.Fatalf("clear error = %v", err)
	}
	convs, _ = store.ListConversations()
	if len(convs) != 0 {
		t.Errorf("expected empty history, got %d", len(convs))
	}
}
