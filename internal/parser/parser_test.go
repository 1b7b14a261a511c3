package parser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/taskplanner/internal/models"
)

// Wednesday 2025-01-08 10:15.
var fixedNow = time.Date(2025, 1, 8, 10, 15, 0, 0, time.UTC)

func TestResolveDeadline(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"tomorrow", time.Date(2025, 1, 9, 23, 59, 0, 0, time.UTC)},
		{"By Tomorrow evening", time.Date(2025, 1, 9, 23, 59, 0, 0, time.UTC)},
		{"next week", time.Date(2025, 1, 15, 23, 59, 0, 0, time.UTC)},
		{"next monday", time.Date(2025, 1, 13, 23, 59, 0, 0, time.UTC)},
		{"next friday", time.Date(2025, 1, 10, 23, 59, 0, 0, time.UTC)},
		{"2025-02-01T12:00:00Z", time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ResolveDeadline(tt.in, fixedNow)
			if err != nil {
				t.Fatalf("ResolveDeadline(%q): %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("ResolveDeadline(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveDeadlineNextFridayOnFriday(t *testing.T) {
	friday := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	got, err := ResolveDeadline("next friday", friday)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := time.Date(2025, 1, 17, 23, 59, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"title\":\"a\"}\n```":   `{"title":"a"}`,
		"Here you go:\n```\n[1]\n```\nbye": "[1]",
		`  {"title":"plain"} `:              `{"title":"plain"}`,
	}
	for in, want := range tests {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeDrafts(t *testing.T) {
	reply := "```json\n[" +
		`{"title":"Call bank","priority":3,"deadline":"tomorrow","space_id":"abc"},` +
		`{"title":"Read paper","estimated_duration":90,"space_id":7,"deadline":"not a date"}` +
		"]\n```"

	drafts, err := decodeDrafts(reply, fixedNow, zerolog.Nop())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts", len(drafts))
	}

	first := drafts[0]
	if first.Priority != 3 || first.EstimatedDuration != models.DefaultEstimatedMinutes {
		t.Fatalf("first draft = %+v", first)
	}
	if first.SpaceID == nil || *first.SpaceID != "abc" {
		t.Fatalf("first space id = %v", first.SpaceID)
	}
	if first.Deadline == nil || first.Deadline.Day() != 9 {
		t.Fatalf("first deadline = %v", first.Deadline)
	}

	second := drafts[1]
	if second.EstimatedDuration != 90 || second.Deadline != nil {
		t.Fatalf("second draft = %+v", second)
	}
	if second.SpaceID == nil || *second.SpaceID != "7" {
		t.Fatalf("second space id = %v", second.SpaceID)
	}
}

func TestDecodeDraftsRejectsGarbage(t *testing.T) {
	for _, reply := range []string{"sorry, I can't", "[]", `{"description":"no title"}`} {
		if _, err := decodeDrafts(reply, fixedNow, zerolog.Nop()); !errors.Is(err, ErrMalformed) {
			t.Errorf("decodeDrafts(%q) error = %v, want ErrMalformed", reply, err)
		}
	}
}

func TestParseCallsCompletionsEndpoint(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"title\":\"Buy milk\",\"deadline\":\"next monday\"}"}}]}`))
	}))
	defer srv.Close()

	client := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Model: "m", Location: time.UTC}, zerolog.Nop())
	client.now = func() time.Time { return fixedNow }

	drafts, err := client.Parse(context.Background(), "buy milk by next monday", "system")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(drafts) != 1 || drafts[0].Title != "Buy milk" {
		t.Fatalf("drafts = %+v", drafts)
	}
	if got.Model != "m" || len(got.Messages) != 2 || got.Messages[0].Content != "system" {
		t.Fatalf("request = %+v", got)
	}
	if !strings.Contains(got.Messages[1].Content, "2025-01-08 10:15") {
		t.Fatalf("user message lacks current time: %q", got.Messages[1].Content)
	}
}

func TestParseUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(Config{APIKey: "k", BaseURL: srv.URL}, zerolog.Nop())
	if _, err := client.Parse(context.Background(), "x", "s"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestParseWithoutKey(t *testing.T) {
	client := New(Config{}, zerolog.Nop())
	if client.Enabled() {
		t.Fatal("client without key should be disabled")
	}
	if _, err := client.Parse(context.Background(), "x", "s"); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestFallback(t *testing.T) {
	long := strings.Repeat("é", 150)
	d := Fallback(long)
	if len([]rune(d.Title)) != 100 {
		t.Fatalf("title length = %d", len([]rune(d.Title)))
	}
	if d.Description != long || d.Priority != FallbackPriority {
		t.Fatalf("fallback = %+v", d)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	spaces := []models.Space{{ID: "1", Name: "work", Description: "office"}}
	prompt := BuildSystemPrompt("base", spaces, "work")
	for _, want := range []string{"base", "- ID: 1, Name: work, Description: office", "'work' space"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(BuildSystemPrompt("base", spaces, ""), "IMPORTANT") {
		t.Error("hint section present without a hint")
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	missing, err := LoadSystemPrompt(filepath.Join(t.TempDir(), "missing.md"))
	if err != nil || missing != DefaultSystemPrompt {
		t.Fatalf("missing file = %q, %v", missing, err)
	}

	path := filepath.Join(t.TempDir(), "prompt.md")
	if err := os.WriteFile(path, []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}
	custom, err := LoadSystemPrompt(path)
	if err != nil || custom != "custom" {
		t.Fatalf("custom = %q, %v", custom, err)
	}
}
