package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	channelpkg "linklog/pkg/channel"
	"linklog/pkg/logger"
	"linklog/pkg/registry"
	"linklog/pkg/store"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Handler) error { return nil }

func TestWorkspaceNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "teamA"}, testAdapter{name: "teamB"}}
	if got := workspaceNames(adapters); got != "teamA,teamB" {
		t.Fatalf("workspaceNames = %q, want %q", got, "teamA,teamB")
	}
}

func TestWorkspaceAdaptersOnePerWorkspace(t *testing.T) {
	t.Parallel()

	reg, err := registry.New(`(x)`, "",
		&registry.Workspace{Name: "teamA", APIToken: "xoxb-a", SocketToken: "xapp-a"},
		&registry.Workspace{Name: "teamB", APIToken: "xoxb-b", SocketToken: "xapp-b"},
	)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	adapters, err := workspaceAdapters(reg, logger.Discard())
	if err != nil {
		t.Fatalf("workspaceAdapters: %v", err)
	}
	if got := workspaceNames(adapters); got != "teamA,teamB" {
		t.Fatalf("adapters = %q, want %q", got, "teamA,teamB")
	}
}

func TestWorkspaceAdaptersRejectsBadToken(t *testing.T) {
	t.Parallel()

	reg, err := registry.New(`(x)`, "", &registry.Workspace{Name: "teamA", APIToken: "xoxb-a", SocketToken: "xoxb-wrong"})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	if _, err := workspaceAdapters(reg, logger.Discard()); err == nil {
		t.Fatal("expected error for a non app-level socket token")
	}
}

func TestFormatSeen(t *testing.T) {
	t.Parallel()

	if got := formatSeen(0); got != "(none)" {
		t.Fatalf("formatSeen(0) = %q, want (none)", got)
	}

	want := time.Unix(1700000000, 0).Format("2006-01-02 15:04:05")
	if got := formatSeen(1700000000); got != want {
		t.Fatalf("formatSeen = %q, want %q", got, want)
	}
}

func TestPrintURLsEmpty(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := printURLs(&out, nil); err != nil {
		t.Fatalf("printURLs: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "no urls logged" {
		t.Fatalf("output = %q", got)
	}
}

func TestListURLs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "urllog.db")

	st, err := store.Open(ctx, path, logger.Discard())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	for _, rec := range []store.Record{
		{Seen: 100, Channel: "teamA-general", Nick: "N/A", URL: "https://old.example"},
		{Seen: 200, Channel: "teamB-dev", Nick: "N/A", URL: "https://other.example"},
		{Seen: 300, Channel: "teamA-general", Nick: "N/A", URL: "https://new.example"},
	} {
		if _, err := st.InsertURL(ctx, rec); err != nil {
			t.Fatalf("InsertURL: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var out bytes.Buffer
	if err := listURLs(ctx, &out, path, 1, "teamA", logger.Discard()); err != nil {
		t.Fatalf("listURLs: %v", err)
	}

	got := out.String()
	for _, want := range []string{"SEEN", "CHANNEL", "teamA-general", "https://new.example", formatSeen(300)} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	for _, unwanted := range []string{"https://old.example", "https://other.example"} {
		if strings.Contains(got, unwanted) {
			t.Fatalf("output should not contain %q:\n%s", unwanted, got)
		}
	}
}
