package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/require"

	"linklog/pkg/config"
	"linklog/pkg/logger"
)

type fakeAPI struct {
	authErr  error
	listErr  error
	pages    [][]slack.Channel
	cursors  []string
	params   []slack.GetConversationsParameters
	authHits int
}

func (f *fakeAPI) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	f.authHits++
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &slack.AuthTestResponse{Team: "Team", TeamID: "T1", User: "linklog"}, nil
}

func (f *fakeAPI) GetConversationsContext(_ context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	f.params = append(f.params, *params)
	if f.listErr != nil {
		return nil, "", f.listErr
	}

	page := len(f.params) - 1
	next := ""
	if page+1 < len(f.pages) {
		next = f.cursors[page]
	}
	return f.pages[page], next, nil
}

func channel(id string, name string) slack.Channel {
	return slack.Channel{GroupConversation: slack.GroupConversation{
		Conversation: slack.Conversation{ID: id, NameNormalized: name},
		Name:         name,
	}}
}

func dialerFor(apis map[string]*fakeAPI) Dialer {
	return func(token string) API { return apis[token] }
}

func testConfig(workspaces ...config.WorkspaceConfig) *config.Config {
	return &config.Config{
		URLRegex:   `(https?://\S+)`,
		URLLogDB:   "/tmp/urls.db",
		Workspaces: workspaces,
	}
}

func TestBuildPaginatesChannelsPerWorkspace(t *testing.T) {
	apiA := &fakeAPI{
		pages:   [][]slack.Channel{{channel("C1", "general")}, {channel("C2", "random"), channel("C3", "")}},
		cursors: []string{"page-2"},
	}
	apiB := &fakeAPI{pages: [][]slack.Channel{{channel("D1", "dev")}}}

	cfg := testConfig(
		config.WorkspaceConfig{Name: "teamA", APIToken: "a", SocketToken: "xapp-a"},
		config.WorkspaceConfig{Name: "teamB", APIToken: "b", SocketToken: "xapp-b"},
	)

	reg, err := Build(context.Background(), cfg, dialerFor(map[string]*fakeAPI{"a": apiA, "b": apiB}), logger.Discard())
	require.NoError(t, err)

	require.Len(t, reg.Workspaces, 2)
	require.Equal(t, "/tmp/urls.db", reg.LogStoreTarget)
	require.Equal(t, "teamA-general", reg.Resolve("teamA", "C1"))
	require.Equal(t, "teamA-random", reg.Resolve("teamA", "C2"))
	require.Equal(t, UnknownChannel, reg.Resolve("teamA", "C3"), "channels without a normalized name are skipped")
	require.Equal(t, "teamB-dev", reg.Resolve("teamB", "D1"))
	require.Equal(t, UnknownChannel, reg.Resolve("teamB", "C1"))
	require.Equal(t, UnknownChannel, reg.Resolve("nope", "C1"))

	require.Len(t, apiA.params, 2)
	require.True(t, apiA.params[0].ExcludeArchived)
	require.Equal(t, channelPageLimit, apiA.params[0].Limit)
	require.Equal(t, "page-2", apiA.params[1].Cursor)

	ws, ok := reg.Workspace("teamA")
	require.True(t, ok)
	require.Equal(t, "T1", ws.TeamID)
	require.Equal(t, "xapp-a", ws.SocketToken)
}

func TestBuildWithoutWorkspaces(t *testing.T) {
	reg, err := Build(context.Background(), testConfig(), dialerFor(nil), logger.Discard())
	require.NoError(t, err)
	require.Empty(t, reg.Workspaces)
}

func TestBuildFailsOnAuthError(t *testing.T) {
	apiA := &fakeAPI{pages: [][]slack.Channel{{channel("C1", "general")}}}
	apiB := &fakeAPI{authErr: errors.New("invalid_auth")}

	cfg := testConfig(
		config.WorkspaceConfig{Name: "teamA", APIToken: "a", SocketToken: "xapp-a"},
		config.WorkspaceConfig{Name: "teamB", APIToken: "b", SocketToken: "xapp-b"},
	)

	reg, err := Build(context.Background(), cfg, dialerFor(map[string]*fakeAPI{"a": apiA, "b": apiB}), logger.Discard())
	require.Error(t, err)
	require.Nil(t, reg)
	require.Contains(t, err.Error(), "teamB")
}

func TestBuildFailsOnListingError(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("ratelimited")}
	cfg := testConfig(config.WorkspaceConfig{Name: "teamA", APIToken: "a", SocketToken: "xapp-a"})

	_, err := Build(context.Background(), cfg, dialerFor(map[string]*fakeAPI{"a": api}), logger.Discard())
	require.Error(t, err)
}

func TestBuildFailsOnBadPatternBeforeNetwork(t *testing.T) {
	api := &fakeAPI{}
	cfg := testConfig(config.WorkspaceConfig{Name: "teamA", APIToken: "a", SocketToken: "xapp-a"})
	cfg.URLRegex = `(https?://`

	_, err := Build(context.Background(), cfg, dialerFor(map[string]*fakeAPI{"a": api}), logger.Discard())
	require.Error(t, err)
	require.Zero(t, api.authHits)
}

func TestCompilePatternRequiresGroup(t *testing.T) {
	_, err := CompilePattern(`https?://\S+`)
	require.ErrorIs(t, err, ErrPatternGroup)
}

func TestExtractURLs(t *testing.T) {
	reg, err := New(`(https?://\S+)`, "")
	require.NoError(t, err)

	require.Equal(t,
		[]string{"https://a.example", "https://b.example"},
		reg.ExtractURLs("see https://a.example and https://b.example"),
	)
	require.Empty(t, reg.ExtractURLs("no links here"))
	require.Empty(t, reg.ExtractURLs(""))
}

func TestExtractURLsDefaultPatternHandlesSlackMarkup(t *testing.T) {
	reg, err := New(config.DefaultURLRegex, "")
	require.NoError(t, err)

	got := reg.ExtractURLs("look <https://go.dev/doc|docs> and <http://example.com/x?y=1>")
	require.Equal(t, []string{"https://go.dev/doc", "http://example.com/x?y=1"}, got)
}

func TestExtractURLsSkipsEmptyGroup(t *testing.T) {
	reg, err := New(`(https://\S+)|ftp://\S+`, "")
	require.NoError(t, err)

	require.Equal(t, []string{"https://x.example"}, reg.ExtractURLs("ftp://old.example https://x.example"))
}

func TestNewRejectsDuplicateWorkspace(t *testing.T) {
	_, err := New(`(x)`, "", &Workspace{Name: "a"}, &Workspace{Name: "a"})
	require.Error(t, err)
}

func TestDirectoryResolve(t *testing.T) {
	dir := NewDirectory("teamA", []slack.Channel{channel("C1", "general")})

	require.Equal(t, "teamA-general", dir.Resolve("C1"))
	require.Equal(t, UnknownChannel, dir.Resolve("C9"))
	require.Equal(t, 1, dir.Len())

	var missing *Directory
	require.Equal(t, UnknownChannel, missing.Resolve("C1"))
}
