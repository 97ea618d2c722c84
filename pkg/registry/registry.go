// Package registry builds the immutable bot state shared by every workspace
// supervisor and the message processor: workspace sessions with their
// channel directories, the compiled URL pattern and the log store target.
//
// A Registry is fully constructed before any goroutine sees it and is never
// mutated afterwards, so it is read concurrently without locking.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/slack-go/slack"

	"linklog/pkg/config"
	"linklog/pkg/logger"
)

// ErrPatternGroup reports a URL pattern without a capture group.
var ErrPatternGroup = errors.New("url pattern must contain at least one capture group")

// Dialer opens a Web API client for an API token.
type Dialer func(apiToken string) API

// SlackDialer returns a Dialer backed by slack-go.
func SlackDialer(opts ...slack.Option) Dialer {
	return func(apiToken string) API {
		return slack.New(apiToken, opts...)
	}
}

// Workspace is one connected Slack workspace.
type Workspace struct {
	Name        string
	APIToken    string
	SocketToken string
	TeamID      string
	Directory   *Directory
}

// Registry is the read-only bot state.
type Registry struct {
	URLPattern     string
	LogStoreTarget string
	Workspaces     []*Workspace

	pattern *regexp.Regexp
	byName  map[string]*Workspace
}

// New assembles a registry from already built workspaces.
func New(urlPattern string, logStoreTarget string, workspaces ...*Workspace) (*Registry, error) {
	pattern, err := CompilePattern(urlPattern)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*Workspace, len(workspaces))
	for _, ws := range workspaces {
		if _, dup := byName[ws.Name]; dup {
			return nil, fmt.Errorf("duplicate workspace %q", ws.Name)
		}
		byName[ws.Name] = ws
	}

	return &Registry{
		URLPattern:     urlPattern,
		LogStoreTarget: logStoreTarget,
		Workspaces:     workspaces,
		pattern:        pattern,
		byName:         byName,
	}, nil
}

// Build verifies every workspace's API token and loads its channel directory,
// one workspace after another. Any failure aborts the whole build.
func Build(ctx context.Context, cfg *config.Config, dial Dialer, log *slog.Logger) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if dial == nil {
		dial = SlackDialer()
	}
	log = logger.Component(log, "registry")

	started := time.Now()

	// Compile first so a bad pattern fails before any network call.
	if _, err := CompilePattern(cfg.URLRegex); err != nil {
		return nil, err
	}

	workspaces := make([]*Workspace, 0, len(cfg.Workspaces))
	for _, wsCfg := range cfg.Workspaces {
		ws, err := openWorkspace(ctx, wsCfg, dial(wsCfg.APIToken), log.With("workspace", wsCfg.Name))
		if err != nil {
			return nil, fmt.Errorf("workspace %s: %w", wsCfg.Name, err)
		}
		workspaces = append(workspaces, ws)
	}

	reg, err := New(cfg.URLRegex, cfg.URLLogDB, workspaces...)
	if err != nil {
		return nil, err
	}

	log.Info("Registry built", "workspaces", len(workspaces), "duration_ms", time.Since(started).Milliseconds())
	return reg, nil
}

func openWorkspace(ctx context.Context, cfg config.WorkspaceConfig, api API, log *slog.Logger) (*Workspace, error) {
	log.Info("Testing API")
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth test: %w", err)
	}
	log.Debug("API test passed", "team", auth.Team, "team_id", auth.TeamID, "user", auth.User)

	log.Info("Getting all channels")
	channels, err := ListChannels(ctx, api)
	if err != nil {
		return nil, err
	}

	dir := NewDirectory(cfg.Name, channels)
	log.Debug("Channel directory loaded", "listed", len(channels), "named", dir.Len())

	return &Workspace{
		Name:        cfg.Name,
		APIToken:    cfg.APIToken,
		SocketToken: cfg.SocketToken,
		TeamID:      auth.TeamID,
		Directory:   dir,
	}, nil
}

// Workspace looks a workspace up by name.
func (r *Registry) Workspace(name string) (*Workspace, bool) {
	ws, ok := r.byName[name]
	return ws, ok
}

// Resolve maps a channel id seen in workspace to its display name.
// Unknown workspaces and channels resolve to UnknownChannel.
func (r *Registry) Resolve(workspace string, channelID string) string {
	ws, ok := r.byName[workspace]
	if !ok {
		return UnknownChannel
	}
	return ws.Directory.Resolve(channelID)
}

// ExtractURLs returns capture group 1 of every non-overlapping pattern match
// in text, left to right. Matches where group 1 is empty are skipped.
func (r *Registry) ExtractURLs(text string) []string {
	return extract(r.pattern, text)
}

// CompilePattern compiles a URL detection pattern and checks it captures.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile url pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("compile url pattern %q: %w", pattern, ErrPatternGroup)
	}
	return re, nil
}

func extract(re *regexp.Regexp, text string) []string {
	if re == nil || text == "" {
		return nil
	}

	matches := re.FindAllStringSubmatch(text, -1)
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		if m[1] == "" {
			continue
		}
		urls = append(urls, m[1])
	}
	return urls
}
