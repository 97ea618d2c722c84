package registry

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// UnknownChannel is what channel ids missing from a directory resolve to.
const UnknownChannel = "<NONE>"

const channelPageLimit = 100

// API is the part of the Slack Web API needed to build a workspace session.
// *slack.Client satisfies it.
type API interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
}

// Directory maps channel ids of one workspace to "<workspace>-<channel>".
// It is filled once and never changes afterwards.
type Directory struct {
	names map[string]string
}

// NewDirectory builds a directory for workspace from a channel listing.
// Channels without a normalized name are left out.
func NewDirectory(workspace string, channels []slack.Channel) *Directory {
	names := make(map[string]string, len(channels))
	for _, ch := range channels {
		if ch.ID == "" || ch.NameNormalized == "" {
			continue
		}
		names[ch.ID] = fmt.Sprintf("%s-%s", workspace, ch.NameNormalized)
	}
	return &Directory{names: names}
}

// Resolve returns the qualified name for id, or UnknownChannel.
func (d *Directory) Resolve(id string) string {
	if d == nil {
		return UnknownChannel
	}
	if name, ok := d.names[id]; ok {
		return name
	}
	return UnknownChannel
}

// Len reports the number of known channels.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.names)
}

// ListChannels pages through every non-archived channel visible to api.
func ListChannels(ctx context.Context, api API) ([]slack.Channel, error) {
	var (
		all    []slack.Channel
		cursor string
	)

	for {
		page, next, err := api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: true,
			Limit:           channelPageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		all = append(all, page...)

		if next == "" {
			return all, nil
		}
		cursor = next
	}
}
