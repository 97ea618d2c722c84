// Package dispatch runs the single consumer of the fan-in queue: it resolves
// each message's channel, extracts URLs and writes them to the url log.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"linklog/pkg/bus"
	"linklog/pkg/logger"
	"linklog/pkg/metrics"
	"linklog/pkg/registry"
	"linklog/pkg/store"
)

const (
	// PlaceholderAuthor is recorded as the nick of every URL; authors are
	// not tracked from event metadata.
	PlaceholderAuthor = "N/A"

	defaultInsertTimeout = 5 * time.Second
	previewLimit         = 200
)

// URLStore is the insert side of the url log.
type URLStore interface {
	InsertURL(ctx context.Context, rec store.Record) (int64, error)
}

// Envelope is one queued item: the registry the event was resolved against
// and the message itself.
type Envelope struct {
	Registry *registry.Registry
	Message  bus.InboundMessage
}

// Options tunes a Processor. Zero values select defaults.
type Options struct {
	InsertTimeout time.Duration
	Now           func() time.Time
}

// Result summarizes the handling of one envelope.
type Result struct {
	Skipped  bool
	Channel  string
	URLs     []string
	Inserted int
	Failed   int
}

// Processor handles envelopes one at a time. It is not safe for concurrent
// use; Run is its only intended caller.
type Processor struct {
	store         URLStore
	metrics       *metrics.Metrics
	hub           *bus.Hub
	log           *slog.Logger
	insertTimeout time.Duration
	now           func() time.Time
}

func NewProcessor(st URLStore, m *metrics.Metrics, hub *bus.Hub, log *slog.Logger, opts Options) (*Processor, error) {
	if st == nil {
		return nil, errors.New("url store is required")
	}

	timeout := opts.InsertTimeout
	if timeout <= 0 {
		timeout = defaultInsertTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Processor{
		store:         st,
		metrics:       m,
		hub:           hub,
		log:           logger.Component(log, "dispatch.processor"),
		insertTimeout: timeout,
		now:           now,
	}, nil
}

// Run consumes q until every producer has been released and the queue is
// drained, or ctx is done.
func (p *Processor) Run(ctx context.Context, q *bus.Queue[Envelope]) error {
	p.log.Debug("Processor started")
	processed := 0

	for {
		env, ok := q.Receive(ctx)
		if !ok {
			p.metrics.SetQueueDepth(q.Len())
			p.log.Info("Processor stopped", "processed", processed)
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		}

		p.metrics.SetQueueDepth(q.Len())
		p.Handle(ctx, env)
		processed++
	}
}

// Handle processes one envelope. Insert failures are logged and never stop
// the remaining URLs from being attempted.
func (p *Processor) Handle(ctx context.Context, env Envelope) Result {
	msg := env.Message
	p.metrics.MessageReceived(msg.Workspace)

	if !msg.HasChannel() || !msg.HasText() {
		p.metrics.MessageSkipped()
		p.log.Debug("Skipping message without channel or text", "workspace", msg.Workspace, "id", msg.ID)
		return Result{Skipped: true}
	}

	channel := registry.UnknownChannel
	if env.Registry != nil {
		channel = env.Registry.Resolve(msg.Workspace, msg.ChannelID)
	}
	log := p.log.With("workspace", msg.Workspace, "channel", channel)

	log.Info("#" + channel + ": " + preview(msg.Text))
	p.hub.Publish(bus.Event{
		Type:      bus.EventMessageReceived,
		At:        p.now().UTC(),
		Workspace: msg.Workspace,
		Channel:   channel,
	})

	result := Result{Channel: channel}
	if env.Registry == nil {
		log.Warn("Message has no registry, skipping url detection", "id", msg.ID)
		return result
	}

	result.URLs = env.Registry.ExtractURLs(msg.Text)
	for _, url := range result.URLs {
		p.metrics.URLDetected(msg.Workspace)
		log.Info("on "+channel+" detected url: "+url, "url", url)

		if err := p.insert(ctx, log, msg.Workspace, channel, url); err != nil {
			result.Failed++
			continue
		}
		result.Inserted++
	}

	return result
}

func (p *Processor) insert(ctx context.Context, log *slog.Logger, workspace, channel, url string) error {
	rec := store.Record{
		Seen:    p.now().Unix(),
		Channel: channel,
		Nick:    PlaceholderAuthor,
		URL:     url,
	}

	insertCtx, cancel := context.WithTimeout(ctx, p.insertTimeout)
	defer cancel()

	started := time.Now()
	rows, err := p.store.InsertURL(insertCtx, rec)
	p.metrics.ObserveInsert(err, time.Since(started).Seconds())

	event := bus.Event{
		Type:      bus.EventURLLogged,
		At:        p.now().UTC(),
		Workspace: workspace,
		Channel:   channel,
		URL:       url,
	}
	if err != nil {
		log.Error("Failed to insert url", "url", url, "error", err)
		event.Type = bus.EventInsertFailed
		event.Error = err.Error()
		p.hub.Publish(event)
		return err
	}

	log.Info("inserted "+rowsLabel(rows), "url", url, "rows", rows)
	p.hub.Publish(event)
	return nil
}

func rowsLabel(rows int64) string {
	if rows == 1 {
		return "1 row"
	}
	return strconv.FormatInt(rows, 10) + " rows"
}

// preview bounds message text for logging without splitting a rune.
func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLimit]) + "..."
}
