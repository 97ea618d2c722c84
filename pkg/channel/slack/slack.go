package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"linklog/pkg/bus"
	"linklog/pkg/channel"
	"linklog/pkg/logger"
	"linklog/pkg/registry"
)

const shutdownGrace = 5 * time.Second

// listener is the socket mode surface the adapter drives.
type listener interface {
	Events() <-chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
	Run(ctx context.Context) error
}

type socketListener struct {
	client *socketmode.Client
}

func (l socketListener) Events() <-chan socketmode.Event { return l.client.Events }

func (l socketListener) Ack(req socketmode.Request, payload ...interface{}) {
	l.client.Ack(req, payload...)
}

func (l socketListener) Run(ctx context.Context) error { return l.client.RunContext(ctx) }

// Adapter supervises the socket mode connection of one workspace.
type Adapter struct {
	workspace string
	listener  listener
	log       *slog.Logger
	now       func() time.Time
}

// NewAdapter opens a socket mode listener bound to the workspace's app-level
// token. No connection is made until Run.
func NewAdapter(ws *registry.Workspace, log *slog.Logger) (*Adapter, error) {
	if ws == nil {
		return nil, errors.New("workspace is required")
	}
	if strings.TrimSpace(ws.APIToken) == "" {
		return nil, fmt.Errorf("workspace %s: api token is required", ws.Name)
	}
	if !strings.HasPrefix(ws.SocketToken, "xapp-") {
		return nil, fmt.Errorf("workspace %s: socket token must start with xapp-", ws.Name)
	}

	log = logger.Component(log, "channel.slack").With("workspace", ws.Name)
	traceLog := slog.NewLogLogger(log.Handler(), logger.LevelTrace)
	debug := log.Enabled(context.Background(), logger.LevelTrace)

	api := slack.New(
		ws.APIToken,
		slack.OptionAppLevelToken(ws.SocketToken),
		slack.OptionDebug(debug),
		slack.OptionLog(traceLog),
	)
	client := socketmode.New(
		api,
		socketmode.OptionDebug(debug),
		socketmode.OptionLog(traceLog),
	)

	return newAdapter(ws.Name, socketListener{client: client}, log), nil
}

func newAdapter(workspace string, l listener, log *slog.Logger) *Adapter {
	if log == nil {
		log = logger.Component(nil, "channel.slack").With("workspace", workspace)
	}
	return &Adapter{
		workspace: workspace,
		listener:  l,
		log:       log,
		now:       time.Now,
	}
}

// Name returns the workspace name.
func (a *Adapter) Name() string {
	return a.workspace
}

// Run serves the connection until it terminates or ctx is done, forwarding
// message events to handler. Returning nil means a local shutdown.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	served := make(chan error, 1)
	go func() {
		served <- a.listener.Run(runCtx)
	}()

	a.log.Debug("Serving socket mode connection")
	events := a.listener.Events()

	for {
		select {
		case <-ctx.Done():
			cancel()
			select {
			case err := <-served:
				a.log.Info("Socket listener stopped", "error", err)
			case <-time.After(shutdownGrace):
				a.log.Warn("Socket listener did not stop in time")
			}
			return nil

		case err := <-served:
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New("socket listener returned without error")
			}
			a.log.Error("Socket listener returned", "error", err)
			return err

		case evt, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("socket mode events channel closed")
			}
			a.handleEvent(runCtx, evt, handler)
		}
	}
}

// handleEvent routes one socket mode event. Every event carrying an envelope
// is acknowledged, whatever happens locally, so Slack never redelivers it.
func (a *Adapter) handleEvent(ctx context.Context, evt socketmode.Event, handler channel.Handler) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		a.log.Info("Connecting to socket mode")
	case socketmode.EventTypeConnected:
		a.log.Info("Connected to socket mode")
	case socketmode.EventTypeHello:
		a.log.Debug("Socket mode hello received")
	case socketmode.EventTypeDisconnect:
		a.log.Warn("Socket mode disconnect requested")

	case socketmode.EventTypeConnectionError,
		socketmode.EventTypeInvalidAuth,
		socketmode.EventTypeIncomingError,
		socketmode.EventTypeErrorWriteFailed,
		socketmode.EventTypeErrorBadMessage:
		a.handleError(evt)

	case socketmode.EventTypeInteractive, socketmode.EventTypeSlashCommand:
		a.ack(evt)
		a.handleInteraction(evt)

	case socketmode.EventTypeEventsAPI:
		a.ack(evt)
		a.handlePush(ctx, evt, handler)

	default:
		a.ack(evt)
		a.log.Debug("Ignoring socket mode event", "type", evt.Type)
	}
}

// handleError logs a transport or protocol error and still acknowledges.
func (a *Adapter) handleError(evt socketmode.Event) {
	a.ack(evt)
	a.log.Error("Socket mode error", "type", evt.Type, "error", errorDetail(evt.Data))
}

func (a *Adapter) handleInteraction(evt socketmode.Event) {
	switch data := evt.Data.(type) {
	case slack.InteractionCallback:
		a.log.Info("Interaction event", "type", data.Type, "callback_id", data.CallbackID, "user", data.User.ID)
	case slack.SlashCommand:
		a.log.Info("Slash command", "command", data.Command, "channel", data.ChannelID, "user", data.UserID)
	default:
		a.log.Info("Interaction event", "type", evt.Type)
	}
}

func (a *Adapter) handlePush(ctx context.Context, evt socketmode.Event, handler channel.Handler) {
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		a.log.Warn("Unexpected events API payload", "data_type", fmt.Sprintf("%T", evt.Data))
		return
	}
	if apiEvent.Type != slackevents.CallbackEvent {
		a.log.Debug("Ignoring events API envelope", "type", apiEvent.Type)
		return
	}

	msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		a.log.Debug("Ignoring push event", "type", apiEvent.InnerEvent.Type)
		return
	}

	inbound := bus.InboundMessage{
		ID:         uuid.NewString(),
		Workspace:  a.workspace,
		ChannelID:  msg.Channel,
		UserID:     msg.User,
		Text:       msg.Text,
		Timestamp:  msg.TimeStamp,
		ReceivedAt: a.now().UTC(),
	}
	a.log.Log(ctx, logger.LevelTrace, "Message event", "id", inbound.ID, "channel", msg.Channel, "subtype", msg.SubType)

	if err := handler(ctx, inbound); err != nil {
		a.log.Error("Failed to forward message event", "id", inbound.ID, "channel", msg.Channel, "error", err)
	}
}

func (a *Adapter) ack(evt socketmode.Event) {
	if evt.Request == nil {
		return
	}
	a.listener.Ack(*evt.Request)
}

func errorDetail(data interface{}) string {
	switch v := data.(type) {
	case nil:
		return "unknown"
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}
