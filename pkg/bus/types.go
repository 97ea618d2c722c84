package bus

import "time"

// InboundMessage is one message event received from a workspace, detached
// from the transport library's own types.
type InboundMessage struct {
	ID         string    `json:"id"`
	Workspace  string    `json:"workspace"`
	ChannelID  string    `json:"channel_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Text       string    `json:"text,omitempty"`
	Timestamp  string    `json:"ts,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// HasChannel reports whether the event names a channel.
func (m InboundMessage) HasChannel() bool {
	return m.ChannelID != ""
}

// HasText reports whether the event carries a text payload.
func (m InboundMessage) HasText() bool {
	return m.Text != ""
}
