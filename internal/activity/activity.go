// Package activity holds the Direct Line wire protocol shapes exchanged
// with the transport, as opposed to the canonical shapes in domain.
package activity

// Activity types observed on the wire.
const (
	TypeMessage = "message"
	TypeEvent   = "event"
	TypeTyping  = "typing"
)

// Attachment content types recognized by the inbound mappers.
const (
	ContentHero      = "application/vnd.microsoft.card.hero"
	ContentAdaptive  = "application/vnd.microsoft.card.adaptive"
	ContentAnimation = "application/vnd.microsoft.card.animation"
	ContentAudio     = "application/vnd.microsoft.card.audio"
	ContentVideo     = "application/vnd.microsoft.card.video"
	ContentThumbnail = "application/vnd.microsoft.card.thumbnail"
	ContentMarkdown  = "text/markdown"
	ContentPlain     = "text/plain"
)

// Activity is one unit of the transport wire protocol.
type Activity struct {
	Type             string            `json:"type"`
	ID               string            `json:"id,omitempty"`
	Timestamp        string            `json:"timestamp,omitempty"`
	From             ChannelAccount    `json:"from"`
	Conversation     *Conversation     `json:"conversation,omitempty"`
	Text             string            `json:"text,omitempty"`
	Speak            string            `json:"speak,omitempty"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	SuggestedActions *SuggestedActions `json:"suggestedActions,omitempty"`
	Entities         []Entity          `json:"entities,omitempty"`
	Value            any               `json:"value,omitempty"`
	Name             string            `json:"name,omitempty"`
	ChannelData      any               `json:"channelData,omitempty"`
}

// ChannelAccount identifies a conversation participant.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Conversation identifies the conversation an activity belongs to.
type Conversation struct {
	ID string `json:"id"`
}

// Attachment carries rich content (card document) or a bare content URL.
type Attachment struct {
	ContentType  string `json:"contentType"`
	Content      any    `json:"content,omitempty"`
	ContentURL   string `json:"contentUrl,omitempty"`
	Name         string `json:"name,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// SuggestedActions are the quick-reply buttons attached to an activity.
type SuggestedActions struct {
	Actions []CardAction `json:"actions"`
}

// CardAction is a button on a card or in suggested actions.
type CardAction struct {
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
	Value any    `json:"value,omitempty"`
	Image string `json:"image,omitempty"`
}

// Entity is an opaque name/value pair on an activity.
type Entity struct {
	Name  string `json:"name,omitempty"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Set is one frame of the activity stream: a batch of activities plus the
// server watermark for polling continuation.
type Set struct {
	Activities []Activity `json:"activities"`
	Watermark  string     `json:"watermark,omitempty"`
}
