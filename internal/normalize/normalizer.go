// Package normalize turns the transport's heterogeneous activity stream
// into canonical inbound messages: type filtering, self-exclusion,
// at-most-once dedup by identifier and per-content-type mapping.
package normalize

import (
	"encoding/json"
	"log/slog"

	"github.com/tidwall/gjson"

	"dlbridge/internal/activity"
	"dlbridge/internal/domain"
)

// SenderBot is the canonical sender tag on every delivered message.
const SenderBot = "bot"

// Config configures a Normalizer for one session.
type Config struct {
	// SelfID is this session's own sender identity; its activities are
	// dropped.
	SelfID string
	// Allowed is the activity-type allow-list predicate. Defaults to
	// message activities only.
	Allowed func(activityType string) bool
	// ValueMap maps a non-message activity type to the dotted path of the
	// field used as its message text.
	ValueMap map[string]string
	// Buffer is the delivery queue size between the stream and the
	// consumer.
	Buffer int
	Logger *slog.Logger
}

// Normalizer consumes wire activities and delivers canonical messages in
// arrival order. The seen-identifier set only grows for the lifetime of a
// session.
type Normalizer struct {
	selfID   string
	allowed  func(string) bool
	valueMap map[string]string
	logger   *slog.Logger

	seen map[string]struct{}
	out  chan domain.InboundMessage
}

// New creates a normalizer with a fresh dedup set.
func New(cfg Config) *Normalizer {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	allowed := cfg.Allowed
	if allowed == nil {
		allowed = func(t string) bool { return t == activity.TypeMessage }
	}
	return &Normalizer{
		selfID:   cfg.SelfID,
		allowed:  allowed,
		valueMap: cfg.ValueMap,
		logger:   cfg.Logger,
		seen:     make(map[string]struct{}),
		out:      make(chan domain.InboundMessage, buffer),
	}
}

// Messages is the canonical delivery stream consumed by the harness.
func (n *Normalizer) Messages() <-chan domain.InboundMessage { return n.out }

// Run consumes in until it closes, then closes the delivery stream.
// Intended to run on its own goroutine so a slow consumer decouples from
// the transport through the delivery buffer.
func (n *Normalizer) Run(in <-chan activity.Activity) {
	defer close(n.out)
	for a := range in {
		if !n.accept(a) {
			continue
		}
		n.out <- n.normalize(a)
	}
}

// accept applies the allow-list filter, the self-exclusion filter and the
// dedup check, recording newly seen identifiers.
func (n *Normalizer) accept(a activity.Activity) bool {
	if !n.allowed(a.Type) {
		n.logger.Debug("activity type filtered", "type", a.Type, "id", a.ID)
		return false
	}
	if a.From.ID == n.selfID {
		return false
	}
	if _, dup := n.seen[a.ID]; dup {
		n.logger.Debug("duplicate activity ignored", "id", a.ID)
		return false
	}
	n.seen[a.ID] = struct{}{}
	return true
}

// normalize maps one accepted activity to its canonical shape. Collections
// are always non-nil.
func (n *Normalizer) normalize(a activity.Activity) domain.InboundMessage {
	msg := domain.InboundMessage{
		Sender:     SenderBot,
		SourceData: a,
		Media:      []domain.MediaItem{},
		Buttons:    []domain.Button{},
		Cards:      []domain.Card{},
		Forms:      []domain.FormField{},
		Entities:   []domain.Entity{},
	}

	if a.Type != activity.TypeMessage {
		msg.MessageText = domain.Text(n.typedText(a))
		return msg
	}

	if a.Text != "" {
		msg.MessageText = domain.Text(a.Text)
	}
	for _, att := range a.Attachments {
		mapAttachment(&msg, att)
	}
	if a.SuggestedActions != nil {
		for _, action := range a.SuggestedActions.Actions {
			msg.Buttons = append(msg.Buttons, mapSuggestedAction(action))
		}
	}
	for _, e := range a.Entities {
		name := e.Name
		if name == "" {
			name = e.Type
		}
		msg.Entities = append(msg.Entities, domain.Entity{Name: name, Value: e.Value})
	}

	if msg.MessageText == nil {
		msg.MessageText = fallbackText(&msg)
	}
	return msg
}

// typedText resolves the message text of a non-message activity: the field
// named by the value map when the type has an entry, the type tag itself
// otherwise.
func (n *Normalizer) typedText(a activity.Activity) string {
	field, ok := n.valueMap[a.Type]
	if !ok {
		return a.Type
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return a.Type
	}
	return gjson.GetBytes(raw, field).String()
}

// fallbackText applies the text fallback chain: the first card with text
// (first element when a list), then the first button with text.
func fallbackText(msg *domain.InboundMessage) *string {
	for _, c := range msg.Cards {
		if len(c.Text) > 0 && c.Text[0] != "" {
			return domain.Text(c.Text[0])
		}
	}
	for _, b := range msg.Buttons {
		if b.Text != "" {
			return domain.Text(b.Text)
		}
	}
	return nil
}
