// Package compose builds outbound transport activities from canonical
// outbound messages. Composition works on the serialized activity with
// dotted-path sets, so template values, form fields and explicit overrides
// all merge through one mechanism.
package compose

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"dlbridge/internal/activity"
	"dlbridge/internal/domain"
)

// Validation strictness values, mirroring config.
const (
	ValidationError = "error"
	ValidationWarn  = "warn"
)

// Config configures a Composer for one session.
type Config struct {
	// SelfID is the sender identity applied when the activity has none.
	SelfID string
	// ButtonType is the activity type used for button sends.
	ButtonType string
	// ButtonValueField is the dotted path receiving the button payload.
	ButtonValueField string
	// Template is merged into every activity before composition.
	Template map[string]any
	// Validation is "error" or "warn" for malformed composed activities.
	Validation string
	Logger     *slog.Logger
}

// Composer translates canonical outbound messages into serialized wire
// activities.
type Composer struct {
	selfID     string
	buttonType string
	valueField string
	template   map[string]any
	validation string
	logger     *slog.Logger
}

// New creates a composer.
func New(cfg Config) *Composer {
	buttonType := cfg.ButtonType
	if buttonType == "" {
		buttonType = activity.TypeEvent
	}
	valueField := cfg.ButtonValueField
	if valueField == "" {
		valueField = "name"
	}
	validation := cfg.Validation
	if validation == "" {
		validation = ValidationError
	}
	return &Composer{
		selfID:     cfg.SelfID,
		buttonType: buttonType,
		valueField: valueField,
		template:   cfg.Template,
		validation: validation,
		logger:     cfg.Logger,
	}
}

// Compose builds the serialized activity for msg. Precedence: button send
// beats text send; form fields merge into the value object; explicit
// dotted-path overrides apply last.
func (c *Composer) Compose(msg domain.OutboundMessage) ([]byte, error) {
	base := mergeMaps(c.template, msg.SourceData)
	raw, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal activity template: %w", err)
	}

	if button := firstButton(msg.Buttons); button != nil {
		raw, err = c.setButton(raw, button)
	} else {
		raw, err = c.setText(raw, msg.MessageText)
	}
	if err != nil {
		return nil, err
	}

	if gjson.GetBytes(raw, "from.id").String() == "" {
		sender := msg.Sender
		if sender == "" {
			sender = c.selfID
		}
		if raw, err = sjson.SetBytes(raw, "from.id", sender); err != nil {
			return nil, err
		}
	}

	for _, field := range msg.Forms {
		if field.Name == "" {
			continue
		}
		if raw, err = sjson.SetBytes(raw, "value."+field.Name, field.Value); err != nil {
			return nil, fmt.Errorf("set form field %q: %w", field.Name, err)
		}
	}

	for path, value := range msg.ActivityValues {
		if raw, err = sjson.SetBytes(raw, path, value); err != nil {
			return nil, fmt.Errorf("set activity value %q: %w", path, err)
		}
	}

	return raw, c.validate(raw)
}

func (c *Composer) setButton(raw []byte, button *domain.Button) ([]byte, error) {
	raw, err := sjson.SetBytes(raw, "type", c.buttonType)
	if err != nil {
		return nil, err
	}
	payload := button.Payload
	if !hasPayload(payload) {
		payload = button.Text
	}
	if s, ok := payload.(string); ok {
		payload = parsePayload(s)
	}
	if raw, err = sjson.SetBytes(raw, c.valueField, payload); err != nil {
		return nil, fmt.Errorf("set button value %q: %w", c.valueField, err)
	}
	return raw, nil
}

func (c *Composer) setText(raw []byte, text *string) ([]byte, error) {
	var err error
	if gjson.GetBytes(raw, "type").String() == "" {
		if raw, err = sjson.SetBytes(raw, "type", activity.TypeMessage); err != nil {
			return nil, err
		}
	}
	// A nil text means "no text", distinct from an explicitly empty one.
	if text != nil {
		if raw, err = sjson.SetBytes(raw, "text", *text); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// validate rejects a structured value in the text field: the transport
// treats text as a plain string, so anything else is a configuration error.
func (c *Composer) validate(raw []byte) error {
	text := gjson.GetBytes(raw, "text")
	if !text.Exists() || text.Type == gjson.String {
		return nil
	}
	err := &domain.ValidationError{
		Field:  "text",
		Reason: fmt.Sprintf("expected string, got %s", text.Type),
	}
	if c.validation == ValidationWarn {
		c.logger.Warn("composed activity is malformed", "err", err)
		return nil
	}
	return err
}

// firstButton returns the first button carrying a non-empty text or
// payload, nil when none qualifies. An empty-string payload counts as
// absent.
func firstButton(buttons []domain.Button) *domain.Button {
	for i := range buttons {
		if buttons[i].Text != "" || hasPayload(buttons[i].Payload) {
			return &buttons[i]
		}
	}
	return nil
}

func hasPayload(p any) bool {
	if s, ok := p.(string); ok {
		return s != ""
	}
	return p != nil
}

// parsePayload parses a button payload as JSON, keeping the raw string when
// it does not parse.
func parsePayload(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// mergeMaps deep-merges overlay onto base without mutating either.
func mergeMaps(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if inner, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				out[k] = mergeMaps(existing, inner)
				continue
			}
		}
		out[k] = v
	}
	return out
}
