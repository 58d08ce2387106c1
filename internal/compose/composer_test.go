package compose

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/tidwall/gjson"

	"dlbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newComposer(t *testing.T, cfg Config) *Composer {
	t.Helper()
	if cfg.SelfID == "" {
		cfg.SelfID = "me"
	}
	cfg.Logger = testLogger()
	return New(cfg)
}

func TestCompose_ButtonRoundTrip(t *testing.T) {
	c := newComposer(t, Config{ButtonType: "event", ButtonValueField: "value"})

	raw, err := c.Compose(domain.OutboundMessage{
		Buttons: []domain.Button{{Text: "Yes", Payload: "42"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(raw, "type").String(); got != "event" {
		t.Errorf("type: expected event, got %q", got)
	}
	value := gjson.GetBytes(raw, "value")
	if value.Type != gjson.Number || value.Int() != 42 {
		t.Errorf("value: expected number 42, got %s (%s)", value.Raw, value.Type)
	}
	if got := gjson.GetBytes(raw, "from.id").String(); got != "me" {
		t.Errorf("from.id: expected me, got %q", got)
	}
}

func TestCompose_ButtonPayloadKeepsRawString(t *testing.T) {
	c := newComposer(t, Config{ButtonType: "event", ButtonValueField: "name"})

	raw, err := c.Compose(domain.OutboundMessage{
		Buttons: []domain.Button{{Text: "Go", Payload: "not json at all"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(raw, "name").String(); got != "not json at all" {
		t.Errorf("name: got %q", got)
	}
}

func TestCompose_ButtonFallsBackToText(t *testing.T) {
	c := newComposer(t, Config{ButtonType: "event", ButtonValueField: "name"})

	for _, button := range []domain.Button{
		{Text: "Yes"},
		{Text: "Yes", Payload: ""},
	} {
		raw, err := c.Compose(domain.OutboundMessage{Buttons: []domain.Button{button}})
		if err != nil {
			t.Fatal(err)
		}
		if got := gjson.GetBytes(raw, "name").String(); got != "Yes" {
			t.Errorf("name: expected Yes, got %q", got)
		}
	}
}

func TestCompose_EmptyButtonsIgnored(t *testing.T) {
	c := newComposer(t, Config{})

	raw, err := c.Compose(domain.OutboundMessage{
		MessageText: domain.Text("hello"),
		Buttons:     []domain.Button{{}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(raw, "type").String(); got != "message" {
		t.Errorf("type: expected message, got %q", got)
	}
	if got := gjson.GetBytes(raw, "text").String(); got != "hello" {
		t.Errorf("text: expected hello, got %q", got)
	}
}

func TestCompose_EmptyStringPayloadIgnored(t *testing.T) {
	c := newComposer(t, Config{})

	raw, err := c.Compose(domain.OutboundMessage{
		MessageText: domain.Text("hello"),
		Buttons:     []domain.Button{{Payload: ""}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(raw, "type").String(); got != "message" {
		t.Errorf("an empty payload must not trigger a button send, got type %q", got)
	}
	if got := gjson.GetBytes(raw, "text").String(); got != "hello" {
		t.Errorf("text: expected hello, got %q", got)
	}
}

func TestCompose_TextUnsetVersusEmpty(t *testing.T) {
	c := newComposer(t, Config{})

	raw, err := c.Compose(domain.OutboundMessage{})
	if err != nil {
		t.Fatal(err)
	}
	if gjson.GetBytes(raw, "text").Exists() {
		t.Error("unset text should not produce a text field")
	}

	raw, err = c.Compose(domain.OutboundMessage{MessageText: domain.Text("")})
	if err != nil {
		t.Fatal(err)
	}
	if !gjson.GetBytes(raw, "text").Exists() {
		t.Error("explicitly empty text should produce a text field")
	}
}

func TestCompose_TemplateAndSourceDataMerge(t *testing.T) {
	c := newComposer(t, Config{
		Template: map[string]any{
			"channelData": map[string]any{"tenant": "a", "mode": "test"},
			"from":        map[string]any{"id": "template-user"},
		},
	})

	raw, err := c.Compose(domain.OutboundMessage{
		MessageText: domain.Text("hi"),
		SourceData:  map[string]any{"channelData": map[string]any{"tenant": "b"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(raw, "channelData.tenant").String(); got != "b" {
		t.Errorf("source data should override template: got %q", got)
	}
	if got := gjson.GetBytes(raw, "channelData.mode").String(); got != "test" {
		t.Errorf("template values should survive the merge: got %q", got)
	}
	if got := gjson.GetBytes(raw, "from.id").String(); got != "template-user" {
		t.Errorf("pre-set sender should not be replaced: got %q", got)
	}
}

func TestCompose_FormsMergeIntoValue(t *testing.T) {
	c := newComposer(t, Config{})

	raw, err := c.Compose(domain.OutboundMessage{
		MessageText: domain.Text("submit"),
		Forms: []domain.FormField{
			{Name: "email", Value: "a@b.c"},
			{Name: "address.city", Value: "Berlin"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(raw, "value.email").String(); got != "a@b.c" {
		t.Errorf("value.email: got %q", got)
	}
	if got := gjson.GetBytes(raw, "value.address.city").String(); got != "Berlin" {
		t.Errorf("value.address.city: got %q", got)
	}
}

func TestCompose_OverridesApplyLast(t *testing.T) {
	c := newComposer(t, Config{})

	raw, err := c.Compose(domain.OutboundMessage{
		MessageText: domain.Text("original"),
		ActivityValues: map[string]any{
			"text":            "overridden",
			"channelData.foo": 7,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(raw, "text").String(); got != "overridden" {
		t.Errorf("text: expected overridden, got %q", got)
	}
	if got := gjson.GetBytes(raw, "channelData.foo").Int(); got != 7 {
		t.Errorf("channelData.foo: expected 7, got %d", got)
	}
}

func TestCompose_StructuredTextStrict(t *testing.T) {
	c := newComposer(t, Config{Validation: ValidationError})

	_, err := c.Compose(domain.OutboundMessage{
		ActivityValues: map[string]any{"text": map[string]any{"oops": true}},
	})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCompose_StructuredTextWarnOnly(t *testing.T) {
	c := newComposer(t, Config{Validation: ValidationWarn})

	raw, err := c.Compose(domain.OutboundMessage{
		ActivityValues: map[string]any{"text": map[string]any{"oops": true}},
	})
	if err != nil {
		t.Fatalf("warn mode should not fail the send: %v", err)
	}
	if !gjson.GetBytes(raw, "text").IsObject() {
		t.Error("expected the malformed text to pass through in warn mode")
	}
}
