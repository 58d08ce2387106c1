package normalize

import (
	"fmt"
	"log/slog"
	"os"
	"testing"

	"dlbridge/internal/activity"
	"dlbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func allowTypes(types ...string) func(string) bool {
	return func(t string) bool {
		for _, a := range types {
			if a == t {
				return true
			}
		}
		return false
	}
}

func newTestNormalizer() *Normalizer {
	return New(Config{
		SelfID:   "me",
		Allowed:  allowTypes("message", "event"),
		ValueMap: map[string]string{"event": "name"},
		Logger:   testLogger(),
	})
}

func collect(n *Normalizer, in []activity.Activity) []domain.InboundMessage {
	ch := make(chan activity.Activity, len(in))
	for _, a := range in {
		ch <- a
	}
	close(ch)
	n.Run(ch)

	var out []domain.InboundMessage
	for msg := range n.Messages() {
		out = append(out, msg)
	}
	return out
}

func msgActivity(id, text string) activity.Activity {
	return activity.Activity{
		Type: activity.TypeMessage,
		ID:   id,
		From: activity.ChannelAccount{ID: "bot-1"},
		Text: text,
	}
}

func TestRun_DedupIdempotence(t *testing.T) {
	got := collect(newTestNormalizer(), []activity.Activity{
		msgActivity("a1", "hello"),
		msgActivity("a1", "hello"),
	})
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(got))
	}
	if *got[0].MessageText != "hello" {
		t.Errorf("expected hello, got %q", *got[0].MessageText)
	}
}

func TestRun_SelfActivitiesDropped(t *testing.T) {
	a := msgActivity("a1", "echo")
	a.From.ID = "me"
	if got := collect(newTestNormalizer(), []activity.Activity{a}); len(got) != 0 {
		t.Errorf("expected own activity to be dropped, got %d deliveries", len(got))
	}
}

func TestRun_TypeFilter(t *testing.T) {
	a := msgActivity("a1", "x")
	a.Type = activity.TypeTyping
	if got := collect(newTestNormalizer(), []activity.Activity{a}); len(got) != 0 {
		t.Errorf("expected filtered type to be dropped, got %d deliveries", len(got))
	}
}

func TestRun_PreservesArrivalOrder(t *testing.T) {
	var in []activity.Activity
	for i := 0; i < 20; i++ {
		in = append(in, msgActivity(fmt.Sprintf("a%d", i), fmt.Sprintf("m%d", i)))
	}
	got := collect(newTestNormalizer(), in)
	if len(got) != 20 {
		t.Fatalf("expected 20 deliveries, got %d", len(got))
	}
	for i, msg := range got {
		if want := fmt.Sprintf("m%d", i); *msg.MessageText != want {
			t.Fatalf("delivery %d: expected %q, got %q", i, want, *msg.MessageText)
		}
	}
}

func TestNormalize_CollectionsNeverNil(t *testing.T) {
	n := newTestNormalizer()
	msg := n.normalize(msgActivity("a1", "hi"))
	if msg.Media == nil || msg.Buttons == nil || msg.Cards == nil || msg.Forms == nil || msg.Entities == nil {
		t.Error("canonical collections must be non-nil")
	}
	if msg.Sender != SenderBot {
		t.Errorf("expected sender %q, got %q", SenderBot, msg.Sender)
	}
	if msg.SourceData == nil {
		t.Error("raw source payload must be retained")
	}
}

func TestNormalize_FallbackToCardText(t *testing.T) {
	n := newTestNormalizer()
	a := msgActivity("a1", "")
	a.Attachments = []activity.Attachment{{
		ContentType: activity.ContentHero,
		Content:     map[string]any{"title": "Hi"},
	}}
	msg := n.normalize(a)
	if msg.MessageText == nil || *msg.MessageText != "Hi" {
		t.Errorf("expected fallback text Hi, got %v", msg.MessageText)
	}
}

func TestNormalize_FallbackToButtonText(t *testing.T) {
	n := newTestNormalizer()
	a := msgActivity("a1", "")
	a.SuggestedActions = &activity.SuggestedActions{
		Actions: []activity.CardAction{{Title: "Yes", Value: "yes"}},
	}
	msg := n.normalize(a)
	if msg.MessageText == nil || *msg.MessageText != "Yes" {
		t.Errorf("expected fallback text Yes, got %v", msg.MessageText)
	}
}

func TestNormalize_NoTextAnywhere(t *testing.T) {
	n := newTestNormalizer()
	msg := n.normalize(msgActivity("a1", ""))
	if msg.MessageText != nil {
		t.Errorf("expected nil message text, got %q", *msg.MessageText)
	}
}

func TestNormalize_EventTypeUsesValueMap(t *testing.T) {
	n := newTestNormalizer()
	a := activity.Activity{
		Type: activity.TypeEvent,
		ID:   "e1",
		From: activity.ChannelAccount{ID: "bot-1"},
		Name: "ping",
	}
	msg := n.normalize(a)
	if msg.MessageText == nil || *msg.MessageText != "ping" {
		t.Errorf("expected mapped field value ping, got %v", msg.MessageText)
	}
}

func TestNormalize_UnmappedTypeFallsBackToTag(t *testing.T) {
	n := New(Config{
		SelfID:  "me",
		Allowed: allowTypes("conversationUpdate"),
		Logger:  testLogger(),
	})
	a := activity.Activity{
		Type: "conversationUpdate",
		ID:   "c1",
		From: activity.ChannelAccount{ID: "bot-1"},
	}
	msg := n.normalize(a)
	if msg.MessageText == nil || *msg.MessageText != "conversationUpdate" {
		t.Errorf("expected type tag, got %v", msg.MessageText)
	}
}

func TestNormalize_SuggestedActionsAndEntities(t *testing.T) {
	n := newTestNormalizer()
	a := msgActivity("a1", "pick one")
	a.SuggestedActions = &activity.SuggestedActions{
		Actions: []activity.CardAction{
			{Title: "A", Value: "a"},
			{Text: "B", Value: map[string]any{"k": "v"}},
		},
	}
	a.Entities = []activity.Entity{
		{Name: "intent", Value: "greet"},
		{Type: "mention", Value: "user"},
	}
	msg := n.normalize(a)
	if len(msg.Buttons) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(msg.Buttons))
	}
	if msg.Buttons[0].Text != "A" || msg.Buttons[1].Text != "B" {
		t.Errorf("button texts: %q, %q", msg.Buttons[0].Text, msg.Buttons[1].Text)
	}
	if len(msg.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(msg.Entities))
	}
	if msg.Entities[0].Name != "intent" || msg.Entities[1].Name != "mention" {
		t.Errorf("entity names: %q, %q", msg.Entities[0].Name, msg.Entities[1].Name)
	}
}
