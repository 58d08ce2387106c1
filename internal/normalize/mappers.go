package normalize

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"dlbridge/internal/activity"
	"dlbridge/internal/card"
	"dlbridge/internal/domain"
)

// Adaptive card node types handled by the flattening walk.
const (
	nodeTextBlock = "TextBlock"
	nodeImage     = "Image"
	actionPrefix  = "Action."
	inputPrefix   = "Input."
)

// mapAttachment dispatches one inbound attachment by content type and
// appends the result to msg. Unrecognized content types without a button
// list are ignored.
func mapAttachment(msg *domain.InboundMessage, att activity.Attachment) {
	content, _ := att.Content.(map[string]any)

	switch att.ContentType {
	case activity.ContentHero:
		msg.Cards = append(msg.Cards, mapHeroCard(content))
	case activity.ContentAdaptive:
		msg.Cards = append(msg.Cards, mapAdaptiveCard(content, true))
	case activity.ContentAnimation, activity.ContentAudio, activity.ContentVideo:
		mapMediaCard(msg, content)
	case activity.ContentThumbnail:
		mapThumbnailCard(msg, content)
	case activity.ContentMarkdown, activity.ContentPlain:
		if text, ok := att.Content.(string); ok && text != "" {
			msg.Cards = append(msg.Cards, domain.Card{Text: []string{text}, SourceData: att.Content})
		}
	default:
		if att.ContentURL != "" {
			msg.Media = append(msg.Media, domain.MediaItem{
				URI:      att.ContentURL,
				MimeType: resolveMime(att.ContentURL, att.ContentType),
				AltText:  att.Name,
			})
			return
		}
		// Unknown card type: salvage a button list if one is present.
		if buttons, ok := content["buttons"].([]any); ok {
			msg.Buttons = append(msg.Buttons, mapButtons(buttons)...)
		}
	}
}

// mapHeroCard maps a hero card document to a canonical card.
func mapHeroCard(content map[string]any) domain.Card {
	c := domain.Card{
		Text:       textLines(content),
		Subtext:    getString(content, "subtitle"),
		SourceData: content,
	}
	if images, ok := content["images"].([]any); ok && len(images) > 0 {
		if img, ok := images[0].(map[string]any); ok {
			c.Image = &domain.MediaItem{
				URI:      getString(img, "url"),
				MimeType: resolveMime(getString(img, "url"), ""),
				AltText:  getString(img, "alt"),
			}
		}
	}
	if buttons, ok := content["buttons"].([]any); ok {
		c.Buttons = mapButtons(buttons)
	}
	return c
}

// mapAdaptiveCard flattens an adaptive card document into a canonical card.
// When recurse is set, each Action.ShowCard contributes a nested card built
// from its revealed card document, one level deep.
func mapAdaptiveCard(content map[string]any, recurse bool) domain.Card {
	c := domain.Card{SourceData: content}

	for _, node := range card.Flatten(content, card.TypeIs(nodeTextBlock)) {
		if text := getString(node, "text"); text != "" {
			c.Text = append(c.Text, text)
		}
	}
	for _, node := range card.Flatten(content, card.TypeIs(nodeImage)) {
		uri := getString(node, "url")
		c.Media = append(c.Media, domain.MediaItem{
			URI:      uri,
			MimeType: resolveMime(uri, ""),
			AltText:  getString(node, "altText"),
		})
	}
	for _, node := range card.Flatten(content, hasPrefix(actionPrefix)) {
		c.Buttons = append(c.Buttons, domain.Button{
			Text:     getString(node, "title"),
			Payload:  firstNonNil(node["data"], node["url"]),
			ImageURI: getString(node, "iconUrl"),
		})
	}
	for _, node := range card.Flatten(content, hasPrefix(inputPrefix)) {
		c.Forms = append(c.Forms, domain.FormField{
			Name:  getString(node, "id"),
			Value: node["value"],
		})
	}
	if recurse {
		for _, node := range card.Flatten(content, card.TypeIs(card.ActionShowCard)) {
			if nested, ok := node["card"].(map[string]any); ok {
				c.Cards = append(c.Cards, mapAdaptiveCard(nested, false))
			}
		}
	}
	return c
}

// mapMediaCard collects the media list and buttons of an animation, audio
// or video card directly onto the message.
func mapMediaCard(msg *domain.InboundMessage, content map[string]any) {
	alt := getString(content, "title")
	if media, ok := content["media"].([]any); ok {
		for _, entry := range media {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			uri := getString(m, "url")
			msg.Media = append(msg.Media, domain.MediaItem{
				URI:      uri,
				MimeType: resolveMime(uri, getString(m, "profile")),
				AltText:  alt,
			})
		}
	}
	if buttons, ok := content["buttons"].([]any); ok {
		msg.Buttons = append(msg.Buttons, mapButtons(buttons)...)
	}
}

// mapThumbnailCard collects the images and buttons of a thumbnail card
// directly onto the message.
func mapThumbnailCard(msg *domain.InboundMessage, content map[string]any) {
	alt := getString(content, "title")
	if images, ok := content["images"].([]any); ok {
		for _, entry := range images {
			img, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			uri := getString(img, "url")
			altText := getString(img, "alt")
			if altText == "" {
				altText = alt
			}
			msg.Media = append(msg.Media, domain.MediaItem{
				URI:      uri,
				MimeType: resolveMime(uri, ""),
				AltText:  altText,
			})
		}
	}
	if buttons, ok := content["buttons"].([]any); ok {
		msg.Buttons = append(msg.Buttons, mapButtons(buttons)...)
	}
}

func mapButtons(raw []any) []domain.Button {
	out := make([]domain.Button, 0, len(raw))
	for _, entry := range raw {
		b, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, domain.Button{
			Text:     getString(b, "title"),
			Payload:  b["value"],
			ImageURI: getString(b, "image"),
		})
	}
	return out
}

func mapSuggestedAction(a activity.CardAction) domain.Button {
	text := a.Title
	if text == "" {
		text = a.Text
	}
	return domain.Button{Text: text, Payload: a.Value, ImageURI: a.Image}
}

// mediaExtensions covers the media types the system table cannot be
// trusted to know across platforms.
var mediaExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// resolveMime resolves a media MIME type from an explicit content type or
// the URI extension, defaulting to application/unknown.
func resolveMime(uri, contentType string) string {
	if strings.Contains(contentType, "/") {
		return contentType
	}
	if u, err := url.Parse(uri); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if resolved, ok := mediaExtensions[ext]; ok {
			return resolved
		}
		if ext != "" {
			if resolved := mime.TypeByExtension(ext); resolved != "" {
				return resolved
			}
		}
	}
	return domain.MimeUnknown
}

// textLines collects the title and text of a rich card in display order.
func textLines(content map[string]any) []string {
	var lines []string
	for _, key := range []string{"title", "text"} {
		if v := getString(content, key); v != "" {
			lines = append(lines, v)
		}
	}
	return lines
}

func getString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func hasPrefix(prefix string) func(string) bool {
	return func(t string) bool { return strings.HasPrefix(t, prefix) }
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
