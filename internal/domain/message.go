package domain

// MimeUnknown is used when a media item's MIME type cannot be resolved
// from its content type or URI extension.
const MimeUnknown = "application/unknown"

// InboundMessage is the canonical shape delivered to the harness for every
// accepted transport activity. Collections are always non-nil; MessageText
// is nil only when no text, card text, or button text could be resolved.
type InboundMessage struct {
	Sender      string
	SourceData  any // raw transport activity, retained for diagnostics
	MessageText *string
	Media       []MediaItem
	Buttons     []Button
	Cards       []Card
	Forms       []FormField
	Entities    []Entity
}

// Card is one rich-content card extracted from an inbound attachment.
// Cards nest: an adaptive card's show-card actions become child Cards.
type Card struct {
	Text       []string
	Subtext    string
	Content    any
	Image      *MediaItem
	Buttons    []Button
	Media      []MediaItem
	Forms      []FormField
	Cards      []Card
	SourceData any
}

// Button is a suggested action or card action. Payload holds the parsed
// structured value when the wire value was valid JSON, the raw string
// otherwise.
type Button struct {
	Text     string
	Payload  any
	ImageURI string
}

// MediaItem is an inbound media reference.
type MediaItem struct {
	URI      string
	MimeType string
	AltText  string
}

// Attachment is an outbound media reference. Exactly one of Buffer,
// LocalPath or DownloadURI should be set; they are resolved in that order.
// LocalPath is only reachable when unsafe I/O is allowed.
type Attachment struct {
	Name        string
	MimeType    string
	Buffer      []byte
	LocalPath   string
	DownloadURI string
}

// FormField is a name/value pair from a card input or an outbound form.
type FormField struct {
	Name  string
	Value any
}

// Entity is an opaque name/value pair copied from the wire activity.
type Entity struct {
	Name  string
	Value any
}

// OutboundMessage is the canonical shape produced by the harness.
// MessageText distinguishes unset (nil) from empty (pointer to "").
// ActivityValues holds dotted-path overrides applied after everything else.
type OutboundMessage struct {
	Sender         string
	MessageText    *string
	Buttons        []Button
	Media          []Attachment
	Forms          []FormField
	SourceData     map[string]any
	ActivityValues map[string]any
}

// Text returns a pointer to s, for building messages inline.
func Text(s string) *string { return &s }
