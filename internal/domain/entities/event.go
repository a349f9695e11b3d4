package entities

// EventKind names an inbound interaction.
type EventKind string

const (
	EventLocationReceived EventKind = "location_received"
	EventRadiusChosen     EventKind = "radius_chosen"
	EventCategoryChosen   EventKind = "category_chosen"
	EventTextQuery        EventKind = "text_query"
	EventMoreRequested    EventKind = "more_requested"
	EventSessionReset     EventKind = "session_reset"
)

// Event is the closed set of inbound interactions a user can produce.
type Event interface {
	Kind() EventKind
}

// LocationReceived carries the coordinate the user shared.
type LocationReceived struct {
	Origin Location
}

// RadiusChosen carries a preset or custom radius in meters.
type RadiusChosen struct {
	Meters int
}

// CategoryChosen carries a category tag, or CustomCategoryTag.
type CategoryChosen struct {
	Tag string
}

// TextQuery carries a free-text search string.
type TextQuery struct {
	Text string
}

// MoreRequested asks for the next page of the current search.
type MoreRequested struct{}

// SessionReset discards the user's session.
type SessionReset struct{}

func (LocationReceived) Kind() EventKind { return EventLocationReceived }
func (RadiusChosen) Kind() EventKind     { return EventRadiusChosen }
func (CategoryChosen) Kind() EventKind   { return EventCategoryChosen }
func (TextQuery) Kind() EventKind        { return EventTextQuery }
func (MoreRequested) Kind() EventKind    { return EventMoreRequested }
func (SessionReset) Kind() EventKind     { return EventSessionReset }
