package providers

import "context"

// Button is a quick-reply choice.
type Button struct {
	ID    string
	Title string
}

// ListRow is one selectable row of a list menu.
type ListRow struct {
	ID          string
	Title       string
	Description string
}

// Messenger sends outbound messages to a user of the messaging platform
type Messenger interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendButtons(ctx context.Context, to, body string, buttons []Button) (string, error)
	SendList(ctx context.Context, to, body, buttonLabel string, rows []ListRow) (string, error)
	SendLink(ctx context.Context, to, body, label, url string) (string, error)
	SendImage(ctx context.Context, to string, image []byte, contentType, caption string) (string, error)
}
