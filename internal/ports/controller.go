package ports

import "context"

// ControllerFactory launches the expensive automation resource. Every call
// produces a new, exclusively owned controller.
type ControllerFactory interface {
	Launch(ctx context.Context) (Controller, error)
}

type Controller interface {
	NewContext() (BrowsingContext, error)
	Contexts() []BrowsingContext
	IsConnected() bool
	Close() error
}

type BrowsingContext interface {
	NewPage() (Page, error)
	Pages() []Page
	IsClosed() bool
	Close() error
}

// Page operations take an explicit timeout in milliseconds. Zero means the
// driver default.
type Page interface {
	Goto(url string, timeoutMs float64) error
	Click(selector string, timeoutMs float64) error
	Fill(selector string, value string, timeoutMs float64) error
	WaitForSelector(selector string, timeoutMs float64) error
	TextContent(selector string, timeoutMs float64) (string, error)
	Evaluate(expression string) (any, error)
	Content() (string, error)
	Title() (string, error)
	URL() string
	Screenshot() ([]byte, error)
	IsClosed() bool
	Close() error
}
