// Package browser manages renderer processes and the rendered fetch flow.
//
// A Session owns one renderer process and one background goroutine that
// drains the process's event stream for as long as the session lives. Pages
// are opened one at a time on a session and must be closed before the
// session is released.
package browser

import "context"

// Launcher starts renderer processes.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Driver, error)
}

// LaunchOptions controls how a renderer process is started.
type LaunchOptions struct {
	Headless  bool
	NoSandbox bool
	Bin       string
	Proxy     string

	// Stealth injects evasion scripts into every new document.
	Stealth bool

	// ObserveNetwork enables network events on new pages so the drain task
	// can see document responses.
	ObserveNetwork bool
}

// Driver is the handle of a single running renderer process.
type Driver interface {
	// NewPage opens a blank page.
	NewPage(ctx context.Context) (PageDriver, error)

	// Drain consumes the process's event stream, calling fn for every
	// event it understands, until ctx is done or the stream ends.
	Drain(ctx context.Context, fn func(Event)) error

	// Close terminates the process and releases its resources.
	Close() error
}

// PageDriver is a single page (tab) of a renderer process.
type PageDriver interface {
	// ID identifies the page on the process's event stream.
	ID() string
	Navigate(ctx context.Context, url string) error
	WaitLoad(ctx context.Context) error
	HTML(ctx context.Context) (string, error)

	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
	Close() error
}

// Event is a protocol notification seen by the drain task.
type Event struct {
	Method string
	PageID string

	// Document is set for network responses that carry a document.
	Document bool
	Status   int
	URL      string
}
