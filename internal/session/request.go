package session

import "net/http"

// Request is the facade's handle on one streaming HTTP response. The
// registry only references it; the facade owns it.
//
// Each request has an event loop that serialises its read watch callbacks,
// chunk writes and close notification. SendChunk and End are only called
// from that loop. AddReadWatch, SetCloseCallback and Close are safe from
// any goroutine and never block.
type Request interface {
	ID() string
	RemoteAddr() string
	UserAgent() string

	// StartChunked sends the status line and headers of an open-ended
	// response.
	StartChunked(status int, header http.Header) error

	// SendChunk writes b to the client and flushes it.
	SendChunk(b []byte) error

	// End finishes the response.
	End()

	// SetCloseCallback sets the function the loop runs when the client
	// disconnects. A nil fn suppresses notification.
	SetCloseCallback(fn func())

	// AddReadWatch runs fn on the loop each time ready fires, and once right
	// after registration so data already waiting is not missed. The returned
	// release function removes the watch and is idempotent.
	AddReadWatch(ready <-chan struct{}, fn func()) (release func())

	// Close aborts the response without running the close callback.
	Close()
}
