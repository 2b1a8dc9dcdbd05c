package hub

import "sync"

// Frame is one SSE frame queued for delivery to a client.
type Frame struct {
	Event      string
	Data       []byte
	Structural bool
}

// sendBuffer is the per-client frame buffer. A client this far behind is
// saturated: skippable delta flushes pass it by until it drains.
const sendBuffer = 64

// Client is one connected SSE subscriber.
type Client struct {
	ID        string
	PushToken string

	mu     sync.Mutex
	folder string

	frames chan Frame
	done   chan struct{}
	once   sync.Once
}

func newClient(id, pushToken string) *Client {
	return &Client{
		ID:        id,
		PushToken: pushToken,
		frames:    make(chan Frame, sendBuffer),
		done:      make(chan struct{}),
	}
}

// Frames is the delivery channel consumed by the connection's write loop.
func (c *Client) Frames() <-chan Frame { return c.frames }

// Done is closed when the client is unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

// Folder returns the bound folder path, or "" for a lobby client.
func (c *Client) Folder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.folder
}

// BindFolder binds the client to a folder; "" returns it to the lobby.
func (c *Client) BindFolder(folder string) {
	c.mu.Lock()
	c.folder = folder
	c.mu.Unlock()
}

// Send queues a frame and reports whether it was accepted. Structural frames
// wait for buffer space and give up only when the client goes away; delta
// flushes skip a saturated client, which catches up on the next flush or the
// turn-end snapshot.
func (c *Client) Send(f Frame) bool {
	if f.Structural {
		select {
		case c.frames <- f:
			return true
		case <-c.done:
			return false
		}
	}
	select {
	case c.frames <- f:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}
