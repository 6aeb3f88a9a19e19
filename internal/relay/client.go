package relay

import "sync"

// Client is a buffered Observer. A transport drains Events until Done is closed.
type Client struct {
	id   string
	send chan Event
	done chan struct{}
	once sync.Once
}

func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		id:   id,
		send: make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Deliver(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) Events() <-chan Event { return c.send }

func (c *Client) Done() <-chan struct{} { return c.done }
