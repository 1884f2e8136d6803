// Package fake provides a scriptable in-memory realtime client for session
// and watchdog tests.
package fake

import (
	"context"
	"sync"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/realtime"
)

// Client is a realtime.Client test double. Tests push events with Emit and
// inspect the recorded calls.
type Client struct {
	mu sync.Mutex

	Connected    bool
	Closed       bool
	Appended     [][]byte
	Commits      int
	Responses    int
	Instructions []string

	ConnectErr  error
	AppendErr   error
	CommitErr   error
	ResponseErr error

	// OnCreateResponse, when set, runs on every CreateResponse call.
	OnCreateResponse func(n int)

	events    chan realtime.Event
	closeOnce sync.Once
}

var _ realtime.Client = (*Client)(nil)

func New() *Client {
	return &Client{events: make(chan realtime.Event, 64)}
}

func (c *Client) Connect(ctx context.Context, cfg realtime.SessionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.Connected = true
	return nil
}

func (c *Client) AppendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AppendErr != nil {
		return c.AppendErr
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.Appended = append(c.Appended, buf)
	return nil
}

func (c *Client) CommitAudio() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CommitErr != nil {
		return c.CommitErr
	}
	c.Commits++
	return nil
}

func (c *Client) CreateResponse() error {
	c.mu.Lock()
	if c.ResponseErr != nil {
		c.mu.Unlock()
		return c.ResponseErr
	}
	c.Responses++
	n := c.Responses
	hook := c.OnCreateResponse
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (c *Client) UpdateInstructions(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Instructions = append(c.Instructions, text)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

func (c *Client) Events() <-chan realtime.Event {
	return c.events
}

// Emit pushes an event to the consumer as if the vendor had sent it.
func (c *Client) Emit(ev realtime.Event) {
	c.events <- ev
}

// SetResponseErr scripts the error returned by later CreateResponse calls.
// Safe while a consumer is running.
func (c *Client) SetResponseErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResponseErr = err
}

// ResponseCount returns how many replies have been requested.
func (c *Client) ResponseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Responses
}

// CommitCount returns how many input turns have been committed.
func (c *Client) CommitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Commits
}
