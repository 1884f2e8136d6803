// Package fake provides an in-memory gateway for tests.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/gateway"
)

// Gateway is a scriptable in-memory implementation of gateway.Gateway.
// Zero value is not usable; call NewGateway.
type Gateway struct {
	mu           sync.Mutex
	userChannels map[string]string // guild+"/"+user
	botChannels  map[string]string
	denied       map[string]bool // guild+"/"+channel
	conns        map[string]*Conn
	messages     []Message
	disconnects  []string

	JoinErr   error
	JoinDelay time.Duration
	JoinCount int
}

// Message is one recorded SendMessage call.
type Message struct {
	ChannelID string
	Content   string
}

func NewGateway() *Gateway {
	return &Gateway{
		userChannels: make(map[string]string),
		botChannels:  make(map[string]string),
		denied:       make(map[string]bool),
		conns:        make(map[string]*Conn),
	}
}

// PutUser places a user in a voice channel for UserChannel lookups.
func (g *Gateway) PutUser(guildID, userID, channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.userChannels[guildID+"/"+userID] = channelID
}

// SetBotChannel scripts BotChannel for a guild; empty means disconnected.
func (g *Gateway) SetBotChannel(guildID, channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.botChannels[guildID] = channelID
}

// DenyPermissions makes CanConnectAndSpeak fail for a channel.
func (g *Gateway) DenyPermissions(guildID, channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.denied[guildID+"/"+channelID] = true
}

// Conn returns the connection created for a guild, if Join was called.
func (g *Gateway) Conn(guildID string) *Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[guildID]
}

// Messages returns all recorded SendMessage calls.
func (g *Gateway) Messages() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Message, len(g.messages))
	copy(out, g.messages)
	return out
}

func (g *Gateway) Join(ctx context.Context, guildID, channelID string) (gateway.Connection, error) {
	g.mu.Lock()
	g.JoinCount++
	delay := g.JoinDelay
	err := g.JoinErr
	g.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	c := NewConn(guildID, channelID)
	g.mu.Lock()
	g.conns[guildID] = c
	g.botChannels[guildID] = channelID
	g.mu.Unlock()
	return c, nil
}

func (g *Gateway) UserChannel(guildID, userID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.userChannels[guildID+"/"+userID]
	return ch, ok && ch != ""
}

func (g *Gateway) BotChannel(guildID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.botChannels[guildID]
	return ch, ok && ch != ""
}

func (g *Gateway) CanConnectAndSpeak(guildID, channelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.denied[guildID+"/"+channelID]
}

func (g *Gateway) Disconnect(guildID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.botChannels, guildID)
	g.disconnects = append(g.disconnects, guildID)
	return nil
}

// Disconnects returns the guilds force-dropped so far.
func (g *Gateway) Disconnects() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.disconnects...)
}

func (g *Gateway) SendMessage(ctx context.Context, channelID, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, Message{ChannelID: channelID, Content: content})
	return nil
}

var _ gateway.Gateway = (*Gateway)(nil)

// Conn is a scriptable gateway.Connection. Tests push events with Emit and
// inspect played audio through the sink.
type Conn struct {
	guildID string

	mu        sync.Mutex
	channelID string
	humans    int
	closed    bool
	closeErr  error
	sink      *Sink

	events chan gateway.Event
}

func NewConn(guildID, channelID string) *Conn {
	return &Conn{
		guildID:   guildID,
		channelID: channelID,
		humans:    2,
		events:    make(chan gateway.Event, 64),
	}
}

// Emit pushes an event to the connection's consumer.
func (c *Conn) Emit(ev gateway.Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.events <- ev
}

// SetHumanCount scripts HumanCount.
func (c *Conn) SetHumanCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.humans = n
}

// SetCloseErr makes Close report a failure.
func (c *Conn) SetCloseErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeErr = err
}

// Sink returns the most recently opened sink, if any.
func (c *Conn) Sink() *Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) GuildID() string { return c.guildID }

func (c *Conn) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

func (c *Conn) Rebind(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channelID = channelID
}

func (c *Conn) Events() <-chan gateway.Event { return c.events }

func (c *Conn) OpenSink() (gateway.Sink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = &Sink{alive: true}
	return c.sink, nil
}

func (c *Conn) HumanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.humans
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return c.closeErr
}

var _ gateway.Connection = (*Conn)(nil)

// Sink records written PCM.
type Sink struct {
	mu     sync.Mutex
	writes [][]byte
	alive  bool
}

func (s *Sink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	s.writes = append(s.writes, buf)
	return nil
}

func (s *Sink) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Kill marks the sink dead so the pacer recreates it.
func (s *Sink) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
}

// Writes returns recorded writes.
func (s *Sink) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
	return nil
}

var _ gateway.Sink = (*Sink)(nil)
