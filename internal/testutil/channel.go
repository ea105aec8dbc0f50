package testutil

import (
	"sync"

	"github.com/breachline/breachline/internal/model"
)

// FakeChannel is an in-memory agent channel. Tests mark agents connected,
// inspect what was sent, and hook OnSend to simulate agent replies.
type FakeChannel struct {
	mu        sync.Mutex
	connected map[string]bool
	sent      []model.Task

	// SendErr, when set, makes every SendTask fail.
	SendErr error

	// OnSend, when set, runs synchronously after each successful send.
	OnSend func(task model.Task)
}

// NewFakeChannel returns a channel with the given paws connected.
func NewFakeChannel(paws ...string) *FakeChannel {
	c := &FakeChannel{connected: make(map[string]bool)}
	for _, paw := range paws {
		c.connected[paw] = true
	}
	return c
}

// Connect marks an agent as connected.
func (c *FakeChannel) Connect(paw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected[paw] = true
}

// Disconnect marks an agent as disconnected.
func (c *FakeChannel) Disconnect(paw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.connected, paw)
}

// AgentConnected reports whether the agent has a live connection.
func (c *FakeChannel) AgentConnected(paw string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected[paw]
}

// SendTask records the task and invokes OnSend.
func (c *FakeChannel) SendTask(paw string, task model.Task) error {
	c.mu.Lock()
	if c.SendErr != nil {
		err := c.SendErr
		c.mu.Unlock()
		return err
	}
	if !c.connected[paw] {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.sent = append(c.sent, task)
	onSend := c.OnSend
	c.mu.Unlock()

	if onSend != nil {
		onSend(task)
	}
	return nil
}

// Sent returns a copy of all tasks sent so far.
func (c *FakeChannel) Sent() []model.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Task, len(c.sent))
	copy(out, c.sent)
	return out
}
