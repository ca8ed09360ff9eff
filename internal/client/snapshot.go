package client

import (
	"context"
	"errors"

	"github.com/john/combinedchat/internal/compose"
	"github.com/john/combinedchat/internal/message"
	"github.com/john/combinedchat/internal/presence"
)

// ErrStopped is returned by Snapshot once Run has returned.
var ErrStopped = errors.New("client: stopped")

// Snapshot is a read-only view of the loop's state.
type Snapshot struct {
	State               string               `json:"state"`
	Targets             message.Targets      `json:"targets"`
	Presence            presence.Snapshot    `json:"presence"`
	History             int                  `json:"history"`
	Pending             int                  `json:"pending"`
	Unread              int                  `json:"unread"`
	Paused              bool                 `json:"paused"`
	Reply               *compose.ReplyTarget `json:"reply,omitempty"`
	Options             []compose.Target     `json:"options"`
	Authenticated       bool                 `json:"authenticated"`
	Sending             bool                 `json:"sending"`
	PersistenceDisabled bool                 `json:"persistence_disabled"`
}

// Snapshot asks the loop for its current state.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	out := make(chan Snapshot, 1)
	select {
	case c.intents <- func() { out <- c.snapshot() }:
	case <-c.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-out:
		return snap, nil
	case <-c.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Client) snapshot() Snapshot {
	opts, reply := c.options()
	if opts == nil {
		opts = []compose.Target{}
	}
	return Snapshot{
		State:               c.sess.State().String(),
		Targets:             c.targets.Clone(),
		Presence:            c.presence.Snapshot(),
		History:             len(c.feed.History()),
		Pending:             len(c.feed.Pending()),
		Unread:              c.feed.Unread(),
		Paused:              c.feed.Paused(),
		Reply:               reply,
		Options:             opts,
		Authenticated:       c.auth.Authenticated,
		Sending:             c.sending,
		PersistenceDisabled: c.store.Disabled(),
	}
}
