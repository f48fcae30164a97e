/*
Copyright 2025 Codebench, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gravitational/trace"

	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/defaults"
	"github.com/codebench/codebench/lib/errcode"
)

// Transport is the wire below a Connection. The production transport
// wraps a gorilla websocket; tests plug in a channel-backed fake.
type Transport interface {
	// ReadMessage blocks for the next client message.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one message within the deadline.
	WriteMessage(data []byte, deadline time.Time) error
	// Ping sends a keepalive probe.
	Ping(deadline time.Time) error
	// CloseWithCode closes the transport with a websocket close code.
	CloseWithCode(code int, reason string) error
	// Close tears the transport down.
	Close() error
}

// ClientRequest is what clients send: a subscription change.
type ClientRequest struct {
	// Action is "subscribe" or "unsubscribe".
	Action string `json:"action"`
	// Channels lists the "kind:id" channels.
	Channels []string `json:"channels"`
}

// ControlReply answers a client request.
type ControlReply struct {
	// Type is "subscribed", "unsubscribed", or "error".
	Type string `json:"type"`
	// Channels echoes the accepted channels.
	Channels []string `json:"channels,omitempty"`
	// Rejected lists the channels of a subscribe batch that were
	// refused, each with its code and reason.
	Rejected []Rejection `json:"rejected,omitempty"`
	// Code is the machine error code for failed requests.
	Code string `json:"code,omitempty"`
	// Message explains a failed request.
	Message string `json:"message,omitempty"`
}

// Connection is one registered websocket. Writes are funneled through
// a single writer goroutine so per-connection ordering follows
// publication order.
type Connection struct {
	manager   *Manager
	principal *authz.Principal
	transport Transport

	// channels is guarded by manager.mu.
	channels map[string]bool

	out    chan []byte
	closed chan struct{}
}

func newConnection(m *Manager, p *authz.Principal, transport Transport) *Connection {
	return &Connection{
		manager:   m,
		principal: p,
		transport: transport,
		channels:  make(map[string]bool),
		out:       make(chan []byte, 64),
		closed:    make(chan struct{}),
	}
}

func (c *Connection) start() {
	go c.writeLoop()
	go c.readLoop()
	go c.keepAlive()
}

// Close tears the connection down once and releases its registrations.
func (c *Connection) Close() {
	select {
	case <-c.closed:
		return
	default:
	}
	close(c.closed)
	c.transport.Close()
	c.manager.release(c)
}

// Wait blocks until the connection is closed.
func (c *Connection) Wait() {
	<-c.closed
}

// send queues one raw frame. Fails when the writer cannot drain the
// queue within the send timeout.
func (c *Connection) send(raw []byte) error {
	select {
	case c.out <- raw:
		return nil
	case <-c.closed:
		return trace.ConnectionProblem(nil, "connection closed")
	case <-time.After(c.manager.cfg.SendTimeout):
		return trace.ConnectionProblem(nil, "send timeout")
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case raw := <-c.out:
			deadline := time.Now().Add(c.manager.cfg.SendTimeout)
			if err := c.transport.WriteMessage(raw, deadline); err != nil {
				c.Close()
				return
			}
		}
	}
}

// readLoop handles subscription changes until the client disconnects.
func (c *Connection) readLoop() {
	defer c.Close()
	for {
		raw, err := c.transport.ReadMessage()
		if err != nil {
			return
		}
		var req ClientRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.reply(ControlReply{Type: "error", Code: string(errcode.ValInvalidRequest), Message: "malformed request"})
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.manager.cfg.SendTimeout)
		switch req.Action {
		case "subscribe":
			accepted, rejected, err := c.manager.Subscribe(ctx, c, req.Channels)
			if err != nil {
				reply := ControlReply{Type: "error", Channels: accepted, Rejected: rejected, Message: err.Error()}
				if code, ok := errcode.CodeOf(err); ok {
					reply.Code = string(code)
				}
				c.reply(reply)
			} else {
				c.reply(ControlReply{Type: "subscribed", Channels: accepted, Rejected: rejected})
			}
		case "unsubscribe":
			c.manager.Unsubscribe(ctx, c, req.Channels)
			c.reply(ControlReply{Type: "unsubscribed", Channels: req.Channels})
		default:
			c.reply(ControlReply{Type: "error", Code: string(errcode.ValInvalidRequest), Message: "unknown action"})
		}
		cancel()
	}
}

func (c *Connection) reply(r ControlReply) {
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.send(raw); err != nil {
		c.Close()
	}
}

// keepAlive refreshes the presence key and pings the peer until the
// connection closes.
func (c *Connection) keepAlive() {
	presence := c.manager.cfg.Clock.NewTicker(c.manager.cfg.PresenceTTL / 2)
	defer presence.Stop()
	ping := c.manager.cfg.Clock.NewTicker(defaults.WSPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-presence.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), c.manager.cfg.SendTimeout)
			if err := c.manager.touchPresence(ctx, c.principal.UserID); err != nil {
				c.manager.log.WithError(err).Warn("Presence refresh failed.")
			}
			cancel()
		case <-ping.Chan():
			if err := c.transport.Ping(time.Now().Add(c.manager.cfg.SendTimeout)); err != nil {
				c.Close()
				return
			}
		}
	}
}
