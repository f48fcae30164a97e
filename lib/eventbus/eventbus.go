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

// Package eventbus fans events out to websocket clients. Channels are
// permission-checked on subscription; delivery across instances rides
// Redis pub/sub, so publishing locally reaches subscribers everywhere.
// Per connection, writes are serialized; across connections of a
// channel, sends run concurrently under a per-send timeout.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/defaults"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
)

// CloseLimitExceeded is the websocket close code sent when a
// connection limit is hit.
const CloseLimitExceeded = 4008

// redisChannelPrefix namespaces fan-out traffic in redis pub/sub.
const redisChannelPrefix = "ws:"

// presenceKeyPrefix namespaces the per-user presence keys.
const presenceKeyPrefix = "presence:"

// subscribableKinds are the channel kinds clients may subscribe to.
var subscribableKinds = map[string]bool{
	types.KindCourse:          true,
	types.KindCourseContent:   true,
	types.KindSubmissionGroup: true,
}

// Event is the envelope delivered to subscribers.
type Event struct {
	// Channel is the "kind:id" channel the event was published on.
	Channel string `json:"channel"`
	// Type names the event, e.g. "result.updated".
	Type string `json:"type"`
	// Payload is the event body.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Config configures the manager.
type Config struct {
	// Redis carries pub/sub traffic and presence keys.
	Redis redis.UniversalClient
	// Services resolves channel targets for permission checks.
	Services services.Services
	// Registry decides channel subscriptions.
	Registry *authz.Registry
	// MaxTotalConnections caps connections on this instance.
	MaxTotalConnections int
	// MaxConnectionsPerUser caps concurrent sockets per user.
	MaxConnectionsPerUser int
	// PresenceTTL is the lifetime of the presence key.
	PresenceTTL time.Duration
	// SendTimeout bounds one send to one connection.
	SendTimeout time.Duration
	// Clock overrides time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Redis == nil {
		return trace.BadParameter("missing parameter Redis")
	}
	if c.Services == nil {
		return trace.BadParameter("missing parameter Services")
	}
	if c.Registry == nil {
		c.Registry = authz.NewRegistry()
	}
	if c.MaxTotalConnections <= 0 {
		c.MaxTotalConnections = defaults.WSMaxTotalConnections
	}
	if c.MaxConnectionsPerUser <= 0 {
		c.MaxConnectionsPerUser = defaults.WSMaxConnectionsPerUser
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = defaults.WSPresenceTTL
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaults.WSSendTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Manager owns the connection registry, the channel subscriber index,
// and the redis bridge.
type Manager struct {
	cfg Config
	log logrus.FieldLogger

	mu          sync.Mutex
	closed      bool
	total       int
	connections map[string][]*Connection         // user id -> connections
	subscribers map[string]map[*Connection]bool  // channel -> connections

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager starts a manager and its redis receive loop.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		log:         logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentFanout}),
		connections: make(map[string][]*Connection),
		subscribers: make(map[string]map[*Connection]bool),
		pubsub:      cfg.Redis.Subscribe(ctx),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go m.receiveLoop(ctx)
	return m, nil
}

// Close tears down every connection and the redis subscription.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := make([]*Connection, 0, m.total)
	for _, list := range m.connections {
		conns = append(conns, list...)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	m.cancel()
	err := m.pubsub.Close()
	<-m.done
	return trace.Wrap(err)
}

// Register admits a transport as a connection of the user, enforcing
// the instance and per-user limits. On limit excess the transport is
// closed with code 4008 and an error is returned.
func (m *Manager) Register(ctx context.Context, p *authz.Principal, transport Transport) (*Connection, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		transport.Close()
		return nil, trace.ConnectionProblem(nil, "event bus is shutting down")
	}
	if m.total >= m.cfg.MaxTotalConnections || len(m.connections[p.UserID]) >= m.cfg.MaxConnectionsPerUser {
		m.mu.Unlock()
		transport.CloseWithCode(CloseLimitExceeded, "connection limit exceeded")
		return nil, trace.LimitExceeded("websocket connection limit exceeded")
	}
	conn := newConnection(m, p, transport)
	m.connections[p.UserID] = append(m.connections[p.UserID], conn)
	m.total++
	m.mu.Unlock()
	wsConnections.Inc()

	if err := m.touchPresence(ctx, p.UserID); err != nil {
		m.log.WithError(err).Warn("Failed to set presence key.")
	}
	conn.start()
	m.log.WithFields(logrus.Fields{"user": p.Username}).Debug("Registered websocket connection.")
	return conn, nil
}

// Rejection names one channel of a subscribe batch that was refused
// and why.
type Rejection struct {
	// Channel is the refused "kind:id" channel.
	Channel string `json:"channel"`
	// Code is the catalog code of the refusal.
	Code string `json:"code"`
	// Reason explains the refusal.
	Reason string `json:"reason"`
}

// Subscribe validates each channel and adds the connection to the ones
// the principal may read. Channels are independent: a refused channel
// is reported in the rejected set and the rest of the batch proceeds.
// The returned error covers infrastructure failures only.
func (m *Manager) Subscribe(ctx context.Context, conn *Connection, channels []string) (accepted []string, rejected []Rejection, err error) {
	accepted = make([]string, 0, len(channels))
	for _, channel := range channels {
		if err := m.authorizeChannel(ctx, conn.principal, channel); err != nil {
			rejection := Rejection{Channel: channel, Reason: err.Error()}
			if code, ok := errcode.CodeOf(err); ok {
				rejection.Code = string(code)
			}
			rejected = append(rejected, rejection)
			continue
		}
		if err := m.addSubscriber(ctx, conn, channel); err != nil {
			return accepted, rejected, trace.Wrap(err)
		}
		accepted = append(accepted, channel)
	}
	return accepted, rejected, nil
}

// Unsubscribe removes the connection from the given channels.
func (m *Manager) Unsubscribe(ctx context.Context, conn *Connection, channels []string) {
	for _, channel := range channels {
		m.removeSubscriber(ctx, conn, channel)
	}
}

// Publish sends an event through redis so every instance with
// subscribers delivers it.
func (m *Manager) Publish(ctx context.Context, channel, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return trace.Wrap(err)
	}
	event := Event{Channel: channel, Type: eventType, Payload: body}
	raw, err := json.Marshal(event)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := m.cfg.Redis.Publish(ctx, redisChannelPrefix+channel, raw).Err(); err != nil {
		return trace.Wrap(err)
	}
	wsEventsPublished.Inc()
	return nil
}

// Online reports whether the user has a live presence key on any
// instance.
func (m *Manager) Online(ctx context.Context, userID string) (bool, error) {
	n, err := m.cfg.Redis.Exists(ctx, presenceKeyPrefix+userID).Result()
	if err != nil {
		return false, trace.Wrap(err)
	}
	return n > 0, nil
}

// authorizeChannel parses "kind:id" and applies the same course-role
// thresholds reads of the target kind require.
func (m *Manager) authorizeChannel(ctx context.Context, p *authz.Principal, channel string) error {
	kind, id, ok := strings.Cut(channel, ":")
	if !ok || id == "" || !subscribableKinds[kind] {
		return errcode.New(errcode.ValInvalidRequest, fmt.Sprintf("malformed channel %q", channel))
	}
	res := &authz.Resource{Kind: kind, ID: id}
	switch kind {
	case types.KindCourse:
		res.CourseID = id
	case types.KindCourseContent:
		content, err := m.cfg.Services.GetCourseContent(ctx, id)
		if err != nil {
			return trace.Wrap(err)
		}
		res.CourseID = content.CourseID
	case types.KindSubmissionGroup:
		group, err := m.cfg.Services.GetSubmissionGroup(ctx, id)
		if err != nil {
			return trace.Wrap(err)
		}
		res.CourseID = group.CourseID
		userIDs, err := m.cfg.Services.ListSubmissionGroupUserIDs(ctx, id)
		if err != nil {
			return trace.Wrap(err)
		}
		res.GroupUserIDs = userIDs
	}
	if !m.cfg.Registry.CanPerform(p, kind, types.ActionGet, res) {
		return errcode.New(errcode.PermSubscriptionDenied, channel)
	}
	return nil
}

func (m *Manager) addSubscriber(ctx context.Context, conn *Connection, channel string) error {
	m.mu.Lock()
	set, known := m.subscribers[channel]
	if !known {
		set = make(map[*Connection]bool)
		m.subscribers[channel] = set
	}
	set[conn] = true
	conn.channels[channel] = true
	m.mu.Unlock()

	if !known {
		// first local subscriber opens the redis leg
		if err := m.pubsub.Subscribe(ctx, redisChannelPrefix+channel); err != nil {
			m.removeSubscriber(ctx, conn, channel)
			return trace.Wrap(err)
		}
	}
	return nil
}

func (m *Manager) removeSubscriber(ctx context.Context, conn *Connection, channel string) {
	m.mu.Lock()
	set := m.subscribers[channel]
	delete(set, conn)
	delete(conn.channels, channel)
	empty := len(set) == 0
	if empty {
		delete(m.subscribers, channel)
	}
	m.mu.Unlock()

	if empty {
		if err := m.pubsub.Unsubscribe(ctx, redisChannelPrefix+channel); err != nil {
			m.log.WithError(err).Debug("Redis unsubscribe failed.")
		}
	}
}

// release drops a closed connection from every index.
func (m *Manager) release(conn *Connection) {
	m.mu.Lock()
	channels := make([]string, 0, len(conn.channels))
	for channel := range conn.channels {
		channels = append(channels, channel)
	}
	list := m.connections[conn.principal.UserID]
	for i, c := range list {
		if c == conn {
			m.connections[conn.principal.UserID] = append(list[:i], list[i+1:]...)
			m.total--
			wsConnections.Dec()
			break
		}
	}
	if len(m.connections[conn.principal.UserID]) == 0 {
		delete(m.connections, conn.principal.UserID)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SendTimeout)
	defer cancel()
	m.Unsubscribe(ctx, conn, channels)
}

// receiveLoop bridges redis pub/sub into local fan-out.
func (m *Manager) receiveLoop(ctx context.Context) {
	defer close(m.done)
	ch := m.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			channel := strings.TrimPrefix(msg.Channel, redisChannelPrefix)
			m.fanOut(ctx, channel, []byte(msg.Payload))
		}
	}
}

// fanOut delivers one event to every local subscriber of the channel.
// Sends run concurrently; a connection that cannot be written within
// the send timeout is closed.
func (m *Manager) fanOut(ctx context.Context, channel string, raw []byte) {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.subscribers[channel]))
	for conn := range m.subscribers[channel] {
		conns = append(conns, conn)
	}
	m.mu.Unlock()
	if len(conns) == 0 {
		return
	}

	group, _ := errgroup.WithContext(ctx)
	for _, conn := range conns {
		conn := conn
		group.Go(func() error {
			if err := conn.send(raw); err != nil {
				wsEventsDropped.Inc()
				m.log.WithError(err).WithFields(logrus.Fields{
					"user":    conn.principal.Username,
					"channel": channel,
				}).Debug("Dropping slow websocket connection.")
				conn.Close()
				return nil
			}
			wsEventsDelivered.Inc()
			return nil
		})
	}
	_ = group.Wait()
}

func (m *Manager) touchPresence(ctx context.Context, userID string) error {
	return trace.Wrap(m.cfg.Redis.Set(ctx, presenceKeyPrefix+userID, "online", m.cfg.PresenceTTL).Err())
}
