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
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"

	"github.com/codebench/codebench/lib/authz"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// auth happens before the upgrade; cross-origin browsers carry the
	// bearer token explicitly
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades an authenticated request and serves the connection
// until the peer disconnects.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request, p *authz.Principal) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	conn, err := m.Register(r.Context(), p, &wsTransport{conn: ws})
	if err != nil {
		return trace.Wrap(err)
	}
	conn.Wait()
	return nil
}

// wsTransport adapts a gorilla websocket to the Transport interface.
// WriteControl is safe to call concurrently with WriteMessage, which
// is what lets keepalive pings bypass the writer goroutine.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, trace.Wrap(err)
}

func (t *wsTransport) WriteMessage(data []byte, deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(t.conn.WriteMessage(websocket.TextMessage, data))
}

func (t *wsTransport) Ping(deadline time.Time) error {
	return trace.Wrap(t.conn.WriteControl(websocket.PingMessage, nil, deadline))
}

func (t *wsTransport) CloseWithCode(code int, reason string) error {
	deadline := time.Now().Add(time.Second)
	t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return trace.Wrap(t.conn.Close())
}

func (t *wsTransport) Close() error {
	return trace.Wrap(t.conn.Close())
}
