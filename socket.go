// socket.go
//
// This source file is part of the FoundationDB open source project
//
// Copyright 2025 Apple Inc. and the FoundationDB project authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/apple/foundationdb/fdbtracedebugger/api"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/reader"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/schema"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/session"
	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// writeTimeout bounds the time a single frame may take to reach a client.
const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	// The debugger UI is served from a different origin.
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// socketSender sends session frames over a WebSocket connection. The
// connection is closed on the first failed write so the read loop ends and
// the session is removed.
type socketSender struct {
	conn   *websocket.Conn
	logger logr.Logger
}

// SendBinary implements session.Sender.
func (sender *socketSender) SendBinary(frame []byte) error {
	err := sender.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err == nil {
		err = sender.conn.WriteMessage(websocket.BinaryMessage, frame)
	}
	if err != nil {
		closeErr := sender.conn.Close()
		if closeErr != nil {
			sender.logger.V(1).Info("could not close connection", "error", closeErr.Error())
		}
	}
	return err
}

// ServeHTTP upgrades the request to a WebSocket and serves one client until
// the connection closes.
func (debugger *Debugger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugger.logger.Error(err, "could not upgrade connection", "remote", r.RemoteAddr)
		return
	}

	sender := &socketSender{conn: conn}
	clientSession := session.New(debugger.logger.WithName("session"), sender, debugger.tracker, debugger.metrics)
	logger := clientSession.Logger().WithValues("remote", r.RemoteAddr)
	sender.logger = logger

	count := debugger.registry.Add(clientSession)
	debugger.metrics.activeSessions.Set(float64(count))
	logger.Info("Adding a client", "sessions", count)

	for _, service := range debugger.tracker.Services() {
		clientSession.AcceptService(service.Title, service.Generation)
	}

	done := make(chan struct{})
	defer func() {
		close(done)
		count := debugger.registry.Remove(clientSession)
		debugger.metrics.activeSessions.Set(float64(count))
		logger.Info("Removing a client", "sessions", count)
		err := conn.Close()
		if err != nil {
			logger.V(1).Info("could not close connection", "error", err.Error())
		}
	}()

	ctx := r.Context()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(debugger.options.RequestRate), debugger.options.RequestBurst)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				logger.Error(err, "Error reading from connection")
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		request, err := api.DecodeClientRequest(data)
		if err != nil {
			logger.V(1).Info("Ignoring malformed request", "error", err.Error())
			continue
		}

		debugger.metrics.clientRequests.With(prometheus.Labels{requestTypeLabel: string(request.Type())}).Inc()
		err = debugger.handleRequest(ctx, limiter, clientSession, request)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error(err, "Error handling request", "type", request.Type())
		}
	}
}

// scanRequests are the request types which scan the trace files of a
// generation and are subject to the rate limit of a session.
var scanRequests = map[api.RequestType]bool{
	api.ReplayMessagesRequestType:        true,
	api.ActivateServiceRequestType:       true,
	api.ClearActiveContextRequestType:    true,
	api.FetchPreviousMessagesRequestType: true,
}

// handleRequest executes one client request. Requests scanning history on
// disk are subject to the rate limit of the session.
func (debugger *Debugger) handleRequest(ctx context.Context, limiter *rate.Limiter, clientSession *session.ClientSession, request api.ClientRequest) error {
	if scanRequests[request.Type()] {
		err := limiter.Wait(ctx)
		if err != nil {
			return err
		}
	}

	switch request := request.(type) {
	case api.ReplayMessagesRequest:
		return debugger.replayMessages(clientSession, request)
	case api.ActivateServiceRequest:
		return debugger.activateService(clientSession, request)
	case api.SetSessionStateRequest:
		clientSession.SetFilters(request.Query, request.Filters, request.MinimumLevel())
		return nil
	case api.ClearActiveContextRequest:
		return debugger.clearActiveContext(clientSession)
	case api.FetchTextBlobRequest:
		return debugger.fetchTextBlob(clientSession, request)
	case api.FetchPreviousMessagesRequest:
		return debugger.fetchPreviousMessages(clientSession, request)
	}

	return nil
}

// window returns the query window ending at end in milliseconds.
func (debugger *Debugger) window(end time.Time) (int64, int64) {
	return end.Add(-debugger.options.QueryWindow).UnixMilli(), end.UnixMilli()
}

// heldSink buffers the records of a query in a session without sending them.
// Queries run while the registry is locked, the buffers are flushed once the
// lock is released so a slow client cannot stall the tails.
type heldSink struct {
	*session.ClientSession
}

// FlushContexts implements query.Sink.
func (heldSink) FlushContexts() error {
	return nil
}

// FlushLogs implements query.Sink.
func (heldSink) FlushLogs() error {
	return nil
}

// exclusiveQuery runs run under the registry lock and sends the buffered
// contexts and logs of clientSession after the lock is released.
func (debugger *Debugger) exclusiveQuery(clientSession *session.ClientSession, run func(sink heldSink) error) error {
	var err error
	debugger.registry.Exclusive(func() {
		err = run(heldSink{clientSession})
	})
	if err != nil {
		return err
	}

	err = clientSession.FlushContexts()
	if err != nil {
		return err
	}
	return clientSession.FlushLogs()
}

// replayMessages shows the subtree of a context over the query window starting
// at the requested timestamp, including its log messages.
func (debugger *Debugger) replayMessages(clientSession *session.ClientSession, request api.ReplayMessagesRequest) error {
	generation := int64(request.Generation)
	start := request.Timestamp
	end := start + debugger.options.QueryWindow.Milliseconds()

	clientSession.ClearContexts()
	clientSession.ClearLogs()

	return debugger.exclusiveQuery(clientSession, func(sink heldSink) error {
		clientSession.SetActiveContexts(session.NewContextSet(request.Context))

		contexts, err := debugger.engine.FindAndEmitContexts(sink, start, end, generation, request.Context)
		if err != nil {
			return err
		}

		// The active set is the replayed subtree only, the root is not re-added.
		clientSession.SetActiveContexts(contexts)
		return debugger.engine.FindLogs(sink, start, end, generation, contexts)
	})
}

// activateService switches the service of a session and shows the root
// contexts of the trailing query window. If the window is empty the newest
// root context is shown instead.
func (debugger *Debugger) activateService(clientSession *session.ClientSession, request api.ActivateServiceRequest) error {
	generation, ok := request.GenerationValue()
	if !ok {
		clientSession.ActivateService(request.Service, nil)
		return nil
	}

	clientSession.ActivateService(request.Service, &generation)
	clientSession.ClearContexts()
	clientSession.ClearLogs()

	start, end := debugger.window(debugger.now())
	return debugger.exclusiveQuery(clientSession, func(sink heldSink) error {
		contexts, err := debugger.engine.FindAndEmitContexts(sink, start, end, generation, schema.RootContextID)
		if err != nil || !contexts.IsRootOnly() {
			return err
		}
		_, err = debugger.engine.EmitNewestContext(sink, generation)
		return err
	})
}

// clearActiveContext returns a session to the root view of the trailing query
// window.
func (debugger *Debugger) clearActiveContext(clientSession *session.ClientSession) error {
	clientSession.ClearContexts()
	clientSession.ClearLogs()

	generation, ok := clientSession.Generation()
	start, end := debugger.window(debugger.now())
	return debugger.exclusiveQuery(clientSession, func(sink heldSink) error {
		clientSession.SetActiveContexts(session.RootContexts())
		if !ok {
			return nil
		}
		_, err := debugger.engine.FindAndEmitContexts(sink, start, end, generation, schema.RootContextID)
		return err
	})
}

// fetchTextBlob sends an overflowed text payload to the client right away.
func (debugger *Debugger) fetchTextBlob(clientSession *session.ClientSession, request api.FetchTextBlobRequest) error {
	payload, err := reader.ReadBlob(debugger.dir, int64(request.Generation), int(request.FileIndex), int32(request.ID))
	if err != nil {
		return err
	}
	return clientSession.SendBlob(int32(request.ID), payload)
}

// fetchPreviousMessages sends the root contexts which precede a context.
func (debugger *Debugger) fetchPreviousMessages(clientSession *session.ClientSession, request api.FetchPreviousMessagesRequest) error {
	generation, ok := clientSession.Generation()
	if !ok {
		return nil
	}

	index, found, err := debugger.engine.FindFirstContextFile(generation, request.Timestamp)
	if err != nil || !found {
		return err
	}

	_, err = debugger.engine.FindContextsBackwards(clientSession, generation, index, request.ID, request.FindSelfOnly())
	return err
}
