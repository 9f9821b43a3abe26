// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/cardrank/internal/jobs"
	"github.com/tomtom215/cardrank/internal/logging"
	"github.com/tomtom215/cardrank/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Message types sent on a job stream.
const (
	MessageTypeJobStatus = "job_status"
)

// Message is one frame of a job stream.
type Message struct {
	Type string      `json:"type"`
	Data jobs.Status `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	// Origins are enforced by the CORS middleware and the API key.
	CheckOrigin: func(*http.Request) bool { return true },
}

// JobStream upgrades to a websocket and sends a status snapshot on every
// change of the job until it is terminal, then closes normally.
func (h *Handler) JobStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	updates, stop, err := h.jobs.Watch(id)
	if err != nil {
		h.jobError(w, r, err)
		return
	}
	defer stop()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer func() { _ = conn.Close() }()

	metrics.WSConnectionsActive.Inc()
	defer metrics.WSConnectionsActive.Dec()

	log := logging.Ctx(r.Context()).With().Str("job_id", id).Logger()
	log.Debug().Msg("Job stream opened")

	closed := readPump(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	var last jobs.Status
	for {
		select {
		case status, ok := <-updates:
			if !ok {
				// The final snapshot may have been dropped for a slow reader.
				if final, err := h.jobs.Get(id); err == nil && final.Status != last.Status {
					_ = writeStatus(conn, final)
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				log.Debug().Msg("Job stream closed")
				return
			}
			if err := writeStatus(conn, status); err != nil {
				log.Debug().Err(err).Msg("Job stream write failed")
				return
			}
			last = status

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			log.Debug().Msg("Job stream closed by client")
			return
		}
	}
}

func writeStatus(conn *websocket.Conn, status jobs.Status) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(Message{Type: MessageTypeJobStatus, Data: status})
}

// readPump discards client frames and closes the returned channel when the
// connection fails or the client closes it.
func readPump(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					logging.Debug().Err(err).Msg("Unexpected websocket close")
				}
				return
			}
		}
	}()
	return closed
}
