package handler

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"sheetgen/internal/pipeline"
)

const (
	generateWSWriteWait = 10 * time.Second
	generateWSPongWait  = 60 * time.Second
	generateWSPingEvery = (generateWSPongWait * 9) / 10
)

var generateWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleGenerateWS streams generation events over a websocket. Options
// come from the query string; the read side only services pongs and
// client closes.
func (h *GenerateHandler) HandleGenerateWS(w http.ResponseWriter, r *http.Request) {
	columnID := strings.TrimSpace(r.URL.Query().Get("column_id"))
	if columnID == "" {
		http.Error(w, "column_id is required", http.StatusBadRequest)
		return
	}
	opts := pipeline.GenerateOptions{
		Limit:          queryInt(r, "limit", 0),
		Offset:         queryInt(r, "offset", 0),
		ResumeFromLast: queryBool(r, "resume"),
		Stream:         queryBool(r, "stream"),
		Concurrency:    queryInt(r, "concurrency", 0),
	}

	conn, err := generateWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(generateWSPongWait)); err != nil {
		log.Printf("generate ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(generateWSPongWait))
	})

	writeCh := make(chan eventWire, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(generateWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out, ok := <-writeCh:
				if !ok {
					deadline := time.Now().Add(generateWSWriteWait)
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline)
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(generateWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(generateWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader exists only to notice the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	events, genErr := h.runner.Generate(ctx, columnID, opts)
	if genErr != nil {
		select {
		case writeCh <- eventWire{RowIndex: -1, Done: true, Error: genErr.Error()}:
		case <-ctx.Done():
		}
		close(writeCh)
		<-writerDone
		return
	}

	for ev := range events {
		select {
		case writeCh <- toWire(ev):
		case <-ctx.Done():
			// Drain so the run goroutine can finish and close events.
			for range events {
			}
			<-writerDone
			return
		}
	}
	close(writeCh)
	<-writerDone
}
