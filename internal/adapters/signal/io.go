package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/Onecast/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump drives the connection. Its exit, clean or not, is the teardown
// trigger for the whole session.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Coord.OnDisconnect(context.Background(), sid)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleMessage(ctx, sid, c, data)
		}
	}
}

func (ctl *Controller) handleMessage(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var env struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendInvalidMessage(c, data)
		return
	}

	switch env.ID {
	case "startPresenter":
		ctl.handleStartPresenter(ctx, sid, c, data)
	case "startViewer":
		ctl.handleStartViewer(ctx, sid, c, data)
	case "stop":
		ctl.handleStop(ctx, sid)
	case "onIceCandidate":
		ctl.handleCandidate(ctx, sid, c, data)
	default:
		log.Warn().Str("module", "signal").Str("id", env.ID).Msg("unknown signal")
		ctl.sendInvalidMessage(c, data)
	}
}

func (ctl *Controller) sendInvalidMessage(c core.SignalConnection, data []byte) {
	ctl.sendJSON(c, struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}{
		ID:      "error",
		Message: fmt.Sprintf("invalid message %s", data),
	})
}

func (ctl *Controller) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
