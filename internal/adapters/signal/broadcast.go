package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkoval/Onecast/internal/core"
)

type startPayload struct {
	ID       string `json:"id"`
	SdpOffer string `json:"sdpOffer"`
}

type startResponse struct {
	ID        string   `json:"id"`
	Message   string   `json:"message"`
	SdpAnswer string   `json:"sdpAnswer,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// rejectionText maps coordinator errors onto the messages the browser
// client displays.
func rejectionText(err error) string {
	switch {
	case errors.Is(err, core.ErrAlreadyPresenting):
		return "Another user is currently acting as presenter. Try again later ..."
	case errors.Is(err, core.ErrNoPresenter):
		return "No presenter yet available. Try again later ..."
	case errors.Is(err, core.ErrMediaEngineUnavailable):
		return "Error while connecting to the media engine"
	case errors.Is(err, core.ErrNegotiationFailed):
		return "Error while processing the SDP offer"
	default:
		return err.Error()
	}
}

func (ctl *Controller) handleStartPresenter(ctx context.Context, sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p startPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad startPresenter payload")
		ctl.sendInvalidMessage(conn, data)
		return
	}

	answer, endpoint, err := ctl.Coord.StartPresenter(ctx, sid, conn, p.SdpOffer)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("presenter rejected")
		ctl.sendJSON(conn, startResponse{
			ID:      "presenterResponse",
			Message: "rejected",
			Errors:  []string{rejectionText(err)},
		})
		return
	}

	ctl.sendJSON(conn, startResponse{
		ID:        "presenterResponse",
		Message:   "accepted",
		SdpAnswer: answer,
	})
	// Gathering starts only after the answer is on the wire, so the peer
	// never sees a candidate before the response.
	if err := endpoint.GatherCandidates(ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("gather candidates")
	}
}

func (ctl *Controller) handleStartViewer(ctx context.Context, sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p startPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad startViewer payload")
		ctl.sendInvalidMessage(conn, data)
		return
	}

	answer, endpoint, err := ctl.Coord.StartViewer(ctx, sid, conn, p.SdpOffer)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("viewer rejected")
		ctl.sendJSON(conn, startResponse{
			ID:      "viewerResponse",
			Message: "rejected",
			Errors:  []string{rejectionText(err)},
		})
		return
	}

	ctl.sendJSON(conn, startResponse{
		ID:        "viewerResponse",
		Message:   "accepted",
		SdpAnswer: answer,
	})
	if err := endpoint.GatherCandidates(ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("gather candidates")
	}
}

func (ctl *Controller) handleStop(ctx context.Context, sid core.SessionID) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("stop")
	ctl.Coord.Stop(ctx, sid)
}

// NotifyStopped implements app.Notifier: cascading teardown notice pushed
// to a viewer when the presenter goes away.
func (ctl *Controller) NotifyStopped(sc core.SignalConnection) {
	ctl.sendJSON(sc, struct {
		ID string `json:"id"`
	}{ID: "stopCommunication"})
}
