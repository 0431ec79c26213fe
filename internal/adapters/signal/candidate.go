package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/Onecast/internal/core"
)

func (ctl *Controller) handleCandidate(ctx context.Context, sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		ID        string `json:"id"`
		Candidate struct {
			Candidate     string `json:"candidate"`
			SDPMid        string `json:"sdpMid"`
			SDPMLineIndex uint16 `json:"sdpMLineIndex"`
		} `json:"candidate"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendInvalidMessage(conn, data)
		return
	}

	cand := webrtc.ICECandidateInit{
		Candidate: p.Candidate.Candidate,
	}
	if p.Candidate.SDPMid != "" {
		mid := p.Candidate.SDPMid
		cand.SDPMid = &mid
	}
	idx := p.Candidate.SDPMLineIndex
	cand.SDPMLineIndex = &idx

	ctl.Coord.OnIceCandidate(ctx, sid, cand)
}

// NotifyCandidate implements app.Notifier: a candidate gathered by the
// local endpoint, forwarded to the remote peer.
func (ctl *Controller) NotifyCandidate(sc core.SignalConnection, ci webrtc.ICECandidateInit) {
	resp := struct {
		ID        string                  `json:"id"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}{
		ID:        "iceCandidate",
		Candidate: ci,
	}
	ctl.sendJSON(sc, resp)
}
