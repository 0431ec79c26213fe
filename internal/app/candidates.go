package app

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/Onecast/internal/core"
)

// CandidateSink receives remote ICE candidates once an endpoint exists for
// a session. core.MediaEndpoint satisfies it.
type CandidateSink interface {
	AddICECandidate(ctx context.Context, cand webrtc.ICECandidateInit) error
}

// CandidateRouter buffers remote ICE candidates that arrive before a
// session has an endpoint and forwards them in arrival order the moment it
// does. One mutex covers both the buffer and the bound sinks, so a
// candidate racing the pending-to-active transition is either
// buffered-then-drained or routed directly, never lost, duplicated or
// reordered.
type CandidateRouter struct {
	mu      sync.Mutex
	pending map[core.SessionID][]webrtc.ICECandidateInit
	sinks   map[core.SessionID]CandidateSink
}

func NewCandidateRouter() *CandidateRouter {
	return &CandidateRouter{
		pending: make(map[core.SessionID][]webrtc.ICECandidateInit),
		sinks:   make(map[core.SessionID]CandidateSink),
	}
}

// Route delivers cand to the session's endpoint, or buffers it while none
// exists. Routing never fails upward; forwarding errors are logged.
func (cr *CandidateRouter) Route(ctx context.Context, sid core.SessionID, cand webrtc.ICECandidateInit) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if sink, ok := cr.sinks[sid]; ok {
		if err := sink.AddICECandidate(ctx, cand); err != nil {
			log.Error().Err(err).Str("module", "app.candidates").Str("sid", string(sid)).Msg("forward candidate")
		}
		return
	}
	cr.pending[sid] = append(cr.pending[sid], cand)
	log.Debug().Str("module", "app.candidates").Str("sid", string(sid)).Int("queued", len(cr.pending[sid])).Msg("candidate buffered")
}

// Bind resolves the session's sink and drains buffered candidates into it
// in FIFO order. Candidates arriving afterwards route directly.
func (cr *CandidateRouter) Bind(ctx context.Context, sid core.SessionID, sink CandidateSink) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.sinks[sid] = sink
	queued := cr.pending[sid]
	delete(cr.pending, sid)
	for _, cand := range queued {
		if err := sink.AddICECandidate(ctx, cand); err != nil {
			log.Error().Err(err).Str("module", "app.candidates").Str("sid", string(sid)).Msg("drain candidate")
		}
	}
	if len(queued) > 0 {
		log.Debug().Str("module", "app.candidates").Str("sid", string(sid)).Int("drained", len(queued)).Msg("queue drained")
	}
}

// Clear unconditionally drops the buffer and the sink binding for sid.
func (cr *CandidateRouter) Clear(sid core.SessionID) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	delete(cr.pending, sid)
	delete(cr.sinks, sid)
}
