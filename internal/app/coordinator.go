package app

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/Onecast/internal/core"
)

// MediaGateway hands out engine resources. It owns the engine client
// lifecycle; the coordinator owns session state.
type MediaGateway interface {
	// CreatePresenterFeed allocates a pipeline plus a send-only endpoint
	// with the configured send bandwidth bounds.
	CreatePresenterFeed(ctx context.Context) (core.MediaPipeline, core.MediaEndpoint, error)
	// CreateViewerFeed allocates a receive-only endpoint on an existing
	// pipeline with the configured receive bandwidth bounds.
	CreateViewerFeed(ctx context.Context, pipeline core.MediaPipeline) (core.MediaEndpoint, error)
	// ReleaseIfIdle drops the cached engine client.
	ReleaseIfIdle()
}

// Notifier pushes coordinator-originated events out to a connection.
// Implemented by the signaling adapter, which owns the wire format.
type Notifier interface {
	NotifyCandidate(sc core.SignalConnection, cand webrtc.ICECandidateInit)
	NotifyStopped(sc core.SignalConnection)
}

// Coordinator implements the broadcast admission protocol on top of the
// registry, the candidate router and the engine gateway.
type Coordinator struct {
	Registry   *Registry
	Candidates *CandidateRouter
	Gateway    MediaGateway
	Notify     Notifier

	// TeardownOnMediaError stops a session when the engine reports an
	// error or terminates its media session, instead of only logging.
	TeardownOnMediaError bool
}

// StartPresenter admits sid as the broadcast presenter and negotiates its
// send-only endpoint. On success the answer and the endpoint are returned;
// the caller triggers candidate gathering after delivering the answer.
func (c *Coordinator) StartPresenter(ctx context.Context, sid core.SessionID, signal core.SignalConnection, sdpOffer string) (string, core.MediaEndpoint, error) {
	if err := c.Registry.AdmitPresenter(sid, signal); err != nil {
		c.Candidates.Clear(sid)
		return "", nil, err
	}

	pipeline, endpoint, err := c.Gateway.CreatePresenterFeed(ctx)
	if err != nil {
		c.Stop(ctx, sid)
		return "", nil, fmt.Errorf("create presenter feed: %w", err)
	}

	if !c.Registry.SetPresenterMedia(sid, pipeline, endpoint) {
		// Stopped while the engine was provisioning; the registry no
		// longer owns the handles, so release them here.
		if rerr := pipeline.Release(ctx); rerr != nil {
			log.Error().Err(rerr).Str("module", "app.coordinator").Str("sid", string(sid)).Msg("release orphaned pipeline")
		}
		c.Candidates.Clear(sid)
		return "", nil, fmt.Errorf("presenter torn down during setup: %w", core.ErrNotFound)
	}

	endpoint.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.Notify.NotifyCandidate(signal, cand)
	})
	c.bindDiagnostics(sid, endpoint)
	c.Candidates.Bind(ctx, sid, endpoint)

	answer, err := endpoint.ProcessOffer(ctx, sdpOffer)
	if err != nil {
		c.Stop(ctx, sid)
		return "", nil, fmt.Errorf("%w: %v", core.ErrNegotiationFailed, err)
	}

	log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Msg("presenter started")
	return answer, endpoint, nil
}

// StartViewer attaches sid as a viewer of the active presenter and
// negotiates its receive-only endpoint.
func (c *Coordinator) StartViewer(ctx context.Context, sid core.SessionID, signal core.SignalConnection, sdpOffer string) (string, core.MediaEndpoint, error) {
	p, ok := c.Registry.Presenter()
	if !ok || p.Pipeline == nil {
		c.Candidates.Clear(sid)
		return "", nil, core.ErrNoPresenter
	}

	endpoint, err := c.Gateway.CreateViewerFeed(ctx, p.Pipeline)
	if err != nil {
		c.Candidates.Clear(sid)
		return "", nil, fmt.Errorf("create viewer feed: %w", err)
	}

	if err := c.Registry.AdmitViewer(sid, signal, endpoint); err != nil {
		// Presenter vanished between the snapshot and admission.
		if rerr := endpoint.Release(ctx); rerr != nil {
			log.Error().Err(rerr).Str("module", "app.coordinator").Str("sid", string(sid)).Msg("release orphaned endpoint")
		}
		c.Candidates.Clear(sid)
		return "", nil, err
	}

	endpoint.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.Notify.NotifyCandidate(signal, cand)
	})
	c.bindDiagnostics(sid, endpoint)
	c.Candidates.Bind(ctx, sid, endpoint)

	answer, err := endpoint.ProcessOffer(ctx, sdpOffer)
	if err != nil {
		c.Stop(ctx, sid)
		return "", nil, fmt.Errorf("%w: %v", core.ErrNegotiationFailed, err)
	}

	if err := p.Endpoint.Connect(ctx, endpoint); err != nil {
		c.Stop(ctx, sid)
		return "", nil, fmt.Errorf("%w: connect to presenter: %v", core.ErrNegotiationFailed, err)
	}

	log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Msg("viewer started")
	return answer, endpoint, nil
}

// OnIceCandidate routes a remote candidate to the session's endpoint, or
// buffers it while the endpoint does not exist yet. Never errors.
func (c *Coordinator) OnIceCandidate(ctx context.Context, sid core.SessionID, cand webrtc.ICECandidateInit) {
	c.Candidates.Route(ctx, sid, cand)
}

// Stop tears down whatever sid currently is. Stopping the presenter
// cascades: every viewer is detached, notified best-effort and its queue
// cleared, then the pipeline is released exactly once. Idempotent.
func (c *Coordinator) Stop(ctx context.Context, sid core.SessionID) {
	if p, viewers, ok := c.Registry.RemovePresenter(sid); ok {
		for _, v := range viewers {
			if c.Notify != nil {
				c.Notify.NotifyStopped(v.Signal)
			}
			c.Candidates.Clear(v.SessionID)
		}
		if p.Pipeline != nil {
			if err := p.Pipeline.Release(ctx); err != nil {
				log.Error().Err(err).Str("module", "app.coordinator").Str("sid", string(sid)).Msg("pipeline release failed, engine resources may leak")
			}
		}
		log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Int("viewers", len(viewers)).Msg("broadcast stopped")
	} else if v, ok := c.Registry.RemoveViewer(sid); ok {
		if v.Endpoint != nil {
			if err := v.Endpoint.Release(ctx); err != nil {
				log.Error().Err(err).Str("module", "app.coordinator").Str("sid", string(sid)).Msg("endpoint release failed")
			}
		}
		log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Msg("viewer stopped")
	}

	c.Candidates.Clear(sid)

	if c.Registry.Empty() {
		c.Gateway.ReleaseIfIdle()
	}
}

// OnDisconnect is the transport's teardown trigger; equivalent to Stop.
func (c *Coordinator) OnDisconnect(ctx context.Context, sid core.SessionID) {
	log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Msg("disconnect")
	c.Stop(ctx, sid)
}

// bindDiagnostics wires the engine's asynchronous endpoint events. They are
// logged; error and termination events additionally stop the session when
// TeardownOnMediaError is set.
func (c *Coordinator) bindDiagnostics(sid core.SessionID, endpoint core.MediaEndpoint) {
	endpoint.OnConnectionStateChanged(func(oldState, newState string) {
		log.Warn().Str("module", "app.coordinator").Str("sid", string(sid)).
			Str("old", oldState).Str("new", newState).Msg("endpoint connection state changed")
	})
	endpoint.OnError(func(description string, code int) {
		log.Error().Str("module", "app.coordinator").Str("sid", string(sid)).
			Str("description", description).Int("code", code).Msg("engine reported endpoint error")
		if c.TeardownOnMediaError {
			c.Stop(context.Background(), sid)
		}
	})
	endpoint.OnMediaSessionTerminated(func() {
		log.Warn().Str("module", "app.coordinator").Str("sid", string(sid)).Msg("media session terminated")
		if c.TeardownOnMediaError {
			c.Stop(context.Background(), sid)
		}
	})
	endpoint.OnDataChannelClosed(func(channelID int) {
		log.Warn().Str("module", "app.coordinator").Str("sid", string(sid)).Int("channel_id", channelID).Msg("data channel closed")
	})
}
