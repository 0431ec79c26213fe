package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkoval/Onecast/internal/adapters/media/kurento"
	"github.com/dkoval/Onecast/internal/config"
	"github.com/dkoval/Onecast/internal/core"
)

// Dialer opens a control connection to the media engine.
type Dialer func(ctx context.Context, uri string) (core.MediaClient, error)

// Gateway translates coordinator intents into engine client calls. It
// caches one client, dialed on first use and supervised by a liveness
// watchdog whose lifetime is tied to that client. The gateway holds no
// session state; its mutex guards only the cached client slot.
type Gateway struct {
	cfg  config.MediaEngineConfig
	dial Dialer

	mu        sync.Mutex
	client    core.MediaClient
	stopWatch context.CancelFunc
}

func NewGateway(cfg config.MediaEngineConfig) *Gateway {
	return &Gateway{
		cfg: cfg,
		dial: func(ctx context.Context, uri string) (core.MediaClient, error) {
			return kurento.Dial(ctx, uri, cfg.CallTimeout)
		},
	}
}

func (g *Gateway) acquire(ctx context.Context) (core.MediaClient, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := g.dial(ctx, g.cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", core.ErrMediaEngineUnavailable, g.cfg.URI, err)
	}
	g.client = client
	watchCtx, cancel := context.WithCancel(context.Background())
	g.stopWatch = cancel
	go g.watch(watchCtx, client)
	log.Info().Str("module", "adapters.media").Str("uri", g.cfg.URI).Msg("engine client connected")
	return client, nil
}

// watch pings the client until it is dropped or a ping fails. A failing
// client is discarded so the next acquire reconnects.
func (g *Gateway) watch(ctx context.Context, client core.MediaClient) {
	if g.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
			err := client.Ping(pingCtx)
			cancel()
			if err != nil {
				log.Error().Err(err).Str("module", "adapters.media").Msg("engine ping failed, dropping client")
				g.drop(client)
				return
			}
			log.Debug().Str("module", "adapters.media").Msg("engine ping ok")
		}
	}
}

func (g *Gateway) drop(client core.MediaClient) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != client {
		return
	}
	if g.stopWatch != nil {
		g.stopWatch()
		g.stopWatch = nil
	}
	g.client = nil
	client.Close()
}

// CreatePresenterFeed allocates a pipeline and a send-only endpoint with
// the configured send bandwidth bounds.
func (g *Gateway) CreatePresenterFeed(ctx context.Context) (core.MediaPipeline, core.MediaEndpoint, error) {
	client, err := g.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := client.CreatePipeline(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create pipeline: %v", core.ErrMediaEngineUnavailable, err)
	}
	endpoint, err := pipeline.CreateEndpoint(ctx, core.EndpointOptions{SendOnly: true})
	if err != nil {
		g.releasePipeline(ctx, pipeline)
		return nil, nil, fmt.Errorf("%w: create send endpoint: %v", core.ErrMediaEngineUnavailable, err)
	}
	if err := endpoint.SetVideoSendBandwidth(ctx, g.cfg.MinVideoBandwidth, g.cfg.MaxVideoBandwidth); err != nil {
		g.releasePipeline(ctx, pipeline)
		return nil, nil, fmt.Errorf("%w: set send bandwidth: %v", core.ErrMediaEngineUnavailable, err)
	}
	return pipeline, endpoint, nil
}

// CreateViewerFeed allocates a receive-only endpoint on pipeline with the
// configured receive bandwidth bounds.
func (g *Gateway) CreateViewerFeed(ctx context.Context, pipeline core.MediaPipeline) (core.MediaEndpoint, error) {
	endpoint, err := pipeline.CreateEndpoint(ctx, core.EndpointOptions{RecvOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: create recv endpoint: %v", core.ErrMediaEngineUnavailable, err)
	}
	if err := endpoint.SetVideoRecvBandwidth(ctx, g.cfg.MinVideoBandwidth, g.cfg.MaxVideoBandwidth); err != nil {
		if rerr := endpoint.Release(ctx); rerr != nil {
			log.Error().Err(rerr).Str("module", "adapters.media").Msg("release endpoint after bandwidth failure")
		}
		return nil, fmt.Errorf("%w: set recv bandwidth: %v", core.ErrMediaEngineUnavailable, err)
	}
	return endpoint, nil
}

// ReleaseIfIdle closes and forgets the cached engine client. Called when
// the last participant leaves; the next feed request reconnects.
func (g *Gateway) ReleaseIfIdle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return
	}
	if g.stopWatch != nil {
		g.stopWatch()
		g.stopWatch = nil
	}
	g.client.Close()
	g.client = nil
	log.Info().Str("module", "adapters.media").Msg("engine client released")
}

// Close shuts the gateway down for process exit.
func (g *Gateway) Close() {
	g.ReleaseIfIdle()
}

func (g *Gateway) releasePipeline(ctx context.Context, pipeline core.MediaPipeline) {
	if err := pipeline.Release(ctx); err != nil {
		log.Error().Err(err).Str("module", "adapters.media").Msg("release pipeline after setup failure")
	}
}
