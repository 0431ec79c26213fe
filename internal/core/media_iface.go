package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaClient is a control connection to the external media engine.
type MediaClient interface {
	// CreatePipeline allocates a new processing graph inside the engine.
	CreatePipeline(ctx context.Context) (MediaPipeline, error)
	// Ping checks engine liveness.
	Ping(ctx context.Context) error
	Close()
}

// MediaPipeline is the engine's per-broadcast processing graph.
type MediaPipeline interface {
	CreateEndpoint(ctx context.Context, opts EndpointOptions) (MediaEndpoint, error)
	// Release destroys the pipeline and every endpoint attached to it.
	Release(ctx context.Context) error
}

// EndpointOptions select the media direction of a new endpoint.
type EndpointOptions struct {
	SendOnly        bool
	RecvOnly        bool
	UseDataChannels bool
}

// MediaEndpoint is one side of a media stream inside the engine.
// The On* callbacks deliver the engine's asynchronous events; subscriptions
// are owned by the handle and dropped when it is released.
type MediaEndpoint interface {
	ProcessOffer(ctx context.Context, sdpOffer string) (string, error)
	AddICECandidate(ctx context.Context, cand webrtc.ICECandidateInit) error
	GatherCandidates(ctx context.Context) error
	Connect(ctx context.Context, sink MediaEndpoint) error
	SetVideoSendBandwidth(ctx context.Context, minKbps, maxKbps int) error
	SetVideoRecvBandwidth(ctx context.Context, minKbps, maxKbps int) error
	Release(ctx context.Context) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChanged(func(oldState, newState string))
	OnError(func(description string, code int))
	OnMediaSessionTerminated(func())
	OnDataChannelClosed(func(channelID int))
}
