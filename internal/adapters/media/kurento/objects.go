package kurento

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/Onecast/internal/core"
)

// Pipeline is a handle to an engine-side MediaPipeline object.
type Pipeline struct {
	client *Client
	id     string
}

func (p *Pipeline) CreateEndpoint(ctx context.Context, opts core.EndpointOptions) (core.MediaEndpoint, error) {
	id, err := p.client.create(ctx, "WebRtcEndpoint", map[string]any{
		"mediaPipeline":   p.id,
		"recvonly":        opts.RecvOnly,
		"sendonly":        opts.SendOnly,
		"useDataChannels": opts.UseDataChannels,
	})
	if err != nil {
		return nil, err
	}
	ep := &Endpoint{client: p.client, id: id}
	if err := ep.subscribeEvents(ctx); err != nil {
		if rerr := ep.Release(ctx); rerr != nil {
			log.Error().Err(rerr).Str("module", "adapters.media.kurento").Str("endpoint", id).Msg("release after subscribe failure")
		}
		return nil, fmt.Errorf("subscribe endpoint events: %w", err)
	}
	return ep, nil
}

func (p *Pipeline) Release(ctx context.Context) error {
	return p.client.release(ctx, p.id)
}

// Endpoint is a handle to an engine-side WebRtcEndpoint object. Event
// subscriptions are owned by the handle; release drops them before the
// engine object goes away.
type Endpoint struct {
	client *Client
	id     string

	mu            sync.Mutex
	onCandidate   func(webrtc.ICECandidateInit)
	onStateChange func(oldState, newState string)
	onError       func(description string, code int)
	onTerminated  func()
	onDCClosed    func(channelID int)
}

func (e *Endpoint) subscribeEvents(ctx context.Context) error {
	subs := map[string]func(engineEvent){
		"IceCandidateFound":      e.handleCandidateFound,
		"ConnectionStateChanged": e.handleStateChanged,
		"Error":                  e.handleError,
		"MediaSessionTerminated": e.handleTerminated,
		"OnDataChannelClosed":    e.handleDataChannelClosed,
	}
	for eventType, fn := range subs {
		if err := e.client.subscribe(ctx, e.id, eventType, fn); err != nil {
			return err
		}
	}
	return nil
}

func (e *Endpoint) ProcessOffer(ctx context.Context, sdpOffer string) (string, error) {
	res, err := e.client.invokeOp(ctx, e.id, "processOffer", map[string]any{"offer": sdpOffer})
	if err != nil {
		return "", err
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(res, &body); err != nil {
		return "", fmt.Errorf("decode sdp answer: %w", err)
	}
	return body.Value, nil
}

func (e *Endpoint) AddICECandidate(ctx context.Context, cand webrtc.ICECandidateInit) error {
	payload := map[string]any{"candidate": cand.Candidate}
	if cand.SDPMid != nil {
		payload["sdpMid"] = *cand.SDPMid
	}
	if cand.SDPMLineIndex != nil {
		payload["sdpMLineIndex"] = *cand.SDPMLineIndex
	}
	_, err := e.client.invokeOp(ctx, e.id, "addIceCandidate", map[string]any{"candidate": payload})
	return err
}

func (e *Endpoint) GatherCandidates(ctx context.Context) error {
	_, err := e.client.invokeOp(ctx, e.id, "gatherCandidates", nil)
	return err
}

func (e *Endpoint) Connect(ctx context.Context, sink core.MediaEndpoint) error {
	target, ok := sink.(*Endpoint)
	if !ok {
		return fmt.Errorf("cannot connect to a foreign endpoint %T", sink)
	}
	_, err := e.client.invokeOp(ctx, e.id, "connect", map[string]any{"sink": target.id})
	return err
}

func (e *Endpoint) SetVideoSendBandwidth(ctx context.Context, minKbps, maxKbps int) error {
	if _, err := e.client.invokeOp(ctx, e.id, "setMinVideoSendBandwidth", map[string]any{"minVideoSendBandwidth": minKbps}); err != nil {
		return err
	}
	_, err := e.client.invokeOp(ctx, e.id, "setMaxVideoSendBandwidth", map[string]any{"maxVideoSendBandwidth": maxKbps})
	return err
}

func (e *Endpoint) SetVideoRecvBandwidth(ctx context.Context, minKbps, maxKbps int) error {
	if _, err := e.client.invokeOp(ctx, e.id, "setMinVideoRecvBandwidth", map[string]any{"minVideoRecvBandwidth": minKbps}); err != nil {
		return err
	}
	_, err := e.client.invokeOp(ctx, e.id, "setMaxVideoRecvBandwidth", map[string]any{"maxVideoRecvBandwidth": maxKbps})
	return err
}

func (e *Endpoint) Release(ctx context.Context) error {
	return e.client.release(ctx, e.id)
}

func (e *Endpoint) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *Endpoint) OnConnectionStateChanged(fn func(oldState, newState string)) {
	e.mu.Lock()
	e.onStateChange = fn
	e.mu.Unlock()
}

func (e *Endpoint) OnError(fn func(description string, code int)) {
	e.mu.Lock()
	e.onError = fn
	e.mu.Unlock()
}

func (e *Endpoint) OnMediaSessionTerminated(fn func()) {
	e.mu.Lock()
	e.onTerminated = fn
	e.mu.Unlock()
}

func (e *Endpoint) OnDataChannelClosed(fn func(channelID int)) {
	e.mu.Lock()
	e.onDCClosed = fn
	e.mu.Unlock()
}

func (e *Endpoint) handleCandidateFound(ev engineEvent) {
	var body struct {
		Candidate struct {
			Candidate     string `json:"candidate"`
			SDPMid        string `json:"sdpMid"`
			SDPMLineIndex uint16 `json:"sdpMLineIndex"`
		} `json:"candidate"`
	}
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		log.Error().Err(err).Str("module", "adapters.media.kurento").Str("endpoint", e.id).Msg("malformed candidate event")
		return
	}
	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	if fn == nil {
		return
	}
	mid := body.Candidate.SDPMid
	idx := body.Candidate.SDPMLineIndex
	fn(webrtc.ICECandidateInit{
		Candidate:     body.Candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
}

func (e *Endpoint) handleStateChanged(ev engineEvent) {
	var body struct {
		OldState string `json:"oldState"`
		NewState string `json:"newState"`
	}
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		return
	}
	e.mu.Lock()
	fn := e.onStateChange
	e.mu.Unlock()
	if fn != nil {
		fn(body.OldState, body.NewState)
	}
}

func (e *Endpoint) handleError(ev engineEvent) {
	var body struct {
		Description string `json:"description"`
		ErrorCode   int    `json:"errorCode"`
	}
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		return
	}
	e.mu.Lock()
	fn := e.onError
	e.mu.Unlock()
	if fn != nil {
		fn(body.Description, body.ErrorCode)
	}
}

func (e *Endpoint) handleTerminated(engineEvent) {
	e.mu.Lock()
	fn := e.onTerminated
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (e *Endpoint) handleDataChannelClosed(ev engineEvent) {
	var body struct {
		ChannelID int `json:"channelId"`
	}
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		return
	}
	e.mu.Lock()
	fn := e.onDCClosed
	e.mu.Unlock()
	if fn != nil {
		fn(body.ChannelID)
	}
}
