package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkoval/Onecast/internal/core"
)

type fakeSignal struct {
	mu     sync.Mutex
	name   string
	frames []core.Frame
}

func (s *fakeSignal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSignal) Close() {}

type fakeEndpoint struct {
	mu          sync.Mutex
	name        string
	released    int
	candidates  []string
	connected   []string
	gathered    bool
	offerErr    error
	onCandidate func(webrtc.ICECandidateInit)
	onState     func(oldState, newState string)
	onError     func(description string, code int)
	onTerm      func()
	onDCClosed  func(channelID int)
}

func (e *fakeEndpoint) ProcessOffer(_ context.Context, sdpOffer string) (string, error) {
	if e.offerErr != nil {
		return "", e.offerErr
	}
	return "answer:" + sdpOffer, nil
}

func (e *fakeEndpoint) AddICECandidate(_ context.Context, cand webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, cand.Candidate)
	return nil
}

func (e *fakeEndpoint) GatherCandidates(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gathered = true
	return nil
}

func (e *fakeEndpoint) Connect(_ context.Context, sink core.MediaEndpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = append(e.connected, sink.(*fakeEndpoint).name)
	return nil
}

func (e *fakeEndpoint) SetVideoSendBandwidth(context.Context, int, int) error { return nil }
func (e *fakeEndpoint) SetVideoRecvBandwidth(context.Context, int, int) error { return nil }

func (e *fakeEndpoint) Release(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released++
	return nil
}

func (e *fakeEndpoint) OnICECandidate(fn func(webrtc.ICECandidateInit)) { e.onCandidate = fn }
func (e *fakeEndpoint) OnConnectionStateChanged(fn func(oldState, newState string)) {
	e.onState = fn
}
func (e *fakeEndpoint) OnError(fn func(description string, code int)) { e.onError = fn }
func (e *fakeEndpoint) OnMediaSessionTerminated(fn func())            { e.onTerm = fn }
func (e *fakeEndpoint) OnDataChannelClosed(fn func(channelID int))    { e.onDCClosed = fn }

func (e *fakeEndpoint) sentCandidates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.candidates))
	copy(out, e.candidates)
	return out
}

func (e *fakeEndpoint) releaseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

type fakePipeline struct {
	mu        sync.Mutex
	released  int
	endpoints []*fakeEndpoint
}

func (p *fakePipeline) CreateEndpoint(_ context.Context, opts core.EndpointOptions) (core.MediaEndpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kind := "recv"
	if opts.SendOnly {
		kind = "send"
	}
	ep := &fakeEndpoint{name: fmt.Sprintf("%s-%d", kind, len(p.endpoints))}
	p.endpoints = append(p.endpoints, ep)
	return ep, nil
}

func (p *fakePipeline) Release(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	return nil
}

func (p *fakePipeline) endpoint(i int) *fakeEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.endpoints) {
		return nil
	}
	return p.endpoints[i]
}

func (p *fakePipeline) releaseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

type fakeGateway struct {
	mu              sync.Mutex
	dialErr         error
	offerErr        error
	viewerOfferErr  error
	onPresenterFeed func()
	pipelines       []*fakePipeline
	idleCalls       int
}

func (g *fakeGateway) CreatePresenterFeed(ctx context.Context) (core.MediaPipeline, core.MediaEndpoint, error) {
	g.mu.Lock()
	if g.dialErr != nil {
		defer g.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %v", core.ErrMediaEngineUnavailable, g.dialErr)
	}
	p := &fakePipeline{}
	g.pipelines = append(g.pipelines, p)
	hook := g.onPresenterFeed
	offerErr := g.offerErr
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	ep, _ := p.CreateEndpoint(ctx, core.EndpointOptions{SendOnly: true})
	ep.(*fakeEndpoint).offerErr = offerErr
	return p, ep, nil
}

func (g *fakeGateway) CreateViewerFeed(ctx context.Context, pipeline core.MediaPipeline) (core.MediaEndpoint, error) {
	g.mu.Lock()
	offerErr := g.viewerOfferErr
	g.mu.Unlock()
	ep, err := pipeline.CreateEndpoint(ctx, core.EndpointOptions{RecvOnly: true})
	if err != nil {
		return nil, err
	}
	ep.(*fakeEndpoint).offerErr = offerErr
	return ep, nil
}

func (g *fakeGateway) lastPipeline() *fakePipeline {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pipelines) == 0 {
		return nil
	}
	return g.pipelines[len(g.pipelines)-1]
}

func (g *fakeGateway) ReleaseIfIdle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idleCalls++
}

func (g *fakeGateway) idleCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idleCalls
}

type fakeNotifier struct {
	mu         sync.Mutex
	stopped    []core.SignalConnection
	candidates []webrtc.ICECandidateInit
}

func (n *fakeNotifier) NotifyCandidate(_ core.SignalConnection, cand webrtc.ICECandidateInit) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.candidates = append(n.candidates, cand)
}

func (n *fakeNotifier) NotifyStopped(sc core.SignalConnection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = append(n.stopped, sc)
}

func (n *fakeNotifier) stoppedConns() []core.SignalConnection {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]core.SignalConnection, len(n.stopped))
	copy(out, n.stopped)
	return out
}

func newTestCoordinator() (*Coordinator, *fakeGateway, *fakeNotifier) {
	gw := &fakeGateway{}
	notify := &fakeNotifier{}
	coord := &Coordinator{
		Registry:   NewRegistry(),
		Candidates: NewCandidateRouter(),
		Gateway:    gw,
		Notify:     notify,
	}
	return coord, gw, notify
}
