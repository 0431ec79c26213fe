package signal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/Onecast/internal/app"
	"github.com/dkoval/Onecast/internal/core"
)

// stubEndpoint satisfies core.MediaEndpoint with just enough behavior to
// drive the dispatch tests.
type stubEndpoint struct {
	gathered   bool
	candidates []webrtc.ICECandidateInit
}

func (e *stubEndpoint) ProcessOffer(_ context.Context, sdpOffer string) (string, error) {
	return "answer:" + sdpOffer, nil
}

func (e *stubEndpoint) AddICECandidate(_ context.Context, cand webrtc.ICECandidateInit) error {
	e.candidates = append(e.candidates, cand)
	return nil
}

func (e *stubEndpoint) GatherCandidates(context.Context) error {
	e.gathered = true
	return nil
}

func (e *stubEndpoint) Connect(context.Context, core.MediaEndpoint) error     { return nil }
func (e *stubEndpoint) SetVideoSendBandwidth(context.Context, int, int) error { return nil }
func (e *stubEndpoint) SetVideoRecvBandwidth(context.Context, int, int) error { return nil }
func (e *stubEndpoint) Release(context.Context) error                         { return nil }

func (e *stubEndpoint) OnICECandidate(func(webrtc.ICECandidateInit))             {}
func (e *stubEndpoint) OnConnectionStateChanged(func(oldState, newState string)) {}
func (e *stubEndpoint) OnError(func(description string, code int))               {}
func (e *stubEndpoint) OnMediaSessionTerminated(func())                          {}
func (e *stubEndpoint) OnDataChannelClosed(func(channelID int))                  {}

type stubPipeline struct{}

func (*stubPipeline) CreateEndpoint(context.Context, core.EndpointOptions) (core.MediaEndpoint, error) {
	return &stubEndpoint{}, nil
}
func (*stubPipeline) Release(context.Context) error { return nil }

type stubGateway struct {
	presenterEndpoint *stubEndpoint
}

func (g *stubGateway) CreatePresenterFeed(context.Context) (core.MediaPipeline, core.MediaEndpoint, error) {
	g.presenterEndpoint = &stubEndpoint{}
	return &stubPipeline{}, g.presenterEndpoint, nil
}

func (g *stubGateway) CreateViewerFeed(ctx context.Context, pipeline core.MediaPipeline) (core.MediaEndpoint, error) {
	return pipeline.CreateEndpoint(ctx, core.EndpointOptions{RecvOnly: true})
}

func (*stubGateway) ReleaseIfIdle() {}

func newTestController() (*Controller, *stubGateway) {
	gw := &stubGateway{}
	coord := &app.Coordinator{
		Registry:   app.NewRegistry(),
		Candidates: app.NewCandidateRouter(),
		Gateway:    gw,
	}
	ctl := NewController(coord)
	coord.Notify = ctl
	return ctl, gw
}

func newTestConn() *WsSignalConn {
	return &WsSignalConn{send: make(chan core.Frame, 8)}
}

func recvJSON(t *testing.T, c *WsSignalConn) map[string]any {
	t.Helper()
	select {
	case f := <-c.send:
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		return m
	default:
		t.Fatal("expected a queued frame")
		return nil
	}
}

func TestHandleMessageInvalidJSON(t *testing.T) {
	ctl, _ := newTestController()
	conn := newTestConn()

	ctl.handleMessage(context.Background(), "s1", conn, []byte("{not json"))

	m := recvJSON(t, conn)
	assert.Equal(t, "error", m["id"])
	assert.Contains(t, m["message"], "invalid message")
}

func TestHandleMessageUnknownID(t *testing.T) {
	ctl, _ := newTestController()
	conn := newTestConn()

	ctl.handleMessage(context.Background(), "s1", conn, []byte(`{"id":"teleport"}`))

	m := recvJSON(t, conn)
	assert.Equal(t, "error", m["id"])
	assert.Contains(t, m["message"], "teleport")
}

func TestStartPresenterAccepted(t *testing.T) {
	ctl, gw := newTestController()
	conn := newTestConn()

	ctl.handleMessage(context.Background(), "p1", conn,
		[]byte(`{"id":"startPresenter","sdpOffer":"v=0 offer"}`))

	m := recvJSON(t, conn)
	assert.Equal(t, "presenterResponse", m["id"])
	assert.Equal(t, "accepted", m["message"])
	assert.Equal(t, "answer:v=0 offer", m["sdpAnswer"])

	// Gathering starts only once the answer frame is queued.
	assert.True(t, gw.presenterEndpoint.gathered)
}

func TestStartViewerRejectedWithoutPresenter(t *testing.T) {
	ctl, _ := newTestController()
	conn := newTestConn()

	ctl.handleMessage(context.Background(), "v1", conn,
		[]byte(`{"id":"startViewer","sdpOffer":"v=0 offer"}`))

	m := recvJSON(t, conn)
	assert.Equal(t, "viewerResponse", m["id"])
	assert.Equal(t, "rejected", m["message"])
	errs, ok := m["errors"].([]any)
	require.True(t, ok)
	assert.Equal(t, "No presenter yet available. Try again later ...", errs[0])
}

func TestSecondPresenterRejectedOnWire(t *testing.T) {
	ctl, _ := newTestController()
	first := newTestConn()
	second := newTestConn()
	ctx := context.Background()

	ctl.handleMessage(ctx, "p1", first, []byte(`{"id":"startPresenter","sdpOffer":"o1"}`))
	recvJSON(t, first)

	ctl.handleMessage(ctx, "p2", second, []byte(`{"id":"startPresenter","sdpOffer":"o2"}`))

	m := recvJSON(t, second)
	assert.Equal(t, "presenterResponse", m["id"])
	assert.Equal(t, "rejected", m["message"])
	errs := m["errors"].([]any)
	assert.Equal(t, "Another user is currently acting as presenter. Try again later ...", errs[0])
}

func TestCandidateDispatch(t *testing.T) {
	ctl, gw := newTestController()
	conn := newTestConn()
	ctx := context.Background()

	ctl.handleMessage(ctx, "p1", conn, []byte(`{"id":"startPresenter","sdpOffer":"o1"}`))
	recvJSON(t, conn)

	ctl.handleMessage(ctx, "p1", conn,
		[]byte(`{"id":"onIceCandidate","candidate":{"candidate":"candidate:42","sdpMid":"0","sdpMLineIndex":0}}`))

	require.Len(t, gw.presenterEndpoint.candidates, 1)
	got := gw.presenterEndpoint.candidates[0]
	assert.Equal(t, "candidate:42", got.Candidate)
	require.NotNil(t, got.SDPMid)
	assert.Equal(t, "0", *got.SDPMid)
}

func TestStopWithoutSessionIsHarmless(t *testing.T) {
	ctl, _ := newTestController()
	conn := newTestConn()

	ctl.handleMessage(context.Background(), "ghost", conn, []byte(`{"id":"stop"}`))

	select {
	case f := <-conn.send:
		t.Fatalf("unexpected frame: %s", f)
	default:
	}
}

func TestNotifyStoppedFrame(t *testing.T) {
	ctl, _ := newTestController()
	conn := newTestConn()

	ctl.NotifyStopped(conn)

	m := recvJSON(t, conn)
	assert.Equal(t, "stopCommunication", m["id"])
}

func TestNotifyCandidateFrame(t *testing.T) {
	ctl, _ := newTestController()
	conn := newTestConn()

	mid := "0"
	ctl.NotifyCandidate(conn, webrtc.ICECandidateInit{Candidate: "candidate:9", SDPMid: &mid})

	m := recvJSON(t, conn)
	assert.Equal(t, "iceCandidate", m["id"])
	c := m["candidate"].(map[string]any)
	assert.Equal(t, "candidate:9", c["candidate"])
	assert.Equal(t, "0", c["sdpMid"])
}

func TestTrySendBackpressure(t *testing.T) {
	conn := &WsSignalConn{send: make(chan core.Frame, 1)}

	require.NoError(t, conn.TrySend(core.Frame("one")))
	assert.ErrorIs(t, conn.TrySend(core.Frame("two")), ErrBackpressure)
}

func TestRejectionTextFallsBackToError(t *testing.T) {
	assert.Equal(t, assert.AnError.Error(), rejectionText(assert.AnError))
	assert.Equal(t, "Error while connecting to the media engine", rejectionText(core.ErrMediaEngineUnavailable))
	assert.Equal(t, "Error while processing the SDP offer", rejectionText(core.ErrNegotiationFailed))
}
