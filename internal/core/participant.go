package core

type SessionID string

// Presenter is the single connection publishing into the broadcast.
// The pipeline handle is exclusively owned by this record and released
// exactly once, when the record leaves the registry.
// Pipeline and Endpoint stay nil between admission and the engine
// finishing provisioning.
type Presenter struct {
	SessionID SessionID
	Signal    SignalConnection
	Pipeline  MediaPipeline
	Endpoint  MediaEndpoint
}

// Viewer is a connection subscribed to the presenter's pipeline.
type Viewer struct {
	SessionID SessionID
	Signal    SignalConnection
	Endpoint  MediaEndpoint
}
