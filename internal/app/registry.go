package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkoval/Onecast/internal/core"
	"github.com/dkoval/Onecast/internal/domain"
)

// Registry holds the single presenter slot and the viewer set.
// Every mutation runs under one mutex so the broadcast membership is never
// observed half-updated. The registry never touches transport or engine
// resources; it only detaches records and hands them to the caller.
type Registry struct {
	mu        sync.RWMutex
	presenter *core.Presenter
	viewers   map[core.SessionID]*core.Viewer
}

func NewRegistry() *Registry {
	return &Registry{viewers: make(map[core.SessionID]*core.Viewer)}
}

// AdmitPresenter installs a placeholder presenter record for sid.
// The placeholder is registered before any media engine call, so of two
// simultaneous admissions exactly one wins and the other observes the slot
// as taken.
func (r *Registry) AdmitPresenter(sid core.SessionID, signal core.SignalConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presenter != nil {
		return core.ErrAlreadyPresenting
	}
	if _, ok := r.viewers[sid]; ok {
		// A session cannot watch and present at once.
		return core.ErrAlreadyPresenting
	}
	r.presenter = &core.Presenter{SessionID: sid, Signal: signal}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("presenter admitted")
	return nil
}

// SetPresenterMedia attaches engine handles to the placeholder. It returns
// false when the placeholder was torn down while the engine was
// provisioning; the caller then owns the handles and must release them.
func (r *Registry) SetPresenterMedia(sid core.SessionID, pipeline core.MediaPipeline, endpoint core.MediaEndpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presenter == nil || r.presenter.SessionID != sid {
		return false
	}
	r.presenter.Pipeline = pipeline
	r.presenter.Endpoint = endpoint
	return true
}

// Presenter returns a snapshot of the current presenter record.
func (r *Registry) Presenter() (core.Presenter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.presenter == nil {
		return core.Presenter{}, false
	}
	return *r.presenter, true
}

// AdmitViewer appends a viewer. Fails when no presenter is active, or when
// sid is the presenter itself.
func (r *Registry) AdmitViewer(sid core.SessionID, signal core.SignalConnection, endpoint core.MediaEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presenter == nil {
		return core.ErrNoPresenter
	}
	if r.presenter.SessionID == sid {
		return core.ErrAlreadyPresenting
	}
	r.viewers[sid] = &core.Viewer{SessionID: sid, Signal: signal, Endpoint: endpoint}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("viewers", len(r.viewers)).Msg("viewer admitted")
	return nil
}

// RemovePresenter atomically detaches the presenter and every viewer,
// returning them for teardown. Subsequent calls observe no presenter.
func (r *Registry) RemovePresenter(sid core.SessionID) (*core.Presenter, []*core.Viewer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presenter == nil || r.presenter.SessionID != sid {
		return nil, nil, false
	}
	p := r.presenter
	r.presenter = nil
	detached := make([]*core.Viewer, 0, len(r.viewers))
	for _, v := range r.viewers {
		detached = append(detached, v)
	}
	r.viewers = make(map[core.SessionID]*core.Viewer)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("viewers", len(detached)).Msg("presenter removed")
	return p, detached, true
}

// RemoveViewer detaches a single viewer.
func (r *Registry) RemoveViewer(sid core.SessionID) (*core.Viewer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[sid]
	if !ok {
		return nil, false
	}
	delete(r.viewers, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("viewer removed")
	return v, true
}

// RoleOf reports sid's part in the broadcast, if any.
func (r *Registry) RoleOf(sid core.SessionID) (domain.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.presenter != nil && r.presenter.SessionID == sid {
		return domain.RolePresenter, true
	}
	if _, ok := r.viewers[sid]; ok {
		return domain.RoleViewer, true
	}
	return "", false
}

// Empty reports whether no participant is registered.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presenter == nil && len(r.viewers) == 0
}

func (r *Registry) Snapshot() domain.BroadcastState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := domain.BroadcastState{ViewerCount: len(r.viewers)}
	if r.presenter != nil {
		st.PresenterActive = true
		st.PresenterID = string(r.presenter.SessionID)
	}
	for sid := range r.viewers {
		st.ViewerIDs = append(st.ViewerIDs, string(sid))
	}
	return st
}
