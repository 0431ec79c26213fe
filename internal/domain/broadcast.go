package domain

// Role of a participant within the single global broadcast.
type Role string

const (
	RolePresenter Role = "presenter"
	RoleViewer    Role = "viewer"
)

// BroadcastState is a read-only view for APIs (no transport fields).
type BroadcastState struct {
	PresenterActive bool     `json:"presenter_active"`
	PresenterID     string   `json:"presenter_id,omitempty"`
	ViewerCount     int      `json:"viewer_count"`
	ViewerIDs       []string `json:"viewer_ids,omitempty"`
}
