package entities

import "time"

// DefaultRadiusMeters is used until the user picks a radius.
const DefaultRadiusMeters = 500

// Radius bounds accepted for custom values.
const (
	MinRadiusMeters = 100
	MaxRadiusMeters = 50000
)

// PresetRadii are the suggested radius choices, smallest first.
var PresetRadii = []int{500, 1000, 2000, 5000}

// SearchMode selects which provider search is issued.
type SearchMode string

const (
	SearchModeCategory SearchMode = "category"
	SearchModeFreeText SearchMode = "free_text"
)

// SessionPhase is the explicit conversation step of a session.
type SessionPhase string

const (
	PhaseAwaitingLocation SessionPhase = "awaiting_location"
	PhaseAwaitingRadius   SessionPhase = "awaiting_radius"
	PhaseAwaitingQuery    SessionPhase = "awaiting_query"
	PhaseAwaitingText     SessionPhase = "awaiting_text"
	PhaseSearching        SessionPhase = "searching"
)

// PaginationStatus is the state of the result cursor.
type PaginationStatus string

const (
	PaginationIdle      PaginationStatus = "idle"
	PaginationFetching  PaginationStatus = "fetching"
	PaginationPageReady PaginationStatus = "page_ready"
	PaginationExhausted PaginationStatus = "exhausted"
)

// PaginationState is the per-session cursor over provider pages.
type PaginationState struct {
	Status            PaginationStatus `json:"status"`
	ContinuationToken string           `json:"continuation_token,omitempty"`
	// PageIndex is the last page shown, -1 before the first page lands.
	PageIndex  int            `json:"page_index"`
	InFlight   bool           `json:"in_flight"`
	Generation uint64         `json:"generation"`
	Request    *SearchRequest `json:"request,omitempty"`
}

// UserSession is the accumulated search state of one user.
type UserSession struct {
	UserID       string           `json:"user_id"`
	Origin       *Location        `json:"origin,omitempty"`
	RadiusMeters int              `json:"radius_meters"`
	Mode         SearchMode       `json:"mode,omitempty"`
	Query        string           `json:"query,omitempty"`
	Phase        SessionPhase     `json:"phase"`
	Pagination   *PaginationState `json:"pagination,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`

	// Restarted is set while the first mutation is applied to a session that
	// replaced an expired one.
	Restarted bool `json:"-"`
}

// NewUserSession returns the default session for a user.
func NewUserSession(userID string, now time.Time) *UserSession {
	return &UserSession{
		UserID:       userID,
		RadiusMeters: DefaultRadiusMeters,
		Phase:        PhaseAwaitingLocation,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy of the session.
func (s *UserSession) Clone() *UserSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.Origin != nil {
		origin := *s.Origin
		out.Origin = &origin
	}
	if s.Pagination != nil {
		p := *s.Pagination
		if p.Request != nil {
			req := *p.Request
			p.Request = &req
		}
		out.Pagination = &p
	}
	return &out
}

// HasQuery reports whether a mode and a non-empty query are set.
func (s *UserSession) HasQuery() bool {
	return s.Mode != "" && s.Query != ""
}

// ReadyToSearch reports whether origin, radius and query are all present.
func (s *UserSession) ReadyToSearch() bool {
	return s.Origin != nil && s.RadiusMeters > 0 && s.HasQuery()
}

// Generation returns the current search generation, 0 before any search.
func (s *UserSession) Generation() uint64 {
	if s.Pagination == nil {
		return 0
	}
	return s.Pagination.Generation
}

// ResetPagination discards any cursor and starts a new generation in Idle.
func (s *UserSession) ResetPagination() {
	s.Pagination = &PaginationState{
		Status:     PaginationIdle,
		PageIndex:  -1,
		Generation: s.Generation() + 1,
	}
}

// Idle reports whether the session has not been touched for longer than ttl.
func (s *UserSession) Idle(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.UpdatedAt) > ttl
}
