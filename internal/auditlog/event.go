package auditlog

import "time"

type EventType string

const (
	EventLoginSuccess   EventType = "login_success"
	EventLoginFailed    EventType = "login_failed"
	EventLogout         EventType = "logout"
	EventAutoLogout     EventType = "auto_logout"
	EventRefreshSuccess EventType = "refresh_success"
	EventRefreshFailed  EventType = "refresh_failed"
	EventAccessDenied   EventType = "access_denied"
)

// Event is a single entry in the local audit journal. The journal keeps
// a trace of credential lifecycle transitions and guard denials, so an
// operator can reconstruct why a session ended or a page got blocked.
type Event struct {
	Id        int       `json:"id"`
	Type      EventType `json:"type"`
	Username  string    `json:"username"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"createdAt"`
}
