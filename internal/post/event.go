package post

import "time"

// Event types published on the event bus.
const (
	EventStatus        = "post.status"
	EventAuthRequired  = "session.auth_required"
	EventSessionOK     = "session.restored"
	EventPaused        = "dispatch.paused"
	EventResumed       = "dispatch.resumed"
	EventPostsImported = "posts.imported"
)

// Event is the payload of a post.status notification.
type Event struct {
	PostID   string    `json:"post_id"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	Attempts int       `json:"attempts"`
	Note     string    `json:"note,omitempty"`
	Error    string    `json:"error,omitempty"`
	Excerpt  string    `json:"excerpt,omitempty"`
	Ref      string    `json:"ref,omitempty"`
	Next     time.Time `json:"next,omitempty"`
	// Final marks a failure the retry policy gave up on.
	Final bool `json:"final,omitempty"`
}
