// Package publish defines the boundary to the browser-automation collaborator
// that performs the actual post on the social network.
package publish

import "context"

// Content is what a single publish attempt sends.
type Content struct {
	PostID string   `json:"post_id,omitempty"`
	Text   string   `json:"content"`
	Media  []string `json:"media"`
}

// Ref is the opaque reference (usually a URL) of a published post.
type Ref string

// Port is implemented by adapters that drive the authenticated browser
// session. Publish is called at most once per attempt and never concurrently.
type Port interface {
	// IsSessionHealthy reports whether the session is logged in and usable.
	IsSessionHealthy(ctx context.Context) bool
	// Publish performs the side effect. Errors should be *Failure values;
	// anything else is classified as a transient network failure.
	Publish(ctx context.Context, c Content) (Ref, error)
}
