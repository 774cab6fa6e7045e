package orchestrator

import (
	"errors"
	"fmt"

	"autopost/internal/post"
	"autopost/internal/storage"
)

var (
	ErrNotFound          = storage.ErrNotFound
	ErrInvalidTransition = post.ErrInvalidTransition
	ErrBusy              = errors.New("post is being published")
	ErrValidation        = errors.New("validation failed")
	ErrStopped           = errors.New("orchestrator stopped")
)

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func badState(id string, from post.Status, op string) error {
	return fmt.Errorf("%w: cannot %s post %s in status %s", ErrInvalidTransition, op, id, from)
}
