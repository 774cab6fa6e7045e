package publish

import (
	"errors"
	"fmt"

	"autopost/internal/retry"
)

const (
	KindTransientNetwork = retry.KindTransientNetwork
	KindUIMismatch       = retry.KindUIMismatch
	KindRateLimited      = retry.KindRateLimited
	KindSessionExpired   = retry.KindSessionExpired
	KindValidation       = retry.KindValidation
)

// Kinds lists every classification an adapter may report.
var Kinds = []string{
	KindTransientNetwork, KindUIMismatch, KindRateLimited, KindSessionExpired, KindValidation,
}

// Failure is a classified publish error.
type Failure struct {
	Kind string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail wraps err with kind.
func Fail(kind string, err error) error {
	if err == nil {
		err = errors.New(kind)
	}
	return &Failure{Kind: kind, Err: err}
}

// Failf formats a message and wraps it with kind.
func Failf(kind, format string, args ...any) error {
	return &Failure{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify returns the failure kind of err. Unclassified errors, timeouts and
// cancellations are ambiguous outcomes and count as transient network failures.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) && knownKind(f.Kind) {
		return f.Kind
	}
	return KindTransientNetwork
}

func knownKind(k string) bool {
	for _, v := range Kinds {
		if v == k {
			return true
		}
	}
	return false
}
