package publish

import (
	"errors"
	"strings"

	logx "autopost/pkg/logx"
)

// Config selects and configures the adapter.
//
// Driver values:
//   - "exec": external automation helper
//   - "dryrun": log only, always succeeds
type Config struct {
	Driver string
	Exec   ExecConfig
}

func Open(cfg Config, log logx.Logger) (Port, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "exec":
		return NewExec(cfg.Exec, log)
	case "", "dryrun", "dry-run":
		return NewDryRun(log), nil
	default:
		return nil, errors.New("unknown publisher driver: " + cfg.Driver)
	}
}
