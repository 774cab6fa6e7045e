package publish

import (
	"context"
	"fmt"
	"sync/atomic"

	logx "autopost/pkg/logx"
)

// DryRun logs every publish and pretends it succeeded.
type DryRun struct {
	log logx.Logger
	n   atomic.Uint64
}

func NewDryRun(log logx.Logger) *DryRun {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DryRun{log: log.With(logx.String("comp", "publish.dryrun"))}
}

func (d *DryRun) IsSessionHealthy(context.Context) bool { return true }

func (d *DryRun) Publish(ctx context.Context, c Content) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", Fail(KindTransientNetwork, err)
	}
	n := d.n.Add(1)
	d.log.Info("dry-run publish",
		logx.String("post_id", c.PostID),
		logx.Int("media", len(c.Media)),
		logx.Int("chars", len([]rune(c.Text))),
	)
	return Ref(fmt.Sprintf("dryrun:%d", n)), nil
}
