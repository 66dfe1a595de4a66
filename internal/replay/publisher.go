package replay

import (
	"context"
	"sync/atomic"

	service "github.com/okian/dialogkpi/internal/app"
	"github.com/okian/dialogkpi/internal/domain/model"
)

// countingPublisher tallies upload outcomes on the way through.
type countingPublisher struct {
	next   service.Publisher
	ok     atomic.Int64
	failed atomic.Int64
}

func (p *countingPublisher) Publish(ctx context.Context, u model.Upload) error {
	done := u.Done
	u.Done = func(ok bool) {
		if ok {
			p.ok.Add(1)
		} else {
			p.failed.Add(1)
		}
		if done != nil {
			done(ok)
		}
	}
	if err := p.next.Publish(ctx, u); err != nil {
		p.failed.Add(1)
		return err
	}
	return nil
}
