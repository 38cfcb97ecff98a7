package main

import (
	"context"
	"iter"

	"github.com/rxtech-lab/argo-engine/internal/feed"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/schollz/progressbar/v3"
)

// progressFeed advances a progress bar by the number of events in each
// batch it passes on.
type progressFeed struct {
	source feed.Feed
	bar    *progressbar.ProgressBar
}

func (p *progressFeed) Batches(ctx context.Context) iter.Seq2[types.Batch, error] {
	return func(yield func(types.Batch, error) bool) {
		for batch, err := range p.source.Batches(ctx) {
			if err == nil {
				_ = p.bar.Add(len(batch.Events))
			}

			if !yield(batch, err) {
				return
			}
		}
	}
}
