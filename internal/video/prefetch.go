package video

import (
	"context"
	"sync"
)

type fetched struct {
	frame Frame
	err   error
}

// prefetchSource decodes ahead of the consumer on one goroutine. Frames are
// delivered in decode order through a bounded channel.
type prefetchSource struct {
	src    Source
	ch     chan fetched
	cancel context.CancelFunc
	wg     sync.WaitGroup
	last   error
}

// Prefetch wraps src so that up to depth frames are decoded ahead of Next.
// depth <= 0 returns src unchanged.
func Prefetch(ctx context.Context, src Source, depth int) Source {
	if depth <= 0 {
		return src
	}
	if depth > MaxPrefetchDepth {
		depth = MaxPrefetchDepth
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &prefetchSource{
		src:    src,
		ch:     make(chan fetched, depth),
		cancel: cancel,
	}

	p.wg.Add(1)
	go p.run(ctx)
	return p
}

func (p *prefetchSource) run(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.ch)

	for {
		f, err := p.src.Next(ctx)
		select {
		case p.ch <- fetched{frame: f, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Next returns the next decoded frame. After the producer stops, the terminal
// error is repeated.
func (p *prefetchSource) Next(ctx context.Context) (Frame, error) {
	if p.last != nil {
		return Frame{}, p.last
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case r, ok := <-p.ch:
		if !ok {
			p.last = context.Canceled
			return Frame{}, p.last
		}
		if r.err != nil {
			p.last = r.err
		}
		return r.frame, r.err
	}
}

func (p *prefetchSource) FrameCount() int { return p.src.FrameCount() }

// Close stops the producer and closes the wrapped source.
func (p *prefetchSource) Close() error {
	p.cancel()
	// Drain so a blocked producer observes cancellation.
	for range p.ch {
	}
	p.wg.Wait()
	return p.src.Close()
}
