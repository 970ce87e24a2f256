package llm

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrStreamClosed 在 Close 之后调用 Recv 时返回。
var ErrStreamClosed = errors.New("stream closed")

// produceFunc 在独立 goroutine 中运行，通过 emit 逐个交付片段。
// emit 在流被关闭或 ctx 取消后返回错误，produce 应立即返回。
type produceFunc func(ctx context.Context, emit func(string) error) error

// pipe 把回调式的后端客户端适配为拉取式的 Stream。
type pipe struct {
	frags  chan string
	done   chan struct{}
	cancel context.CancelFunc
	err    error // 仅在 done 关闭后读取

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newPipe(ctx context.Context, produce produceFunc) *pipe {
	ctx, cancel := context.WithCancel(ctx)
	p := &pipe{
		frags:  make(chan string),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	emit := func(s string) error {
		select {
		case p.frags <- s:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	go func() {
		defer close(p.done)
		p.err = produce(ctx, emit)
	}()
	return p
}

func (p *pipe) Recv() (string, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return "", ErrStreamClosed
	}

	select {
	case frag := <-p.frags:
		return frag, nil
	case <-p.done:
		if p.err != nil {
			return "", p.err
		}
		return "", io.EOF
	}
}

func (p *pipe) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cancel()
		<-p.done
	})
	return nil
}
