package llm

import (
	"context"
	"errors"
	"io"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/pkg/circuitbreaker"
)

// breakerLLM 用熔断器保护后端。熔断打开时直接返回 ModelUnavailableError。
type breakerLLM struct {
	inner   LLM
	breaker circuitbreaker.CircuitBreaker
}

// WithBreaker 用 breaker 包装 inner。
func WithBreaker(inner LLM, breaker circuitbreaker.CircuitBreaker) LLM {
	return &breakerLLM{inner: inner, breaker: breaker}
}

func (b *breakerLLM) Generate(ctx context.Context, prompt string) (string, error) {
	var answer string
	err := b.breaker.Do(func() error {
		var err error
		answer, err = b.inner.Generate(ctx, prompt)
		return err
	})
	return answer, openErr(err)
}

// Stream 在熔断器内打开流并读取第一个片段，使连接失败计入熔断统计。
func (b *breakerLLM) Stream(ctx context.Context, prompt string) (Stream, error) {
	var (
		inner Stream
		first string
		rerr  error
	)
	err := b.breaker.Do(func() error {
		var err error
		inner, err = b.inner.Stream(ctx, prompt)
		if err != nil {
			return err
		}
		first, rerr = inner.Recv()
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			_ = inner.Close()
			return rerr
		}
		return nil
	})
	if err != nil {
		return nil, openErr(err)
	}
	return &peekedStream{Stream: inner, first: first, firstErr: rerr, pending: true}, nil
}

func openErr(err error) error {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return apperr.Wrap(apperr.KindModelUnavailable, err, "model backend temporarily disabled")
	}
	return err
}

// peekedStream 先返回已读取的第一个片段 (或其错误)，再委托给底层流。
type peekedStream struct {
	Stream
	first    string
	firstErr error
	pending  bool
}

func (p *peekedStream) Recv() (string, error) {
	if p.pending {
		p.pending = false
		if p.firstErr != nil {
			return "", p.firstErr
		}
		return p.first, nil
	}
	return p.Stream.Recv()
}
