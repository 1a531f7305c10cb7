package llm

import (
	"context"
	"sync"
)

type scriptedProvider struct {
	mu       sync.Mutex
	errs     []error
	deltas   []string
	reply    Message
	requests []Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) next(req Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

func (p *scriptedProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := p.next(req); err != nil {
		return nil, err
	}
	return &Response{Message: p.reply, Model: req.Model}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	for _, d := range p.deltas {
		onDelta(d)
	}
	if err := p.next(req); err != nil {
		return nil, err
	}
	return &Response{Message: p.reply, Model: req.Model}, nil
}

func (p *scriptedProvider) models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.requests))
	for _, r := range p.requests {
		out = append(out, r.Model)
	}
	return out
}
