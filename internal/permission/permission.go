// Package permission serializes concurrent requests for the same OS-level
// permission so only one native prompt is ever in flight per type.
package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jfigueroa88/muselink/internal/logger"
)

// Type names an OS permission the app may need.
type Type string

const (
	// TypeStorage grants write access to the downloads directory.
	TypeStorage Type = "storage"
	// TypeNotifications grants posting progress notifications.
	TypeNotifications Type = "notifications"
)

// Grant records a successful permission acquisition.
type Grant struct {
	Type      Type
	GrantedAt time.Time
}

// DeniedError means the user explicitly refused the permission. It is
// distinct from RequestError so callers can surface an actionable message.
type DeniedError struct {
	Type Type
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission %q denied by user", e.Type)
}

// RequestError means the prompt itself failed at the system level.
type RequestError struct {
	Type Type
	Err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("permission %q request failed: %v", e.Type, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Prompter shows the platform's native permission prompt. Implementations
// must distinguish user denial (*DeniedError) from system failure.
type Prompter interface {
	Prompt(ctx context.Context, t Type) (Grant, error)
}

type inflight struct {
	done  chan struct{}
	grant Grant
	err   error
}

// Service deduplicates concurrent permission requests by type. The
// in-flight entry is removed only after the prompt settles, guaranteeing
// two native prompts for the same type never overlap.
type Service struct {
	prompter Prompter
	log      *logger.Logger

	mu      sync.Mutex
	pending map[Type]*inflight
}

func NewService(prompter Prompter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		prompter: prompter,
		log:      log.WithComponent("permission"),
		pending:  make(map[Type]*inflight),
	}
}

// Request acquires the permission, coalescing concurrent callers for the
// same type onto one prompt. Every waiter observes the same grant or the
// same error. A caller whose context expires stops waiting, but the
// underlying prompt keeps running for the remaining waiters.
func (s *Service) Request(ctx context.Context, t Type) (Grant, error) {
	s.mu.Lock()
	req, ok := s.pending[t]
	if !ok {
		req = &inflight{done: make(chan struct{})}
		s.pending[t] = req
		go s.prompt(t, req)
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return Grant{}, &RequestError{Type: t, Err: ctx.Err()}
	case <-req.done:
		return req.grant, req.err
	}
}

func (s *Service) prompt(t Type, req *inflight) {
	s.log.Debug("Prompting for permission", "type", t)
	grant, err := s.prompter.Prompt(context.Background(), t)
	if err != nil {
		s.log.Warn("Permission not granted", "type", t, "error", err)
	}

	s.mu.Lock()
	req.grant = grant
	req.err = err
	delete(s.pending, t)
	s.mu.Unlock()

	close(req.done)
}
