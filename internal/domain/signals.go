package domain

import (
	"context"
	"sync"
)

// CallbackRequest is handed to the answer handler whenever the backend
// needs input. Optional carries reason-specific data, e.g. the list of
// offered security mechanisms for ReasonNeedPTSecMech.
type CallbackRequest struct {
	Reason   Reason
	Message  string
	Optional string
}

// AnswerFunc answers a callback. An empty string means "no answer".
type AnswerFunc func(ctx context.Context, req CallbackRequest) string

// LogFunc receives backend log events.
type LogFunc func(ctx context.Context, msg string, level LogLevel)

// StatusFunc receives backend status events (opaque tag plus detail).
type StatusFunc func(ctx context.Context, tag int64, detail string)

// Signals is the handler registry shared by every banking context
// implementation. One handler per event; connecting again replaces it.
// Handlers run synchronously on the goroutine that triggered the event.
type Signals struct {
	mu       sync.RWMutex
	callback AnswerFunc
	log      LogFunc
	status   StatusFunc
}

// OnCallback connects the "callback" event.
func (s *Signals) OnCallback(fn AnswerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = fn
}

// OnLog connects the "log" event.
func (s *Signals) OnLog(fn LogFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = fn
}

// OnStatus connects the "status" event.
func (s *Signals) OnStatus(fn StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = fn
}

// EmitCallback asks the connected answer handler. Without a handler the
// answer is empty.
func (s *Signals) EmitCallback(ctx context.Context, req CallbackRequest) string {
	s.mu.RLock()
	fn := s.callback
	s.mu.RUnlock()
	if fn == nil {
		return ""
	}
	return fn(ctx, req)
}

// EmitLog forwards a log event to the connected handler, if any.
func (s *Signals) EmitLog(ctx context.Context, msg string, level LogLevel) {
	s.mu.RLock()
	fn := s.log
	s.mu.RUnlock()
	if fn != nil {
		fn(ctx, msg, level)
	}
}

// EmitStatus forwards a status event to the connected handler, if any.
func (s *Signals) EmitStatus(ctx context.Context, tag int64, detail string) {
	s.mu.RLock()
	fn := s.status
	s.mu.RUnlock()
	if fn != nil {
		fn(ctx, tag, detail)
	}
}
