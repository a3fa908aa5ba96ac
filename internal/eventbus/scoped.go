package eventbus

import "time"

// ScopedBus is a view over a shared Bus that prefixes every event name,
// keeping subsystems from colliding while the underlying bus still sees
// the real names.
type ScopedBus struct {
	bus    *Bus
	prefix string
}

func (s *ScopedBus) name(event string) string {
	return s.prefix + event
}

func (s *ScopedBus) Subscribe(event string, h Handler) UnsubscribeFunc {
	return s.bus.Subscribe(s.name(event), h)
}

func (s *ScopedBus) SubscribeOnce(event string, h Handler) UnsubscribeFunc {
	return s.bus.SubscribeOnce(s.name(event), h)
}

func (s *ScopedBus) Emit(event string, payload any) {
	s.bus.Emit(s.name(event), payload)
}

func (s *ScopedBus) EmitAsync(event string, payload any) <-chan struct{} {
	return s.bus.EmitAsync(s.name(event), payload)
}

func (s *ScopedBus) WaitFor(event string, timeout time.Duration) (any, error) {
	return s.bus.WaitFor(s.name(event), timeout)
}

func (s *ScopedBus) History(event string, limit int) []any {
	return s.bus.History(s.name(event), limit)
}

// Scope narrows the view further; prefixes accumulate.
func (s *ScopedBus) Scope(prefix string) *ScopedBus {
	return &ScopedBus{bus: s.bus, prefix: s.prefix + prefix + ":"}
}
