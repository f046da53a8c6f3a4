package events

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/interfaces"
)

// subscriberBuffer bounds each subscriber channel. Slow consumers drop
// intermediate progress events rather than blocking the scrape loop.
const subscriberBuffer = 64

// ProgressChannel fans out the lifecycle events of a single scrape job to
// any number of subscribers. A job emits any number of progress events
// followed by exactly one terminal event (completed, failed or cancelled),
// after which the channel closes. A subscriber that attaches after the
// terminal event still receives it, so a client reconnecting late learns
// how the job ended.
type ProgressChannel struct {
	jobID       string
	mu          sync.Mutex
	subscribers map[int]chan interfaces.Event
	nextID      int
	terminal    *interfaces.Event
	logger      arbor.ILogger
}

// NewProgressChannel creates a progress channel for a job
func NewProgressChannel(jobID string, logger arbor.ILogger) *ProgressChannel {
	return &ProgressChannel{
		jobID:       jobID,
		subscribers: make(map[int]chan interfaces.Event),
		logger:      logger,
	}
}

// JobID returns the job this channel streams events for
func (p *ProgressChannel) JobID() string {
	return p.jobID
}

// Subscribe attaches a new consumer. The returned cancel func detaches it.
// If the job has already finished, the consumer receives the terminal event
// immediately and the channel is closed.
func (p *ProgressChannel) Subscribe() (<-chan interfaces.Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan interfaces.Event, subscriberBuffer)

	if p.terminal != nil {
		ch <- *p.terminal
		close(ch)
		return ch, func() {}
	}

	id := p.nextID
	p.nextID++
	p.subscribers[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Emit delivers an event to all current subscribers. The first terminal
// event closes the channel; anything emitted after it is dropped.
func (p *ProgressChannel) Emit(event interfaces.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminal != nil {
		p.logger.Warn().
			Str("job_id", p.jobID).
			Str("event_type", string(event.Type)).
			Msg("Event emitted after terminal event, dropping")
		return
	}

	terminal := isTerminal(event.Type)
	for id, ch := range p.subscribers {
		select {
		case ch <- event:
		default:
			if !terminal {
				p.logger.Debug().
					Str("job_id", p.jobID).
					Int("subscriber", id).
					Msg("Subscriber buffer full, dropping progress event")
				continue
			}
			// The terminal event must reach every subscriber; evict the
			// oldest buffered event to make room. Emit is the only sender,
			// so one eviction under the lock is always enough.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}

	if terminal {
		p.terminal = &event
		for _, ch := range p.subscribers {
			close(ch)
		}
		p.subscribers = make(map[int]chan interfaces.Event)
	}
}

// Terminal returns the terminal event if the job has finished, or nil.
func (p *ProgressChannel) Terminal() *interfaces.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

func isTerminal(t interfaces.EventType) bool {
	switch t {
	case interfaces.EventJobCompleted, interfaces.EventJobFailed, interfaces.EventJobCancelled:
		return true
	}
	return false
}
