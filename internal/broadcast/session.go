package broadcast

import (
	"context"
	"slices"
	"sync"
)

// Session is one observer. Events and alerts are queued in order and
// never dropped; status is coalesced so only the latest is pending. A
// session whose queue exceeds its limit is closed with ErrSlowConsumer.
//
// Thread Safety: all methods are safe for concurrent use.
type Session struct {
	id    string
	limit int

	mu     sync.Mutex
	topics map[string]bool
	seq    map[string]uint64
	queue  []Message
	status *Message
	closed bool
	err    error

	ready chan struct{}
	done  chan struct{}
}

func newSession(id string, limit int) *Session {
	s := &Session{
		id:     id,
		limit:  limit,
		topics: make(map[string]bool, len(AllTopics)),
		seq:    make(map[string]uint64, len(AllTopics)),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, t := range AllTopics {
		s.topics[t] = true
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Subscribe adds topics.
func (s *Session) Subscribe(topics ...string) error {
	for _, t := range topics {
		if !validTopic(t) {
			return ErrUnknownTopic
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		s.topics[t] = true
	}
	return nil
}

// Unsubscribe removes topics.
func (s *Session) Unsubscribe(topics ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		delete(s.topics, t)
	}
}

// Topics returns the subscribed topics, sorted.
func (s *Session) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// LastSeq returns the sequence number of the last message delivered on
// topic.
func (s *Session) LastSeq(topic string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq[topic]
}

// Ready is signalled whenever a message may be available.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session closed: ErrSlowConsumer after an
// overflow, ErrSessionClosed after Close, nil while open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Drain returns every pending message, queued messages first and the
// latest status last, each stamped with its sequence number.
func (s *Session) Drain() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, s.err
	}

	out := make([]Message, 0, len(s.queue)+1)
	for _, msg := range s.queue {
		out = append(out, s.stamp(msg))
	}
	clear(s.queue)
	s.queue = s.queue[:0]

	if s.status != nil {
		out = append(out, s.stamp(*s.status))
		s.status = nil
	}
	return out, nil
}

// Next blocks until one message is available, the session closes, or
// ctx is done.
func (s *Session) Next(ctx context.Context) (Message, error) {
	for {
		s.mu.Lock()
		switch {
		case s.closed:
			err := s.err
			s.mu.Unlock()
			return Message{}, err
		case len(s.queue) > 0:
			msg := s.stamp(s.queue[0])
			s.queue[0] = Message{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return msg, nil
		case s.status != nil:
			msg := s.stamp(*s.status)
			s.status = nil
			s.mu.Unlock()
			return msg, nil
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-s.done:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Close closes the session. Later calls are no-ops.
func (s *Session) Close() {
	s.closeWith(ErrSessionClosed)
}

func (s *Session) closeWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	s.queue = nil
	s.status = nil
	close(s.done)
}

func (s *Session) stamp(msg Message) Message {
	s.seq[msg.Topic]++
	msg.Seq = s.seq[msg.Topic]
	return msg
}

func (s *Session) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[topic]
}

// enqueue appends msg. It returns false, and closes the session, when the
// queue is full.
func (s *Session) enqueue(msg Message) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.limit > 0 && len(s.queue) >= s.limit {
		s.mu.Unlock()
		s.closeWith(ErrSlowConsumer)
		return false
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *Session) offerStatus(msg Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = &msg
	s.mu.Unlock()
	s.signal()
}

func (s *Session) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
