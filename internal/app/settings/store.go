package settings

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// writeQueueSize bounds pending writes before SetEnabled/SetWave block.
const writeQueueSize = 32

// write is a single pending upsert.
type write struct {
	enabled *bool
	wave    *WaveVariant
}

// Store serves the current settings and persists changes asynchronously.
// Writes are applied in call order by a single writer goroutine.
type Store struct {
	mu sync.Mutex

	repo    Repository
	current Settings

	subscribers map[int]chan Settings
	nextSubID   int

	writes chan write
	done   chan struct{}
	closed bool
}

// NewStore loads the stored settings and starts the writer.
// A load failure is logged and the defaults are used.
func NewStore(ctx context.Context, repo Repository) *Store {
	current := Default()
	if repo != nil {
		loaded, err := repo.Load(ctx)
		if err != nil {
			zlog.Warn().Err(err).Msg("settings: load failed, using defaults")
		} else {
			current = loaded
		}
	}
	s := &Store{
		repo:        repo,
		current:     current,
		subscribers: make(map[int]chan Settings),
		writes:      make(chan write, writeQueueSize),
		done:        make(chan struct{}),
	}
	go s.writer()
	zlog.Debug().Msgf("settings: loaded: enabled=%t wave=%s", current.Enabled, current.Wave)
	return s
}

// Current returns the current settings.
func (s *Store) Current() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe returns a latest-wins stream of settings values. The current
// value is delivered first. The returned function cancels the subscription.
func (s *Store) Subscribe() (<-chan Settings, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Settings, 1)
	ch <- s.current
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

// SetEnabled updates the feature toggle.
func (s *Store) SetEnabled(enabled bool) error {
	return s.apply(write{enabled: &enabled}, func(cur *Settings) { cur.Enabled = enabled })
}

// SetWave updates the wave variant.
func (s *Store) SetWave(wave WaveVariant) error {
	return s.apply(write{wave: &wave}, func(cur *Settings) { cur.Wave = wave })
}

// apply updates the in-memory value, notifies subscribers and queues the
// write. Holding the lock while queueing keeps writes in call order.
func (s *Store) apply(w write, mutate func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("settings store closed")
	}

	next := s.current
	mutate(&next)
	if next == s.current {
		return nil
	}
	s.current = next
	zlog.Info().Msgf("settings: changed: enabled=%t wave=%s", next.Enabled, next.Wave)

	for _, ch := range s.subscribers {
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
	}

	s.writes <- w
	return nil
}

func (s *Store) writer() {
	defer close(s.done)
	for w := range s.writes {
		if s.repo == nil {
			continue
		}
		ctx := context.Background()
		if w.enabled != nil {
			if err := s.repo.SaveEnabled(ctx, *w.enabled); err != nil {
				zlog.Error().Err(err).Msg("settings: failed to save enabled")
			}
		}
		if w.wave != nil {
			if err := s.repo.SaveWave(ctx, *w.wave); err != nil {
				zlog.Error().Err(err).Msg("settings: failed to save wave")
			}
		}
	}
}

// Close flushes pending writes and ends all subscriptions.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.writes)
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()

	<-s.done
}
