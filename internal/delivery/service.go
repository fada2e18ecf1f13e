package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tickbot/internal/eventbus"
	"tickbot/internal/storage"
	kit "tickbot/internal/transport"
	logx "tickbot/pkg/logx"
)

// persistTimeout bounds bookkeeping after a send. It is detached from the
// firing context so an outcome is still recorded during shutdown.
const persistTimeout = 5 * time.Second

var ErrLogNotWritten = errors.New("counter not incremented: success row was not written")

// Service sends the periodic message and records every attempt.
//
// The store may be nil (storage driver "none"): sends still happen, nothing
// is persisted.
type Service struct {
	msg    kit.Messenger
	markup kit.Formatter
	store  storage.Store
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	mu  sync.RWMutex
	set Settings

	// fireMu keeps firings sequential even when callers overlap.
	fireMu sync.Mutex
}

type Option func(*Service)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func New(msg kit.Messenger, store storage.Store, set Settings, opts ...Option) (*Service, error) {
	if msg == nil {
		return nil, errors.New("delivery: messenger is required")
	}
	if err := checkSettings(set); err != nil {
		return nil, err
	}
	s := &Service{msg: msg, markup: formatterFor(msg), store: store, now: time.Now, set: set}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s, nil
}

func checkSettings(set Settings) error {
	if strings.TrimSpace(set.Target.RecipientID) == "" {
		return errors.New("delivery: recipient is required")
	}
	if strings.TrimSpace(set.CounterKey) == "" {
		return errors.New("delivery: counter key is required")
	}
	return nil
}

// Apply swaps settings for subsequent firings. Invalid settings are rejected
// and the previous ones kept.
func (s *Service) Apply(set Settings) error {
	if err := checkSettings(set); err != nil {
		return err
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	return nil
}

func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

// Fire performs one delivery: send, append a success or error row, and on
// success increment the counter. Every failure is captured in the report.
func (s *Service) Fire(ctx context.Context) Report {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	start := time.Now()
	set := s.Settings()
	r := s.begin(KindFire, set)
	r.Text = fireText(set, s.markup, r.At)

	r.Ref, r.DeliveryErr = s.send(ctx, set, r.Text)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if r.DeliveryErr != nil {
		r.Status = storage.StatusError
		r.LogID, r.LogErr = s.appendLog(pctx, r.At, r.Status, failedLine(r.DeliveryErr))
	} else {
		r.Status = storage.StatusSuccess
		r.LogID, r.LogErr = s.appendLog(pctx, r.At, r.Status, sentLine(r.At))
		r.Counter, r.CounterErr = s.increment(pctx, set.CounterKey, r.LogErr)
	}
	return s.finish(r, start)
}

// Startup sends the one-off "scheduler started" notice and logs it with
// status startup. A failed send is logged and leaves no row.
func (s *Service) Startup(ctx context.Context) Report {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	start := time.Now()
	set := s.Settings()
	r := s.begin(KindStartup, set)
	r.Text = startupText(set, s.markup, r.At)
	r.Status = storage.StatusStartup

	r.Ref, r.DeliveryErr = s.send(ctx, set, r.Text)
	if r.DeliveryErr == nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		r.LogID, r.LogErr = s.appendLog(pctx, r.At, r.Status, startedLine(r.At))
	}
	return s.finish(r, start)
}

func (s *Service) begin(kind Kind, set Settings) Report {
	loc := set.Location
	if loc == nil {
		loc = time.Local
	}
	// Time is captured at invocation, never precomputed.
	return Report{ID: uuid.NewString(), Kind: kind, At: s.now().In(loc)}
}

func (s *Service) send(ctx context.Context, set Settings, text string) (kit.MessageRef, error) {
	if set.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, set.SendTimeout)
		defer cancel()
	}
	ref, err := s.msg.SendText(ctx, set.Target, text, &kit.SendOptions{ParseMode: set.ParseMode})
	if err != nil {
		var de *kit.DeliveryError
		if !errors.As(err, &de) {
			err = &kit.DeliveryError{Platform: s.msg.Platform(), Err: err}
		}
		return kit.MessageRef{}, err
	}
	return ref, nil
}

func (s *Service) appendLog(ctx context.Context, at time.Time, st storage.Status, msg string) (int64, error) {
	if s.store == nil {
		return 0, nil
	}
	id, err := s.store.AppendLog(ctx, storage.LogEntry{Timestamp: at, Status: st, Message: msg})
	if err != nil {
		return 0, fmt.Errorf("append %s row: %w", st, err)
	}
	return id, nil
}

// increment bumps the counter unless the success row is missing, so the
// counter never exceeds the number of success rows.
func (s *Service) increment(ctx context.Context, key string, logErr error) (int64, error) {
	if s.store == nil {
		return 0, nil
	}
	if logErr != nil {
		return 0, ErrLogNotWritten
	}
	n, err := s.store.Increment(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	return n, nil
}

func (s *Service) finish(r Report, start time.Time) Report {
	r.Took = time.Since(start)

	log := s.log.With(
		logx.String("id", r.ID),
		logx.String("kind", string(r.Kind)),
		logx.String("status", string(r.Status)),
	)
	switch {
	case r.DeliveryErr != nil && r.Kind == KindStartup:
		log.Warn("startup notification failed", logx.Err(r.DeliveryErr))
	case r.DeliveryErr != nil:
		log.Warn("send failed", logx.Err(r.DeliveryErr), logx.Int64("log_id", r.LogID))
	default:
		log.Info("message sent", logx.String("message_id", r.Ref.MessageID), logx.Int64("log_id", r.LogID), logx.Int64("counter", r.Counter))
	}
	if r.LogErr != nil {
		log.Error("log write failed", logx.Err(r.LogErr))
	}
	if r.CounterErr != nil {
		log.Error("counter update failed", logx.Err(r.CounterErr))
	}

	if s.bus != nil {
		typ := eventbus.TypeFired
		if r.Kind == KindStartup {
			typ = eventbus.TypeStartup
		}
		s.bus.Publish(eventbus.Event{Type: typ, Time: r.At, Data: r})
	}
	return r
}
