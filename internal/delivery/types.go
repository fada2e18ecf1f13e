package delivery

import (
	"errors"
	"time"

	"tickbot/internal/storage"
	kit "tickbot/internal/transport"
)

// Settings are the hot-reloadable parts of a firing.
type Settings struct {
	// Label is the platform name shown in message text ("Telegram").
	Label     string
	Target    kit.Target
	ParseMode kit.ParseMode
	// CounterKey names the stats row incremented on each successful send.
	CounterKey string
	// Location renders timestamps; nil means time.Local.
	Location *time.Location
	// SendTimeout bounds the platform call; 0 means the caller's context only.
	SendTimeout time.Duration
}

type Kind string

const (
	KindFire    Kind = "fire"
	KindStartup Kind = "startup"
)

// Report is the explicit outcome of one firing. Nothing on the firing path
// returns an error; callers inspect the report instead.
type Report struct {
	ID     string
	Kind   Kind
	At     time.Time
	Status storage.Status
	Text   string
	Ref    kit.MessageRef
	Took   time.Duration

	// LogID is the appended row id (0 if nothing was written).
	LogID int64
	// Counter is the value after a successful increment.
	Counter int64

	DeliveryErr error
	LogErr      error
	CounterErr  error
}

// Delivered reports whether the platform accepted the message.
func (r Report) Delivered() bool { return r.DeliveryErr == nil }

func (r Report) Err() error { return errors.Join(r.DeliveryErr, r.LogErr, r.CounterErr) }
