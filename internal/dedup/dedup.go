package dedup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const hashPrefixBytes = 500

// HotCache is the advisory latency tier. CheckAndSet reports whether key was
// recorded within window; when it was not, key is recorded at now.
type HotCache interface {
	CheckAndSet(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)
}

// Log is the durable tier and the source of truth across restarts.
// InsertEventHash stores hash unless the same hash was stored at or after since,
// and reports whether it inserted.
type Log interface {
	InsertEventHash(ctx context.Context, hash, cameraID, plate string, since, at time.Time) (bool, error)
}

type Config struct {
	Interval  time.Duration
	LogWindow time.Duration
}

type Deduplicator struct {
	cache HotCache
	log   Log
	cfg   Config
	now   func() time.Time
	lg    zerolog.Logger
}

func New(cache HotCache, log Log, cfg Config, lg zerolog.Logger) *Deduplicator {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.LogWindow <= 0 {
		cfg.LogWindow = 30 * time.Second
	}
	return &Deduplicator{cache: cache, log: log, cfg: cfg, now: time.Now, lg: lg}
}

// WithClock replaces the time source.
func (d *Deduplicator) WithClock(now func() time.Time) *Deduplicator {
	d.now = now
	return d
}

// IsDuplicate reports whether the event repeats one already accepted and
// records it otherwise. The durable log is consulted even when the hot cache
// reports a new event.
func (d *Deduplicator) IsDuplicate(ctx context.Context, cameraID, plate, raw string) (bool, error) {
	now := d.now()
	key := cameraID + ":" + plate

	if d.cache != nil {
		recent, err := d.cache.CheckAndSet(ctx, key, now, d.cfg.Interval)
		if err != nil {
			d.lg.Warn().Err(err).Str("camera_id", cameraID).Str("plate", plate).Msg("dedup cache unavailable")
		} else if recent {
			d.lg.Debug().Str("camera_id", cameraID).Str("plate", plate).Msg("duplicate event within detection interval")
			return true, nil
		}
	}

	if d.log == nil {
		return false, nil
	}
	hash := EventHash(cameraID, plate, raw)
	inserted, err := d.log.InsertEventHash(ctx, hash, cameraID, plate, now.Add(-d.cfg.LogWindow), now)
	if err != nil {
		return false, fmt.Errorf("dedup log: %w", err)
	}
	if !inserted {
		d.lg.Debug().Str("camera_id", cameraID).Str("plate", plate).Str("hash", hash).Msg("duplicate event hash")
	}
	return !inserted, nil
}

// EventHash fingerprints an event by camera, plate and the payload prefix.
func EventHash(cameraID, plate, raw string) string {
	if len(raw) > hashPrefixBytes {
		raw = raw[:hashPrefixBytes]
	}
	sum := md5.Sum([]byte(cameraID + "_" + plate + "_" + raw))
	return hex.EncodeToString(sum[:])
}
