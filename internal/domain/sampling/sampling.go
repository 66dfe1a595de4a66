// Package sampling makes the once-per-session decision whether to collect
// telemetry at all.
package sampling

import (
	"math/rand"
	"sync"
	"time"

	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/internal/domain/session"
)

// Coin draws uniform values in [0,1).
type Coin interface {
	Draw() float64
}

// RandCoin is a Coin over math/rand. It is safe for concurrent use.
type RandCoin struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandCoin seeds a coin. A zero seed uses the current time.
func NewRandCoin(seed int64) *RandCoin {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandCoin{rng: rand.New(rand.NewSource(seed))} //nolint:gosec // sampling does not need crypto randomness
}

// Draw implements Coin.
func (c *RandCoin) Draw() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64()
}

// FixedCoin always draws the same value.
type FixedCoin float64

// Draw implements Coin.
func (c FixedCoin) Draw() float64 { return float64(c) }

// Sampled reports whether draw selects a session at rate. A rate of 0
// never samples and a rate of 1 always does.
func Sampled(rate, draw float64) bool {
	return draw < rate
}

// FloorTimestamp rounds an epoch-ms server time down to the bucket boundary.
func FloorTimestamp(serverTimeMs int64) int64 {
	return serverTimeMs - serverTimeMs%model.TimestampBucketMs
}

// Decision is what Decide concluded.
type Decision struct {
	State session.State
	// Record is the new durable record; nil unless sampling was enabled now.
	Record *model.Record
	// Made is false when the session had already decided.
	Made bool
}

// Decide flips the coin for an undecided session. When enabled, the
// buffered record is promoted: its events, extra keys and new_account
// flag are kept, the session fields come from sc, and lang and screen
// size default to env. When disabled the buffer
// is abandoned. A decided session is returned unchanged.
func Decide(st session.State, buffered *model.Record, sc model.SessionContext, env model.Environment, coin Coin) Decision {
	if st.Decided() {
		return Decision{State: st}
	}
	if !Sampled(sc.SampleRate, coin.Draw()) {
		return Decision{State: st.Disable(), Made: true}
	}

	rec := buffered.Clone()
	if rec == nil {
		rec = &model.Record{}
	}
	if rec.ID == "" {
		rec.ID = model.NewRecordID()
	}
	if rec.EventStream == nil {
		rec.EventStream = []model.Tuple{}
	}
	rec.SampleRate = sc.SampleRate
	rec.Timestamp = FloorTimestamp(sc.ServerTime)
	rec.LocalTimestamp = model.FormatLocalTimestamp(st.StartTime)
	// The page environment only fills what producers left unset. A lang,
	// screen_size or new_account merged into the buffer is kept as is.
	if rec.Lang == "" {
		rec.Lang = env.Lang
	}
	if rec.ScreenSize == nil && env.ScreenSize != nil {
		size := *env.ScreenSize
		rec.ScreenSize = &size
	}

	return Decision{State: st.Enable(), Record: rec, Made: true}
}
