package trigger

import (
	"context"
	"math/rand"
	"time"
)

// Source is the tooth-pulse producer: each value is the pre-computed
// period in usec since the previous edge, or 0 meaning out of range
// (the original ISR's "old_time >= 65536" overflow branch, where the
// 16-bit capture register couldn't represent the interval).
type Source interface {
	Pulses() <-chan uint16
}

// WheelProfile describes the physical layout a SimSource reproduces:
// toothCount real pulses per revolution, resolution degrees between
// slots, and which ordinal pulses (1-indexed, wrapping every
// toothCount) are a missing-tooth gap rather than a normal tooth —
// these come out gapMultiplier times as long, mirroring the real
// wheel's "nothing fired during N physical tooth positions" behavior.
type WheelProfile struct {
	ToothCount    int
	Resolution    int
	GapPositions  []int
	GapMultiplier int
}

// SubaruProfile is the 36-2-2-2 wheel: 30 real pulses per revolution,
// three of them 3x-length gaps. Pulse ordinals 12, 13 and 26 are the
// gaps the decoder checks at tooth counters 14, 17 and 32.
var SubaruProfile = WheelProfile{
	ToothCount:    30,
	Resolution:    10,
	GapPositions:  []int{12, 13, 26},
	GapMultiplier: 3,
}

// HyundaiProfile is the 60-2 wheel: one 3x-length gap (2 missing teeth).
var HyundaiProfile = WheelProfile{
	ToothCount:    60,
	Resolution:    6,
	GapPositions:  []int{60},
	GapMultiplier: 3,
}

// NullSource never produces a pulse — the parametric generator's
// equivalent of the x86 offline stub's CRANK_VAL() always reading 0.
// Useful for wiring a Decoder into something Source-shaped when a test
// or tool only ever feeds periods directly through Decoder.Run.
type NullSource struct {
	out chan uint16
}

// NewNullSource builds a Source whose channel never receives a value.
func NewNullSource() *NullSource {
	return &NullSource{out: make(chan uint16)}
}

func (s *NullSource) Pulses() <-chan uint16 { return s.out }

// SimSource generates synthetic tooth pulses at a target RPM for a
// wheel profile, standing in for the original's x86 offline stub
// (io_x86.h) which fed run_trigger_wheel from a recorded or synthetic
// capture. Jitter adds a small amount of noise to each normal period
// so decoder averaging has something to do.
type SimSource struct {
	profile   WheelProfile
	targetRPM func() int
	jitterPct int
	rnd       *rand.Rand

	pos int
	out chan uint16
}

// NewSimSource builds a generator for profile. targetRPM is polled
// once per tooth so callers can ramp RPM over time (e.g. simulate
// cranking up to idle).
func NewSimSource(profile WheelProfile, targetRPM func() int, jitterPct int, seed int64) *SimSource {
	return &SimSource{
		profile:   profile,
		targetRPM: targetRPM,
		jitterPct: jitterPct,
		rnd:       rand.New(rand.NewSource(seed)),
		pos:       1,
		out:       make(chan uint16, 4),
	}
}

func (s *SimSource) Pulses() <-chan uint16 { return s.out }

func (s *SimSource) isGap() bool {
	for _, g := range s.profile.GapPositions {
		if g == s.pos {
			return true
		}
	}
	return false
}

// Run feeds s.out until ctx is cancelled. Intended to run in its own
// goroutine.
func (s *SimSource) Run(ctx context.Context) {
	defer close(s.out)

	teethPerRev := 360 / s.profile.Resolution

	for {
		rpm := s.targetRPM()
		if rpm <= 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		period := (60_000_000) / (rpm * teethPerRev)
		if s.jitterPct > 0 {
			spread := period * s.jitterPct / 100
			if spread > 0 {
				period += s.rnd.Intn(2*spread+1) - spread
			}
		}
		mult := 1
		if s.isGap() {
			mult = s.profile.GapMultiplier
		}
		period *= mult

		if period < 1 {
			period = 1
		}
		if period > 0xFFFF {
			period = 0xFFFF
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(period) * time.Microsecond):
		}

		select {
		case <-ctx.Done():
			return
		case s.out <- uint16(period):
		}

		s.pos++
		if s.pos > s.profile.ToothCount {
			s.pos = 1
		}
	}
}
