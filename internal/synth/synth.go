// Package synth generates synthetic behavior samples for demos and replay.
package synth

import (
	"fmt"
	"math"

	"github.com/brianvoe/gofakeit/v7"

	sio "github.com/hed1ad/safestride/pkg/io"
)

// Options controls the generated data set.
type Options struct {
	Users           int
	SessionsPerUser int
	// AnomalyRate is the probability that a session departs from the
	// user's habits.
	AnomalyRate float64
	Seed        uint64
}

// DefaultOptions returns a small data set that trains every profile.
func DefaultOptions() Options {
	return Options{
		Users:           5,
		SessionsPerUser: 30,
		AnomalyRate:     0.05,
		Seed:            123,
	}
}

// habit is the per-user distribution sessions are drawn from.
type habit struct {
	userID       string
	typingMean   float64
	typingJitter float64
	mouseMean    int
	scrollMean   int
}

// Generator draws sessions for a fixed set of fake users.
type Generator struct {
	faker  *gofakeit.Faker
	opts   Options
	habits []habit
}

// New creates a Generator. The same options always produce the same records.
func New(opts Options) *Generator {
	faker := gofakeit.New(opts.Seed)
	g := &Generator{faker: faker, opts: opts}

	seen := make(map[string]bool, opts.Users)
	for i := 0; i < opts.Users; i++ {
		id := faker.Username()
		if seen[id] {
			id = fmt.Sprintf("%s%d", id, i)
		}
		seen[id] = true

		g.habits = append(g.habits, habit{
			userID:       id,
			typingMean:   faker.Float64Range(150, 350),
			typingJitter: faker.Float64Range(5, 25),
			mouseMean:    faker.IntRange(5, 30),
			scrollMean:   faker.IntRange(0, 8),
		})
	}
	return g
}

// Users returns the generated user ids.
func (g *Generator) Users() []string {
	ids := make([]string, len(g.habits))
	for i, h := range g.habits {
		ids[i] = h.userID
	}
	return ids
}

// Generate returns SessionsPerUser rounds of one session per user,
// interleaved so users accumulate baselines together.
func (g *Generator) Generate() []sio.Record {
	out := make([]sio.Record, 0, g.opts.Users*g.opts.SessionsPerUser)
	for round := 0; round < g.opts.SessionsPerUser; round++ {
		for _, h := range g.habits {
			out = append(out, g.session(h))
		}
	}
	return out
}

func (g *Generator) session(h habit) sio.Record {
	if g.faker.Float64() < g.opts.AnomalyRate {
		return g.anomaly(h)
	}

	return sio.Record{
		UserID:         h.userID,
		TypingInterval: round1(h.typingMean + g.faker.Float64Range(-h.typingJitter, h.typingJitter)),
		MouseCount:     max(0, h.mouseMean+g.faker.IntRange(-3, 3)),
		ScrollCount:    max(0, h.scrollMean+g.faker.IntRange(-1, 1)),
	}
}

func (g *Generator) anomaly(h habit) sio.Record {
	rec := sio.Record{
		UserID:         h.userID,
		TypingInterval: round1(h.typingMean),
		MouseCount:     h.mouseMean,
		ScrollCount:    h.scrollMean,
	}
	switch g.faker.IntRange(0, 2) {
	case 0:
		// Scripted input types far faster than a person.
		rec.TypingInterval = round1(g.faker.Float64Range(10, 40))
	case 1:
		rec.MouseCount = g.faker.IntRange(80, 200)
	default:
		rec.ScrollCount = g.faker.IntRange(40, 120)
	}
	return rec
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
