package mock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ahmethakanbesel/extraction-api/internal/extractor"
)

const (
	minTokenLength = 10
	invalidPrefix  = "invalid"

	minRecords = 4
	maxRecords = 24

	minDelayUnits = 1.0
	maxDelayUnits = 3.0

	createdDate = "2023-01-01"
)

// Extractor simulates a third-party user directory. Each call waits a random
// latency and returns a random number of synthetic users.
type Extractor struct {
	mu        sync.Mutex
	rnd       *rand.Rand
	delayUnit time.Duration
}

func New(opts ...Option) *Extractor {
	e := &Extractor{
		rnd:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)), //nolint:gosec // synthetic data
		delayUnit: time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type Option func(*Extractor)

// WithRand replaces the random source, e.g. with a fixed seed in tests.
func WithRand(r *rand.Rand) Option {
	return func(e *Extractor) { e.rnd = r }
}

// WithSeed is shorthand for WithRand with a PCG source.
func WithSeed(seed uint64) Option {
	return func(e *Extractor) { e.rnd = rand.New(rand.NewPCG(seed, seed)) } //nolint:gosec // synthetic data
}

// WithDelayUnit sets the length of one simulated latency unit. Zero disables
// the wait.
func WithDelayUnit(d time.Duration) Option {
	return func(e *Extractor) { e.delayUnit = d }
}

func (e *Extractor) Name() string { return "mock" }

func (e *Extractor) ValidateToken(token string) bool {
	return utf8.RuneCountInString(token) > minTokenLength && !strings.HasPrefix(token, invalidPrefix)
}

func (e *Extractor) Extract(ctx context.Context, token string) ([]extractor.Item, error) {
	if !e.ValidateToken(token) {
		return nil, extractor.ErrInvalidToken
	}

	delay, n := e.draw()
	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}

	items := make([]extractor.Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, extractor.Item{
			IDFromService: fmt.Sprintf("user_%d", i),
			Email:         fmt.Sprintf("user%d@example.com", i),
			FirstName:     fmt.Sprintf("FirstName%d", i),
			LastName:      fmt.Sprintf("LastName%d", i),
			AdditionalData: map[string]any{
				"phone":        fmt.Sprintf("+1-555-%04d", 1000+i),
				"company":      fmt.Sprintf("Company %d", i),
				"created_date": createdDate,
			},
		})
	}
	return items, nil
}

func (e *Extractor) draw() (time.Duration, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	units := minDelayUnits + (maxDelayUnits-minDelayUnits)*e.rnd.Float64()
	n := minRecords + e.rnd.IntN(maxRecords-minRecords+1)
	return time.Duration(units * float64(e.delayUnit)), n
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
