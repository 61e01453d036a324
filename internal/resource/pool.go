package resource

import (
	"context"
	"math/rand"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nadmax/nexrun/internal/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type Strategy string

const (
	StrategyRandom     Strategy = "random"
	StrategyRoundRobin Strategy = "round_robin"
)

const (
	DefaultMaxFails         = 3
	DefaultRefreshInterval  = 3 * time.Minute
	DefaultProbeConcurrency = 64
)

type Options struct {
	Feeds  []Feed
	Prober Prober
	// Backup is used whenever every feed fails or returns nothing.
	Backup           []string
	DefaultScheme    string
	RandomScheme     bool
	MaxFails         int
	RefreshInterval  time.Duration
	ProbeConcurrency int
	Strategy         Strategy
}

type Stats struct {
	Candidates  int       `json:"candidates"`
	Working     int       `json:"working"`
	Evicted     int       `json:"evicted"`
	LastRefresh time.Time `json:"last_refresh"`
}

// Pool is safe for concurrent use. Resources handed out by Acquire are
// copies; state changes go through ReportFailure and ReportSuccess.
type Pool struct {
	opts Options

	mu          sync.Mutex
	candidates  []string
	working     []*Resource
	byURI       map[string]*Resource
	evicted     map[string]struct{}
	lastRefresh time.Time
	next        int
	rng         *rand.Rand

	flight singleflight.Group
	now    func() time.Time
}

func NewPool(opts Options) *Pool {
	if opts.MaxFails <= 0 {
		opts.MaxFails = DefaultMaxFails
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.ProbeConcurrency <= 0 {
		opts.ProbeConcurrency = DefaultProbeConcurrency
	}
	if opts.DefaultScheme == "" {
		opts.DefaultScheme = SchemeSOCKS5
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyRandom
	}

	return &Pool{
		opts:    opts,
		byURI:   make(map[string]*Resource),
		evicted: make(map[string]struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

// Refresh pulls every feed concurrently and replaces the candidate set.
// It falls back to the backup list when the feeds yield nothing.
func (p *Pool) Refresh(ctx context.Context) {
	_, _, _ = p.flight.Do("refresh", func() (any, error) {
		p.refresh(ctx)
		return nil, nil
	})
}

func (p *Pool) refresh(ctx context.Context) {
	l := logger.WithComponent("resource/pool")

	results := make([][]string, len(p.opts.Feeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range p.opts.Feeds {
		g.Go(func() error {
			lines, err := f.Fetch(gctx)
			if err != nil {
				l.Warn().Err(err).Str("feed", f.Name()).Msg("Feed fetch failed.")
				return nil
			}
			results[i] = lines
			return nil
		})
	}
	_ = g.Wait()

	var raw []string
	for _, lines := range results {
		raw = append(raw, lines...)
	}

	candidates := p.normalizeAll(raw)
	source := "feeds"
	if len(candidates) == 0 {
		candidates = p.normalizeAll(p.opts.Backup)
		source = "backup"
	}

	p.mu.Lock()
	p.candidates = candidates
	p.evicted = make(map[string]struct{})
	p.lastRefresh = p.now()
	p.mu.Unlock()

	l.Info().Int("count", len(candidates)).Str("source", source).Msg("Candidate pool refreshed.")
}

func (p *Pool) normalizeAll(raw []string) []string {
	l := logger.WithComponent("resource/pool")

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		uri, err := Normalize(line, p.fallbackScheme())
		if err != nil {
			l.Debug().Err(err).Str("line", line).Msg("Skipping malformed candidate.")
			continue
		}
		if _, dup := seen[uri]; dup {
			continue
		}
		seen[uri] = struct{}{}
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

func (p *Pool) fallbackScheme() string {
	if !p.opts.RandomScheme {
		return p.opts.DefaultScheme
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return SupportedSchemes[p.rng.Intn(len(SupportedSchemes))]
}

// Validate probes every non-evicted candidate and rebuilds the working set
// in shuffled order.
func (p *Pool) Validate(ctx context.Context) {
	_, _, _ = p.flight.Do("validate", func() (any, error) {
		p.validate(ctx)
		return nil, nil
	})
}

func (p *Pool) validate(ctx context.Context) {
	l := logger.WithComponent("resource/pool")

	p.mu.Lock()
	toProbe := make([]string, 0, len(p.candidates))
	for _, uri := range p.candidates {
		if _, gone := p.evicted[uri]; !gone {
			toProbe = append(toProbe, uri)
		}
	}
	p.mu.Unlock()

	if len(toProbe) == 0 || p.opts.Prober == nil {
		l.Warn().Int("candidates", len(toProbe)).Msg("Nothing to validate.")
		return
	}

	probed := make([]*Resource, len(toProbe))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ProbeConcurrency)
	for i, uri := range toProbe {
		g.Go(func() error {
			r, err := Parse(uri, p.opts.DefaultScheme)
			if err != nil {
				return nil
			}
			latency, err := p.opts.Prober.Probe(gctx, r)
			r.LastChecked = p.now()
			if err != nil {
				l.Debug().Err(err).Str("resource", uri).Msg("Liveness probe failed.")
				return nil
			}
			r.Valid = true
			r.Latency = latency
			probed[i] = &r
			return nil
		})
	}
	_ = g.Wait()

	working := make([]*Resource, 0, len(probed))
	for _, r := range probed {
		if r != nil {
			working = append(working, r)
		}
	}

	p.mu.Lock()
	p.rng.Shuffle(len(working), func(i, j int) {
		working[i], working[j] = working[j], working[i]
	})
	p.working = working
	p.byURI = make(map[string]*Resource, len(working))
	for _, r := range working {
		p.byURI[r.URI] = r
	}
	p.next = 0
	p.mu.Unlock()

	l.Info().Int("probed", len(toProbe)).Int("working", len(working)).Msg("Validation finished.")
}

// Acquire returns a working resource not listed in exclude, or
// ErrUnavailable. It refreshes the candidate set when the refresh interval
// has elapsed and re-validates whenever the working set is empty.
func (p *Pool) Acquire(ctx context.Context, exclude ...string) (Resource, error) {
	if p.refreshDue() {
		p.Refresh(ctx)
		p.Validate(ctx)
	}

	if p.workingLen() == 0 {
		p.Validate(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	eligible := make([]*Resource, 0, len(p.working))
	for _, r := range p.working {
		if r.FailCount < p.opts.MaxFails && !slices.Contains(exclude, r.URI) {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return Resource{}, ErrUnavailable
	}

	var chosen *Resource
	switch p.opts.Strategy {
	case StrategyRoundRobin:
		chosen = eligible[p.next%len(eligible)]
		p.next++
	default:
		chosen = eligible[p.rng.Intn(len(eligible))]
	}
	return *chosen, nil
}

// ReportFailure counts a failure against r and evicts it once the count
// reaches MaxFails.
func (p *Pool) ReportFailure(r Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.byURI[r.URI]
	if !ok {
		return
	}
	current.FailCount++
	if current.FailCount < p.opts.MaxFails {
		return
	}

	current.Valid = false
	delete(p.byURI, r.URI)
	p.evicted[r.URI] = struct{}{}
	for i, w := range p.working {
		if w.URI == r.URI {
			p.working = append(p.working[:i], p.working[i+1:]...)
			break
		}
	}

	logger.WithComponent("resource/pool").Info().
		Str("resource", r.URI).
		Int("failures", current.FailCount).
		Msg("Resource evicted after repeated failures.")
}

// ReportSuccess clears the consecutive failure count of r.
func (p *Pool) ReportSuccess(r Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current, ok := p.byURI[r.URI]; ok {
		current.FailCount = 0
	}
}

func (p *Pool) candidateList() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.candidates))
	copy(out, p.candidates)
	return out
}

func (p *Pool) workingList() []Resource {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Resource, 0, len(p.working))
	for _, r := range p.working {
		out = append(out, *r)
	}
	return out
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Candidates:  len(p.candidates),
		Working:     len(p.working),
		Evicted:     len(p.evicted),
		LastRefresh: p.lastRefresh,
	}
}

func (p *Pool) refreshDue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRefresh.IsZero() || p.now().Sub(p.lastRefresh) > p.opts.RefreshInterval
}

func (p *Pool) workingLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.working)
}
