// Package pacing supplies the randomized pauses the sourcing pipeline inserts
// before searches, before downloads and between catalog items.
package pacing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Site names a point in the pipeline where a pause is taken.
type Site string

// Pause sites.
const (
	PreSearch   Site = "pre_search"
	PreDownload Site = "pre_download"
	InterItem   Site = "inter_item"
)

// Bounds is an inclusive [Min, Max] range for a uniform random delay.
type Bounds struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// Validate rejects negative or inverted bounds.
func (b Bounds) Validate() error {
	if b.Min < 0 || b.Max < 0 {
		return fmt.Errorf("bounds must be non-negative, got [%s, %s]", b.Min, b.Max)
	}
	if b.Min > b.Max {
		return fmt.Errorf("min %s exceeds max %s", b.Min, b.Max)
	}
	return nil
}

// Config holds the bounds for each site.
type Config struct {
	PreSearch   Bounds `mapstructure:"pre_search"`
	PreDownload Bounds `mapstructure:"pre_download"`
	InterItem   Bounds `mapstructure:"inter_item"`
}

// DefaultConfig mirrors the delays a human browsing image search would show.
func DefaultConfig() Config {
	return Config{
		PreSearch:   Bounds{Min: 2 * time.Second, Max: 5 * time.Second},
		PreDownload: Bounds{Min: 1 * time.Second, Max: 3 * time.Second},
		InterItem:   Bounds{Min: 3 * time.Second, Max: 7 * time.Second},
	}
}

// Validate checks every site.
func (c Config) Validate() error {
	for site, b := range map[Site]Bounds{
		PreSearch:   c.PreSearch,
		PreDownload: c.PreDownload,
		InterItem:   c.InterItem,
	} {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("pacing %s: %w", site, err)
		}
	}
	return nil
}

// Pauser blocks for a delay or until ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// TimerPauser waits on a real timer.
type TimerPauser struct{}

// Pause sleeps for delay, returning ctx.Err() if the context ends first.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy draws delays per site and sleeps through a Pauser.
type Policy struct {
	cfg    Config
	pauser Pauser
	jitter func(n int64) int64
}

// New builds a Policy. A nil pauser selects TimerPauser.
func New(cfg Config, pauser Pauser) *Policy {
	if pauser == nil {
		pauser = TimerPauser{}
	}
	return &Policy{cfg: cfg, pauser: pauser, jitter: rand.Int64N}
}

// Disabled returns a Policy with zero delays, used by tests and dry runs.
func Disabled() *Policy {
	return New(Config{}, nil)
}

// Next draws the delay for site.
func (p *Policy) Next(site Site) time.Duration {
	if p == nil {
		return 0
	}
	b := p.bounds(site)
	span := int64(b.Max - b.Min)
	if span <= 0 {
		return b.Min
	}
	return b.Min + time.Duration(p.jitter(span+1))
}

// Wait sleeps for d, honouring ctx.
func (p *Policy) Wait(ctx context.Context, d time.Duration) error {
	if p == nil {
		return ctx.Err()
	}
	if err := p.pauser.Pause(ctx, d); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

// Pause draws a delay for site and sleeps through it.
func (p *Policy) Pause(ctx context.Context, site Site) error {
	return p.Wait(ctx, p.Next(site))
}

func (p *Policy) bounds(site Site) Bounds {
	switch site {
	case PreSearch:
		return p.cfg.PreSearch
	case PreDownload:
		return p.cfg.PreDownload
	case InterItem:
		return p.cfg.InterItem
	default:
		return Bounds{}
	}
}
