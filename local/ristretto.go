package local

import (
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"
)

// Ristretto is a Store on dgraph-io/ristretto. Cost-based admission; the
// wrapper passes payload length as cost.
type Ristretto struct {
	c *rc.Cache
}

var _ Store = (*Ristretto)(nil)

type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

func NewRistretto(cfg RistrettoConfig) (*Ristretto, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("local: invalid ristretto config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto{c: c}, nil
}

func (p *Ristretto) Get(key string) ([]byte, bool) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false
	}
	return b, true
}

func (p *Ristretto) Set(key string, value []byte, cost int64, ttl time.Duration) bool {
	return p.c.SetWithTTL(key, value, cost, ttl)
}

func (p *Ristretto) Del(key string) {
	p.c.Del(key)
}

func (p *Ristretto) Close() error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto's own metrics when enabled (not part of Store).
func (p *Ristretto) Metrics() *rc.Metrics { return p.c.Metrics }
