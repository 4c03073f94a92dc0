package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
	"github.com/MrSnakeDoc/marksync/internal/nostr"
)

// Endpoint is a configured relay and what it is used for.
type Endpoint struct {
	URL   string
	Read  bool
	Write bool
}

// Pool fans queries and publishes out to every configured relay.
type Pool struct {
	readers []*Client
	writers []*Client
	all     []*Client
	logger  logger.Logger
}

// NewPool builds clients for the given endpoints.
func NewPool(endpoints []Endpoint, log logger.Logger) *Pool {
	p := &Pool{logger: log}
	for _, ep := range endpoints {
		c := NewClient(ep.URL, log)
		p.all = append(p.all, c)
		if ep.Read {
			p.readers = append(p.readers, c)
		}
		if ep.Write {
			p.writers = append(p.writers, c)
		}
	}
	return p
}

// Size returns the number of configured relays.
func (p *Pool) Size() int { return len(p.all) }

// Query asks every read relay and returns the union of results, deduplicated
// by id. When some relays failed but others answered, the union comes back
// together with an error wrapping domain.ErrPartialRead.
func (p *Pool) Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	if len(p.readers) == 0 {
		return nil, fmt.Errorf("no read relays configured")
	}

	var (
		mu     sync.Mutex
		seen   = make(map[string]*nostr.Event)
		errs   []error
		answer int
		g      errgroup.Group
	)
	for _, c := range p.readers {
		g.Go(func() error {
			events, err := c.Query(ctx, filter)
			mu.Lock()
			defer mu.Unlock()
			for _, ev := range events {
				seen[ev.ID] = ev
			}
			if err != nil {
				p.logger.Debug("relay query failed",
					logger.String("relay", c.URL()), logger.Error(err))
				errs = append(errs, err)
				return nil
			}
			answer++
			return nil
		})
	}
	_ = g.Wait()

	if answer == 0 && len(seen) == 0 {
		return nil, combine(errs)
	}
	out := make([]*nostr.Event, 0, len(seen))
	for _, ev := range seen {
		out = append(out, ev)
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("%w: %d of %d read relays failed: %w",
			domain.ErrPartialRead, len(errs), len(p.readers), combine(errs))
	}
	return out, nil
}

// Publish sends ev to every write relay. One acceptance is enough.
func (p *Pool) Publish(ctx context.Context, ev *nostr.Event) error {
	if len(p.writers) == 0 {
		return fmt.Errorf("no write relays configured")
	}

	var (
		mu       sync.Mutex
		accepted int
		errs     []error
		g        errgroup.Group
	)
	for _, c := range p.writers {
		g.Go(func() error {
			err := c.Publish(ctx, ev)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Debug("relay publish failed",
					logger.String("relay", c.URL()),
					logger.String("event_id", ev.ID),
					logger.Error(err))
				errs = append(errs, err)
				return nil
			}
			accepted++
			return nil
		})
	}
	_ = g.Wait()

	if accepted > 0 {
		return nil
	}
	return combine(errs)
}

// Ping reports whether at least one relay is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	var (
		mu   sync.Mutex
		ok   bool
		errs []error
		g    errgroup.Group
	)
	for _, c := range p.all {
		g.Go(func() error {
			err := c.Ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				ok = true
			}
			return nil
		})
	}
	_ = g.Wait()
	if ok {
		return nil
	}
	return combine(errs)
}

// combine picks the most meaningful failure: a rejection beats a timeout,
// a timeout beats anything else.
func combine(errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("no relay answered")
	}
	var rej *domain.RejectionError
	for _, err := range errs {
		if errors.As(err, &rej) {
			return rej
		}
	}
	for _, err := range errs {
		if errors.Is(err, domain.ErrTimeout) {
			return err
		}
	}
	return errors.Join(errs...)
}
