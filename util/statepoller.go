package util

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// StateSink receives a polled member state; present is false when the entity
// no longer exists in Home Assistant.
type StateSink func(entityID, value string, present bool)

type StateGetter interface {
	GetState(ctx context.Context, entityID string) (string, error)
}

// StatePoller reads member states from the REST API on a fixed interval. It
// backs up the mqtt state feed for members whose topics are not retained.
type StatePoller struct {
	Enabled   bool  `mapstructure:"enabled"`
	Frequency int64 `mapstructure:"frequency"`
	Workers   int64 `mapstructure:"workers"`

	getter   StateGetter
	sink     StateSink
	entities []string
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// pollRun is the configuration a poll loop works from, copied when it starts.
type pollRun struct {
	workers int
	getter  StateGetter
	sink    StateSink
}

// MakeStatePoller loads the poller config. Call Stop first when the poller is running.
func (sp *StatePoller) MakeStatePoller(getter StateGetter, sink StateSink) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	err := Config.UnmarshalKey("state_poller", sp)
	if err != nil {
		Logger.Error().Msgf("Error loading state_poller config: %v", err)
	}
	if sp.Workers < 1 {
		sp.Workers = 1
	}
	sp.getter = getter
	sp.sink = sink
}

func (sp *StatePoller) SetEntities(entities []string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.entities = append([]string{}, entities...)
}

func (sp *StatePoller) snapshot() []string {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return append([]string{}, sp.entities...)
}

func (sp *StatePoller) settings() pollRun {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	workers := int(sp.Workers)
	if workers < 1 {
		workers = 1
	}
	return pollRun{workers: workers, getter: sp.getter, sink: sp.sink}
}

// PollOnce fetches every entity through the worker pool and returns when all are done.
func (sp *StatePoller) PollOnce(ctx context.Context) {
	sp.poll(ctx, sp.settings())
}

func (sp *StatePoller) poll(ctx context.Context, run pollRun) {
	queue := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < run.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			poll_worker(ctx, run.getter, run.sink, queue)
		}()
	}
	for _, entityID := range sp.snapshot() {
		select {
		case queue <- entityID:
		case <-ctx.Done():
		}
	}
	close(queue)
	wg.Wait()
}

// Start polls once immediately and then every Frequency seconds until Stop.
func (sp *StatePoller) Start() {
	sp.Stop()
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if !sp.Enabled {
		Logger.Debug().Msg("state poller disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sp.cancel = cancel
	sp.done = done

	frequency := time.Duration(sp.Frequency) * time.Second
	if frequency <= 0 {
		frequency = time.Minute
	}
	workers := int(sp.Workers)
	if workers < 1 {
		workers = 1
	}
	run := pollRun{workers: workers, getter: sp.getter, sink: sp.sink}
	go func() {
		defer close(done)
		ticker := time.NewTicker(frequency)
		defer ticker.Stop()
		sp.poll(ctx, run)
		for {
			select {
			case <-ticker.C:
				sp.poll(ctx, run)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the poll loop and waits for it to exit.
func (sp *StatePoller) Stop() {
	sp.mu.Lock()
	cancel, done := sp.cancel, sp.done
	sp.cancel, sp.done = nil, nil
	sp.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func poll_worker(ctx context.Context, getter StateGetter, sink StateSink, jobs <-chan string) {
	for entityID := range jobs {
		if ctx.Err() != nil {
			continue
		}
		value, err := getter.GetState(ctx, entityID)
		if ctx.Err() != nil {
			continue
		}
		switch {
		case errors.Is(err, ErrEntityNotFound):
			sink(entityID, "", false)
		case err != nil:
			Logger.Warn().Err(err).Str("entity", entityID).Msg("Unable to poll state")
		default:
			sink(entityID, value, true)
		}
	}
}
