// Package webhook delivers index changes to configured HTTP endpoints. A
// concurrent queue decouples deliveries from the event bus, so a slow
// endpoint never backpressures the indexer.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lightningnetwork/lnd/queue"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/clock"
	"github.com/bwt-dev/bwt/internal/events"
	"github.com/bwt-dev/bwt/internal/model"
)

const (
	requestTimeout = 10 * time.Second
	retryInitial   = time.Second
	retryMax       = time.Minute
	maxAttempts    = 5
)

// Deliverer posts every index change to each configured URL.
type Deliverer struct {
	logger *zap.Logger
	bus    *events.Bus
	urls   []string
	client *http.Client
	queued *queue.ConcurrentQueue
}

// New creates a deliverer for the given endpoint URLs.
func New(logger *zap.Logger, bus *events.Bus, urls []string) *Deliverer {
	return &Deliverer{
		logger: logger.Named("webhook"),
		bus:    bus,
		urls:   urls,
		client: &http.Client{Timeout: requestTimeout},
		queued: queue.NewConcurrentQueue(64),
	}
}

// Run subscribes to the bus and posts changes until the context ends.
func (d *Deliverer) Run(ctx context.Context) error {
	if len(d.urls) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	sub, err := d.bus.Subscribe(events.Filter{})
	if err != nil {
		return err
	}
	defer sub.Close()

	d.queued.Start()
	defer d.queued.Stop()

	// the unbounded queue absorbs bursts faster than endpoints accept them;
	// the bus-side buffer stays drained so the subscription is never dropped
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-sub.Events():
				if !ok {
					return
				}
				select {
				case d.queued.ChanIn() <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			return nil
		case item := <-d.queued.ChanOut():
			change, ok := item.(model.IndexChange)
			if !ok {
				continue
			}
			d.deliver(ctx, change)
		}
	}
}

// deliver posts one change to every URL, retrying each with backoff.
func (d *Deliverer) deliver(ctx context.Context, change model.IndexChange) {
	payload, err := model.MarshalChange(change)
	if err != nil {
		d.logger.Error("marshal change", zap.Error(err))
		return
	}

	for _, url := range d.urls {
		backoff := clock.NewBackoff(retryInitial, retryMax)
		var lastErr error
		for attempt := 0; attempt < maxAttempts; attempt++ {
			if attempt > 0 {
				if err := backoff.Wait(ctx); err != nil {
					return
				}
			}
			if lastErr = d.post(ctx, url, payload); lastErr == nil {
				break
			}
		}
		if lastErr != nil {
			d.logger.Warn("webhook delivery failed",
				zap.String("url", url),
				zap.String("category", string(change.Category())),
				zap.Error(lastErr))
		}
	}
}

func (d *Deliverer) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
