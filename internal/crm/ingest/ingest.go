// Package ingest consumes message-bus channels and translates each message
// into ledger appends or entity mutations. Messages are processed
// independently: a malformed or unresolvable message is logged and dropped,
// never fatal to the consumer loop.
package ingest

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hubline/crm/internal/crm/bus"
	"github.com/hubline/crm/internal/crm/storage"
)

// Router dispatches inbound bus messages to the store.
type Router struct {
	store     storage.Store
	sanitizer *bluemonday.Policy
}

// NewRouter builds a Router. Free-text bodies from external mailers are
// stripped of all markup before storage.
func NewRouter(store storage.Store) (*Router, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Router{
		store:     store,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// Consumers binds one bus consumer per logical channel.
type Consumers struct {
	EmailSent     bus.Consumer
	EmailInbound  bus.Consumer
	ClientsUpsert bus.Consumer
	TasksNotify   bus.Consumer
}

// Run consumes all configured channels until ctx is cancelled. Channels are
// sequential internally and independent of each other.
func (r *Router) Run(ctx context.Context, consumers Consumers) {
	var wg sync.WaitGroup
	start := func(name string, consumer bus.Consumer, handle func(context.Context, []byte) error) {
		if consumer == nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.consume(ctx, name, consumer, handle)
		}()
	}
	start(bus.ChannelEmailSent, consumers.EmailSent, r.HandleEmailSent)
	start(bus.ChannelEmailInbound, consumers.EmailInbound, r.HandleEmailInbound)
	start(bus.ChannelClientsUpsert, consumers.ClientsUpsert, r.HandleClientUpsert)
	start(bus.ChannelTasksNotify, consumers.TasksNotify, r.HandleTaskNotify)
	wg.Wait()
}

// consume runs one channel loop: receive, handle, log failures, continue.
func (r *Router) consume(ctx context.Context, name string, consumer bus.Consumer, handle func(context.Context, []byte) error) {
	log.Printf("consuming channel=%s", name)
	for {
		payload, err := consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("stopping channel=%s", name)
				return
			}
			log.Printf("receive channel=%s err=%v", name, err)
			continue
		}
		if err := handle(ctx, payload); err != nil {
			log.Printf("process channel=%s err=%v", name, err)
		}
	}
}
