package builder

import (
	"context"
	"database/sql"

	goredis "github.com/redis/go-redis/v9"

	"github.com/omnierp/go-erp/es"
	"github.com/omnierp/go-erp/es/memory"
	"github.com/omnierp/go-erp/es/mongo"
	"github.com/omnierp/go-erp/es/nats"
	"github.com/omnierp/go-erp/es/postgres"
	"github.com/omnierp/go-erp/es/redis"
)

// EventStoreFactory builds an es.EventStore impl.
type EventStoreFactory func() (es.EventStore, error)

// EventBusFactory builds an es.EventBus impl.
type EventBusFactory func() (es.EventBus, error)

// CommandConfig connects commands with an aggregate on the client's
// infrastructure.
type CommandConfig func(es.EventStore, es.EventBus, es.EventRegistry, es.CommandRegistry)

// Client has all the services of the platform wired together.
type Client struct {
	EventStore    es.EventStore
	EventBus      es.EventBus
	EventRegistry es.EventRegistry
	CommandBus    es.CommandBus
}

// Close all the underlying services.
func (c *Client) Close() error {
	var first error
	if c.EventBus != nil {
		if err := c.EventBus.Close(); err != nil {
			first = err
		}
	}
	if c.EventStore != nil {
		if err := c.EventStore.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewClient builds a client from store and bus factories, then wires the
// given aggregates and commands onto it.
func NewClient(storeFactory EventStoreFactory, busFactory EventBusFactory, commandConfigs ...CommandConfig) (*Client, error) {
	store, err := storeFactory()
	if err != nil {
		return nil, err
	}

	eventBus, err := busFactory()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	events := es.NewEventRegistry()
	commands := es.NewCommandRegistry()
	for _, config := range commandConfigs {
		config(store, eventBus, events, commands)
	}

	return &Client{
		EventStore:    store,
		EventBus:      eventBus,
		EventRegistry: events,
		CommandBus:    es.NewCommandBus(commands),
	}, nil
}

// WireAggregate connects a list of commands to an aggregate. The
// aggregate's event payload types go into the event registry so streams
// can be rehydrated.
func WireAggregate(aggregate es.Aggregate, events []interface{}, commands ...es.Command) CommandConfig {
	return WireAggregateWithOptions(aggregate, events, commands)
}

// WireAggregateWithOptions is WireAggregate with handler options, for
// snapshots or a custom clock.
func WireAggregateWithOptions(aggregate es.Aggregate, events []interface{}, commands []es.Command, opts ...es.AggregateHandlerOption) CommandConfig {
	t, name := es.GetTypeName(aggregate)
	return func(store es.EventStore, eventBus es.EventBus, eventRegistry es.EventRegistry, commandRegistry es.CommandRegistry) {
		for _, evt := range events {
			eventRegistry.Register(evt, es.EventVersionOf(evt))
		}

		handler := es.NewAggregateHandler(t, name, store, eventBus, eventRegistry, opts...)
		for _, cmd := range commands {
			_ = commandRegistry.SetHandler(handler, cmd)
		}
	}
}

// WireCommand registers a custom handler for one command.
func WireCommand(command es.Command, handler es.CommandHandler) CommandConfig {
	return func(store es.EventStore, eventBus es.EventBus, eventRegistry es.EventRegistry, commandRegistry es.CommandRegistry) {
		_ = commandRegistry.SetHandler(handler, command)
	}
}

// LocalStore keeps events in memory, used for testing.
func LocalStore() EventStoreFactory {
	return func() (es.EventStore, error) {
		return memory.NewStore(), nil
	}
}

// LocalPublisher keeps subscriptions in process, used for testing.
func LocalPublisher() EventBusFactory {
	return func() (es.EventBus, error) {
		return memory.NewBus(), nil
	}
}

// Postgres generates a Postgres implementation of EventStore.
func Postgres(db *sql.DB) EventStoreFactory {
	return func() (es.EventStore, error) {
		return postgres.NewStore(db), nil
	}
}

// Mongo generates a MongoDB implementation of EventStore.
func Mongo(uri, db string) EventStoreFactory {
	return func() (es.EventStore, error) {
		return mongo.NewClient(context.Background(), uri, db)
	}
}

// Nats generates a nats implementation of EventBus.
func Nats(uri string, namespace string) EventBusFactory {
	return func() (es.EventBus, error) {
		return nats.NewClient(uri, namespace)
	}
}

// Redis generates a Redis streams implementation of EventBus. The
// caller owns the client's lifecycle.
func Redis(client goredis.UniversalClient, opts ...redis.BusOption) EventBusFactory {
	return func() (es.EventBus, error) {
		return redis.NewBus(client, opts...), nil
	}
}

// CombinedPublisher fans publishes out to every bus; subscriptions come
// from the first.
func CombinedPublisher(factories ...EventBusFactory) EventBusFactory {
	return func() (es.EventBus, error) {
		buses := make([]es.EventBus, 0, len(factories))
		for _, factory := range factories {
			bus, err := factory()
			if err != nil {
				return nil, err
			}
			buses = append(buses, bus)
		}
		return es.NewCombinedEventBus(buses...), nil
	}
}
