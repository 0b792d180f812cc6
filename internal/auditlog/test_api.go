package auditlog

import (
	"context"
	"sync"
	"time"
)

// TestApi is an in-memory audit journal used in tests.
type TestApi struct {
	mutex  sync.Mutex
	events []Event
	nextId int
}

func NewTestApi() *TestApi {
	return &TestApi{
		nextId: 1,
	}
}

func (api *TestApi) Add(_ context.Context, event Event) (*Event, error) {
	api.mutex.Lock()
	defer api.mutex.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.Id = api.nextId
	api.nextId++
	api.events = append(api.events, event)
	return &event, nil
}

func (api *TestApi) List(_ context.Context, limit int) ([]Event, error) {
	api.mutex.Lock()
	defer api.mutex.Unlock()

	var events []Event
	for i := len(api.events) - 1; i >= 0 && len(events) < limit; i-- {
		events = append(events, api.events[i])
	}
	return events, nil
}

func (api *TestApi) Stats(_ context.Context) (map[EventType]int, error) {
	api.mutex.Lock()
	defer api.mutex.Unlock()

	stats := make(map[EventType]int)
	for _, event := range api.events {
		stats[event.Type]++
	}
	return stats, nil
}

// Events returns a copy of all stored events, oldest first.
func (api *TestApi) Events() []Event {
	api.mutex.Lock()
	defer api.mutex.Unlock()

	events := make([]Event, len(api.events))
	copy(events, api.events)
	return events
}
