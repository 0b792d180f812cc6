package auditlog

import "context"

type Api interface {
	Add(ctx context.Context, event Event) (*Event, error)
	List(ctx context.Context, limit int) ([]Event, error)
	Stats(ctx context.Context) (map[EventType]int, error)
}
