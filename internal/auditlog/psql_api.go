package auditlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/velicb/supplydesk/internal/telemetry/tracing"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrEventNotFound = errors.New("audit event not found")

type PsqlApi struct {
	db *pgxpool.Pool
}

func NewPsqlApi(db *pgxpool.Pool) *PsqlApi {
	return &PsqlApi{
		db: db,
	}
}

func (api *PsqlApi) Add(ctx context.Context, event Event) (*Event, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auditlog.add")
	defer span.End()

	if event.Type == "" {
		return nil, errors.New("audit event type empty")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	rows, err := api.db.Query(
		ctx,
		`INSERT INTO audit_event (type, username, details, created_at) VALUES ($1, $2, $3, $4) RETURNING id;`,
		event.Type, event.Username, event.Details, event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, errors.New("unexpected error [no rows next]")
	}

	var id int
	if err := rows.Scan(&id); err != nil {
		return nil, fmt.Errorf("rows scan: %w", err)
	}

	event.Id = id
	return &event, nil
}

func (api *PsqlApi) List(ctx context.Context, limit int) ([]Event, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auditlog.list")
	defer span.End()

	rows, err := api.db.Query(
		ctx,
		`
			SELECT
				id, type, username, details, created_at
			FROM audit_event
			ORDER BY created_at DESC
			LIMIT $1;`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	var events []Event
	for rows.Next() {
		var id int
		var eventType EventType
		var username string
		var details string
		var createdAt time.Time
		if err := rows.Scan(&id, &eventType, &username, &details, &createdAt); err != nil {
			return nil, err
		}
		events = append(events, Event{
			Id:        id,
			Type:      eventType,
			Username:  username,
			Details:   details,
			CreatedAt: createdAt,
		})
	}

	return events, nil
}

func (api *PsqlApi) Stats(ctx context.Context) (map[EventType]int, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auditlog.stats")
	defer span.End()

	rows, err := api.db.Query(
		ctx,
		`SELECT type, COUNT(*) FROM audit_event GROUP BY type;`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make(map[EventType]int)
	for rows.Next() {
		var eventType EventType
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		stats[eventType] = count
	}

	return stats, nil
}
