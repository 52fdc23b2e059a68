package mlmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sile/mlmd-go/internal/query"
	"github.com/sile/mlmd-go/metadata"
)

// PutAttribution attributes an artifact to a context. Both rows must
// exist. Attributing twice is not an error; the edge is recorded once.
func (s *Store) PutAttribution(ctx context.Context, contextID metadata.ContextID, artifactID metadata.ArtifactID) error {
	ctx, done := s.ops.Start(ctx, "PutAttribution",
		attribute.Int("mlmd.context.id", int(contextID)),
		attribute.Int("mlmd.artifact.id", int(artifactID)),
	)
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireRow(ctx, tx, "Context", int32(contextID)); err != nil {
			return err
		}
		if err := s.requireRow(ctx, tx, "Artifact", int32(artifactID)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.qb.InsertAttribution(), int32(contextID), int32(artifactID)); err != nil {
			return fmt.Errorf("insert attribution: %w", err)
		}
		return nil
	})
	done(err)
	return err
}

// PutAssociation associates an execution with a context. Both rows must
// exist. Associating twice is not an error; the edge is recorded once.
func (s *Store) PutAssociation(ctx context.Context, contextID metadata.ContextID, executionID metadata.ExecutionID) error {
	ctx, done := s.ops.Start(ctx, "PutAssociation",
		attribute.Int("mlmd.context.id", int(contextID)),
		attribute.Int("mlmd.execution.id", int(executionID)),
	)
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireRow(ctx, tx, "Context", int32(contextID)); err != nil {
			return err
		}
		if err := s.requireRow(ctx, tx, "Execution", int32(executionID)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.qb.InsertAssociation(), int32(contextID), int32(executionID)); err != nil {
			return fmt.Errorf("insert association: %w", err)
		}
		return nil
	})
	done(err)
	return err
}

func (s *Store) requireRow(ctx context.Context, tx *sql.Tx, table string, id int32) error {
	var n int
	if err := tx.QueryRowContext(ctx, s.qb.CountRowsByID(table), id).Scan(&n); err != nil {
		return fmt.Errorf("look up %s %d: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, table, id)
	}
	return nil
}

// PutEventRequest records an input/output event between an execution and
// an artifact. Construct with Store.PutEvent.
type PutEventRequest struct {
	store       *Store
	executionID metadata.ExecutionID
	artifactID  metadata.ArtifactID
	eventType   metadata.EventType
	path        []metadata.EventStep
}

// PutEvent records an event linking the execution and the artifact. Both
// rows must exist. The event type defaults to EventTypeUnknown.
func (s *Store) PutEvent(executionID metadata.ExecutionID, artifactID metadata.ArtifactID) *PutEventRequest {
	return &PutEventRequest{
		store:       s,
		executionID: executionID,
		artifactID:  artifactID,
	}
}

// Type sets the event type.
func (r *PutEventRequest) Type(t metadata.EventType) *PutEventRequest {
	r.eventType = t
	return r
}

// StepIndex appends an index step to the event path.
func (r *PutEventRequest) StepIndex(i int32) *PutEventRequest {
	r.path = append(r.path, metadata.IndexStep(i))
	return r
}

// StepKey appends a key step to the event path.
func (r *PutEventRequest) StepKey(k string) *PutEventRequest {
	r.path = append(r.path, metadata.KeyStep(k))
	return r
}

// Path appends the given steps to the event path.
func (r *PutEventRequest) Path(steps ...metadata.EventStep) *PutEventRequest {
	r.path = append(r.path, steps...)
	return r
}

// Execute records the event, stamped with the current wall clock.
func (r *PutEventRequest) Execute(ctx context.Context) error {
	s := r.store
	ctx, done := s.ops.Start(ctx, "PutEvent",
		attribute.Int("mlmd.execution.id", int(r.executionID)),
		attribute.Int("mlmd.artifact.id", int(r.artifactID)),
	)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireRow(ctx, tx, "Artifact", int32(r.artifactID)); err != nil {
			return err
		}
		if err := s.requireRow(ctx, tx, "Execution", int32(r.executionID)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.qb.InsertEvent(),
			int32(r.artifactID), int32(r.executionID), int32(r.eventType), now); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if len(r.path) == 0 {
			return nil
		}
		var eventID int32
		if err := tx.QueryRowContext(ctx, s.qb.LastEventID()).Scan(&eventID); err != nil {
			return fmt.Errorf("read back event id: %w", err)
		}
		for _, step := range r.path {
			if i, ok := step.Index(); ok {
				if _, err := tx.ExecContext(ctx, s.qb.InsertEventPathIndex(), eventID, i); err != nil {
					return fmt.Errorf("insert event path step: %w", err)
				}
				continue
			}
			k, ok := step.Key()
			if !ok {
				return fmt.Errorf("%w: event path step is neither index nor key", ErrConvert)
			}
			if _, err := tx.ExecContext(ctx, s.qb.InsertEventPathKey(), eventID, k); err != nil {
				return fmt.Errorf("insert event path step: %w", err)
			}
		}
		return nil
	})
	done(err)
	return err
}

// GetEventsRequest reads events. Construct with Store.GetEvents; with no
// filters it returns every event. Artifact and execution filters compose
// with OR.
type GetEventsRequest struct {
	store  *Store
	filter query.EventFilter
}

// GetEvents reads events.
func (s *Store) GetEvents() *GetEventsRequest {
	return &GetEventsRequest{store: s}
}

// Artifact adds the given artifact ids to the filter.
func (r *GetEventsRequest) Artifact(ids ...metadata.ArtifactID) *GetEventsRequest {
	for _, id := range ids {
		r.filter.ArtifactIDs = append(r.filter.ArtifactIDs, int32(id))
	}
	return r
}

// Execution adds the given execution ids to the filter.
func (r *GetEventsRequest) Execution(ids ...metadata.ExecutionID) *GetEventsRequest {
	for _, id := range ids {
		r.filter.ExecutionIDs = append(r.filter.ExecutionIDs, int32(id))
	}
	return r
}

// OrderByCreateTime sorts the result by event time instead of insertion
// order.
func (r *GetEventsRequest) OrderByCreateTime(asc bool) *GetEventsRequest {
	r.filter.OrderBy = "milliseconds_since_epoch"
	r.filter.Desc = !asc
	return r
}

// Limit caps the number of returned events.
func (r *GetEventsRequest) Limit(n int) *GetEventsRequest {
	r.filter.Limit = &n
	return r
}

// Offset skips the first n matching events. No effect without Limit.
func (r *GetEventsRequest) Offset(n int) *GetEventsRequest {
	r.filter.Offset = &n
	return r
}

// Execute returns the matching events with their paths.
func (r *GetEventsRequest) Execute(ctx context.Context) ([]metadata.Event, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "GetEvents")
	s.mu.Lock()
	defer s.mu.Unlock()
	events, err := s.getEvents(ctx, r.filter)
	done(err)
	return events, err
}

// Count returns the number of matching events, ignoring Limit and Offset.
func (r *GetEventsRequest) Count(ctx context.Context) (int, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "CountEvents")
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlText, args := s.qb.CountEvents(r.filter)
	var n int
	err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&n)
	if err != nil {
		err = fmt.Errorf("count events: %w", err)
	}
	done(err)
	return n, err
}

func (s *Store) getEvents(ctx context.Context, f query.EventFilter) ([]metadata.Event, error) {
	sqlText, args := s.qb.SelectEvents(f)
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	var events []metadata.Event
	var ids []int32
	index := map[int32]int{}
	for rows.Next() {
		var (
			id          int32
			artifactID  int32
			executionID int32
			eventType   int32
			millis      sql.NullInt64
		)
		if err := rows.Scan(&id, &artifactID, &executionID, &eventType, &millis); err != nil {
			rows.Close()
			return nil, fmt.Errorf("read events: %w", err)
		}
		t, err := metadata.EventTypeFromInt(eventType)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("event %d: %w: %v", id, ErrConvert, err)
		}
		index[id] = len(events)
		ids = append(ids, id)
		events = append(events, metadata.Event{
			ArtifactID:  metadata.ArtifactID(artifactID),
			ExecutionID: metadata.ExecutionID(executionID),
			Type:        t,
			CreateTime:  time.UnixMilli(millis.Int64),
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("read events: %w", err)
	}
	rows.Close()
	if len(events) == 0 {
		return nil, nil
	}

	// Path steps attach in insertion order, which the rowid scan preserves.
	paths, err := s.db.QueryContext(ctx, s.qb.SelectEventPaths(len(ids)), idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("read event paths: %w", err)
	}
	defer paths.Close()
	for paths.Next() {
		var (
			eventID   int32
			isIndex   int32
			stepIndex *int32
			stepKey   *string
		)
		if err := paths.Scan(&eventID, &isIndex, &stepIndex, &stepKey); err != nil {
			return nil, fmt.Errorf("read event paths: %w", err)
		}
		i, ok := index[eventID]
		if !ok {
			continue
		}
		switch {
		case isIndex != 0 && stepIndex != nil:
			events[i].Path = append(events[i].Path, metadata.IndexStep(*stepIndex))
		case isIndex == 0 && stepKey != nil:
			events[i].Path = append(events[i].Path, metadata.KeyStep(*stepKey))
		default:
			return nil, fmt.Errorf("event %d: %w: malformed path step", eventID, ErrConvert)
		}
	}
	if err := paths.Err(); err != nil {
		return nil, fmt.Errorf("read event paths: %w", err)
	}
	return events, nil
}
