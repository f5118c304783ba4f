package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sqllink/sqllink/internal/query"
)

var (
	// ErrCancelled is returned by Run when the cancellation flag was observed.
	// The accompanying response must be discarded.
	ErrCancelled  = errors.New("query task cancelled")
	ErrTaskReused = errors.New("query task already ran")
)

type TaskOptions struct {
	Encoder query.Encoder
	Now     func() time.Time
}

// Task executes one request against one connection. Run may be called once;
// Cancel may be called from any goroutine at any time.
type Task struct {
	conn    query.Conn
	request query.Request
	encoder query.Encoder
	now     func() time.Time

	started   atomic.Bool
	cancelled atomic.Bool
}

func NewTask(conn query.Conn, request query.Request, opts TaskOptions) *Task {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Task{conn: conn, request: request, encoder: opts.Encoder, now: now}
}

func (t *Task) Request() query.Request {
	return t.request
}

func (t *Task) Cancel() {
	t.cancelled.Store(true)
}

func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

func (t *Task) Run(ctx context.Context) (query.Response, error) {
	if !t.started.CompareAndSwap(false, true) {
		return query.Response{}, ErrTaskReused
	}
	if t.Cancelled() {
		return query.Response{}, ErrCancelled
	}

	startedAt := t.now()
	response := query.Completed(t.request.ID)

	var err error
	if t.request.Mode == query.ModeExec {
		err = t.exec(ctx, &response)
	} else {
		err = t.query(ctx, &response)
	}
	// Anything the driver reported after cancellation lost the race to the
	// timeout response.
	if t.Cancelled() || errors.Is(err, ErrCancelled) {
		return query.Response{}, ErrCancelled
	}
	if err != nil {
		response.Error = err.Error()
	}
	response.StartTime = startedAt.UnixMilli()
	response.EndTime = t.now().UnixMilli()
	return response, nil
}

func (t *Task) query(ctx context.Context, response *query.Response) error {
	rows, err := t.conn.QueryContext(ctx, t.request.SQL)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for {
		if t.Cancelled() {
			return ErrCancelled
		}
		types, err := rows.ColumnTypes()
		if err != nil {
			return err
		}
		// Column-less results are update counts.
		if len(types) > 0 {
			set, err := t.encoder.Encode(rows, query.DescribeColumns(types), t.Cancelled)
			if err != nil {
				return err
			}
			if t.Cancelled() {
				return ErrCancelled
			}
			response.Result = append(response.Result, set)
		}
		if !rows.NextResultSet() {
			return rows.Err()
		}
	}
}

func (t *Task) exec(ctx context.Context, response *query.Response) error {
	result, err := t.conn.ExecContext(ctx, t.request.SQL)
	if err != nil {
		return err
	}
	row := query.NewRow(2)
	if affected, err := result.RowsAffected(); err == nil {
		row.Set("rowsAffected", affected)
	}
	if lastID, err := result.LastInsertId(); err == nil {
		row.Set("lastInsertId", lastID)
	}
	response.Result = append(response.Result, query.ResultSet{row})
	return nil
}
