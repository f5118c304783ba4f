package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// DefaultTimeout applies to requests that carry no positive timeout.
const DefaultTimeout = 600000 * time.Millisecond

// TimeoutMessage is the error text of the canonical timeout response.
const TimeoutMessage = "Timeout"

type Mode int

const (
	ModeQuery Mode = iota
	ModeExec
)

func (m Mode) String() string {
	if m == ModeExec {
		return "exec"
	}
	return "query"
}

// Request is one statement to run. SubmittedAt is when the request was
// accepted locally and is the origin of its deadline. SentAt is the client's
// own send stamp, when it provided one.
type Request struct {
	ID          json.RawMessage
	SQL         string
	Timeout     time.Duration
	Mode        Mode
	SubmittedAt time.Time
	SentAt      time.Time
}

func (r Request) EffectiveTimeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// Conn is the database session a task drives. *sql.DB, *sql.Conn and *sql.Tx
// all satisfy it.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type ResultSet []Row

// Response is the document emitted once per request.
type Response struct {
	MsgID     json.RawMessage
	Result    []ResultSet
	Error     string
	StartTime int64
	EndTime   int64

	completed bool
}

// Completed builds an empty response for a task that ran to the end, with or
// without a data-source error.
func Completed(id json.RawMessage) Response {
	return Response{MsgID: id, Result: []ResultSet{}, completed: true}
}

func TimeoutResponse(id json.RawMessage) Response {
	return Response{MsgID: id, Error: TimeoutMessage}
}

func ErrorResponse(id json.RawMessage, message string) Response {
	return Response{MsgID: id, Error: message}
}

func (r Response) IsTimeout() bool {
	return !r.completed && r.Error == TimeoutMessage
}

type responseJSON struct {
	MsgID     json.RawMessage `json:"msgId,omitempty"`
	Result    *[]ResultSet    `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartTime int64           `json:"startTime,omitempty"`
	EndTime   int64           `json:"endTime,omitempty"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	out := responseJSON{MsgID: r.MsgID, Error: r.Error}
	if r.completed {
		result := r.Result
		if result == nil {
			result = []ResultSet{}
		}
		out.Result = &result
		out.StartTime = r.StartTime
		out.EndTime = r.EndTime
	}
	return json.Marshal(out)
}
