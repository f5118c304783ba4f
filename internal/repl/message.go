package repl

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sqllink/sqllink/internal/query"
)

// message is one inbound request line.
type message struct {
	MsgID    json.RawMessage `json:"msgId"`
	SQL      string          `json:"sql"`
	Timeout  *int64          `json:"timeout"`
	IsQuery  *bool           `json:"isQuery"`
	SendTime *int64          `json:"sendTime"`
}

// Decoder turns request lines into engine requests. Every request timeout is
// read in TimeoutUnit.
type Decoder struct {
	TimeoutUnit    time.Duration
	DefaultTimeout time.Duration
	Now            func() time.Time
}

var errMissingSQL = errors.New("sql is required")

// Decode parses one line. On failure the returned request still carries the
// msgId when it could be recovered, so the caller can answer it.
func (d Decoder) Decode(line []byte) (query.Request, error) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		return query.Request{ID: recoverMsgID(line)}, fmt.Errorf("decode request: %w", err)
	}
	request := query.Request{
		ID:          msg.MsgID,
		SQL:         msg.SQL,
		Timeout:     d.timeout(msg.Timeout),
		SubmittedAt: d.now(),
	}
	if msg.SendTime != nil && *msg.SendTime > 0 {
		request.SentAt = time.UnixMilli(*msg.SendTime)
	}
	if msg.IsQuery != nil && !*msg.IsQuery {
		request.Mode = query.ModeExec
	}
	if strings.TrimSpace(msg.SQL) == "" {
		return request, errMissingSQL
	}
	return request, nil
}

func (d Decoder) timeout(raw *int64) time.Duration {
	if raw == nil || *raw <= 0 {
		return d.DefaultTimeout
	}
	unit := d.TimeoutUnit
	if unit <= 0 {
		unit = time.Millisecond
	}
	if *raw > math.MaxInt64/int64(unit) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(*raw) * unit
}

func (d Decoder) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func recoverMsgID(line []byte) json.RawMessage {
	var partial struct {
		MsgID json.RawMessage `json:"msgId"`
	}
	if err := json.Unmarshal(line, &partial); err != nil {
		return nil
	}
	return partial.MsgID
}
