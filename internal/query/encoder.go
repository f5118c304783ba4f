package query

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"
)

type Kind int

const (
	KindOther Kind = iota
	KindTemporal
)

type Column struct {
	Name string
	Kind Kind
}

type TimestampStyle int

const (
	// TimestampISO renders yyyy-MM-ddTHH:mm:ss.SSSZ in UTC.
	TimestampISO TimestampStyle = iota
	// TimestampLegacy renders the millisecond field without padding, so 7ms
	// becomes ".7Z" and 70ms ".70Z".
	TimestampLegacy
)

func ParseTimestampStyle(raw string) (TimestampStyle, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "iso":
		return TimestampISO, nil
	case "legacy":
		return TimestampLegacy, nil
	default:
		return TimestampISO, fmt.Errorf("unknown timestamp style %q", raw)
	}
}

func (s TimestampStyle) String() string {
	if s == TimestampLegacy {
		return "legacy"
	}
	return "iso"
}

func (s TimestampStyle) Format(t time.Time) string {
	t = t.UTC()
	if s == TimestampLegacy {
		return fmt.Sprintf("%s.%dZ", t.Format("2006-01-02T15:04:05"), t.Nanosecond()/int(time.Millisecond))
	}
	return t.Format("2006-01-02T15:04:05.000Z")
}

var temporalTypeNames = map[string]struct{}{
	"DATE":           {},
	"DATETIME":       {},
	"DATETIME2":      {},
	"DATETIMEN":      {},
	"DATETIMEOFFSET": {},
	"SMALLDATETIME":  {},
	"BIGDATETIME":    {},
	"TIMESTAMP":      {},
	"TIMESTAMPTZ":    {},
	"TIMESTAMP_S":    {},
	"TIMESTAMP_MS":   {},
	"TIMESTAMP_NS":   {},
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	nullTimeType = reflect.TypeOf(sql.NullTime{})
)

func DescribeColumns(types []*sql.ColumnType) []Column {
	columns := make([]Column, len(types))
	for i, columnType := range types {
		columns[i] = Column{
			Name: columnType.Name(),
			Kind: kindOf(columnType.DatabaseTypeName(), columnType.ScanType()),
		}
	}
	return columns
}

func kindOf(databaseTypeName string, scanType reflect.Type) Kind {
	if _, ok := temporalTypeNames[strings.ToUpper(strings.TrimSpace(databaseTypeName))]; ok {
		return KindTemporal
	}
	if scanType == timeType || scanType == nullTimeType {
		return KindTemporal
	}
	return KindOther
}

// RowCursor is the forward-only part of *sql.Rows the encoder reads.
type RowCursor interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

type Encoder struct {
	Timestamps TimestampStyle
}

// Encode drains the current result set of cursor. stop is checked before each
// row is consumed; once it reports true the rows read so far are returned.
func (e Encoder) Encode(cursor RowCursor, columns []Column, stop func() bool) (ResultSet, error) {
	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}
	cells := e.cellFuncs(columns)

	set := ResultSet{}
	for {
		if stop != nil && stop() {
			return set, nil
		}
		if !cursor.Next() {
			break
		}
		for i := range values {
			values[i] = nil
		}
		if err := cursor.Scan(scanTargets...); err != nil {
			return set, err
		}
		row := NewRow(len(columns))
		for i, column := range columns {
			if values[i] == nil {
				continue
			}
			row.Set(column.Name, cells[i](values[i]))
		}
		set = append(set, row)
	}
	if err := cursor.Err(); err != nil {
		return set, err
	}
	return set, nil
}

type cellFunc func(value any) any

// cellFuncs picks the conversion for each column once per result set.
func (e Encoder) cellFuncs(columns []Column) []cellFunc {
	cells := make([]cellFunc, len(columns))
	for i, column := range columns {
		if column.Kind == KindTemporal {
			cells[i] = e.temporalCell
			continue
		}
		cells[i] = plainCell
	}
	return cells
}

func plainCell(value any) any {
	if raw, ok := value.([]byte); ok {
		return string(raw)
	}
	return value
}

// Some drivers hand temporal columns back as text.
var temporalLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func (e Encoder) temporalCell(value any) any {
	switch typed := value.(type) {
	case time.Time:
		return e.Timestamps.Format(typed)
	case []byte:
		return e.temporalText(string(typed))
	case string:
		return e.temporalText(typed)
	default:
		return value
	}
}

func (e Encoder) temporalText(text string) any {
	trimmed := strings.TrimSpace(text)
	for _, layout := range temporalLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return e.Timestamps.Format(parsed)
		}
	}
	return text
}
