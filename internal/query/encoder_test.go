package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestEncodeOmitsNullCellsAndKeepsColumnOrder(t *testing.T) {
	cursor := &sliceCursor{rows: [][]any{
		{int64(1), nil, "a"},
		{int64(2), "x", nil},
	}}
	columns := []Column{{Name: "ID"}, {Name: "NAME"}, {Name: "CODE"}}

	set, err := Encoder{}.Encode(cursor, columns, nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("rows = %d", len(set))
	}
	if _, ok := set[0].values["NAME"]; ok {
		t.Fatal("null NAME should be absent from row 0")
	}
	if _, ok := set[1].values["CODE"]; ok {
		t.Fatal("null CODE should be absent from row 1")
	}

	encoded, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	want := `[{"ID":1,"CODE":"a"},{"ID":2,"NAME":"x"}]`
	if string(encoded) != want {
		t.Fatalf("encoded = %s, want %s", encoded, want)
	}
}

func TestEncodeFormatsTemporalColumnsInUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	stamp := time.Date(2024, 3, 9, 14, 5, 6, 7*int(time.Millisecond), loc)
	cursor := &sliceCursor{rows: [][]any{{stamp, stamp}}}
	columns := []Column{{Name: "created", Kind: KindTemporal}, {Name: "raw"}}

	set, err := Encoder{}.Encode(cursor, columns, nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	created, _ := set[0].values["created"]
	if created != "2024-03-09T12:05:06.007Z" {
		t.Fatalf("created = %#v", created)
	}
	raw, _ := set[0].values["raw"]
	if _, ok := raw.(time.Time); !ok {
		t.Fatalf("raw = %#v, want native time for non-temporal column", raw)
	}
}

func TestEncodeFormatsTemporalColumnsReturnedAsText(t *testing.T) {
	cursor := &sliceCursor{rows: [][]any{
		{"2024-01-02 03:04:05.678", []byte("2024-02-29"), "2024-03-09T14:05:06.007+02:00"},
		{"soon", []byte("not a date"), int64(5)},
	}}
	columns := []Column{
		{Name: "ts", Kind: KindTemporal},
		{Name: "d", Kind: KindTemporal},
		{Name: "zoned", Kind: KindTemporal},
	}

	set, err := Encoder{}.Encode(cursor, columns, nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	encoded, _ := json.Marshal(set)
	want := `[{"ts":"2024-01-02T03:04:05.678Z","d":"2024-02-29T00:00:00.000Z","zoned":"2024-03-09T12:05:06.007Z"},{"ts":"soon","d":"not a date","zoned":5}]`
	if string(encoded) != want {
		t.Fatalf("encoded = %s, want %s", encoded, want)
	}
}

func TestTimestampStyleLegacyDropsMillisecondPadding(t *testing.T) {
	stamp := time.Date(2024, 3, 9, 12, 5, 6, 7*int(time.Millisecond), time.UTC)
	if got := TimestampLegacy.Format(stamp); got != "2024-03-09T12:05:06.7Z" {
		t.Fatalf("legacy = %q", got)
	}
	if got := TimestampISO.Format(stamp); got != "2024-03-09T12:05:06.007Z" {
		t.Fatalf("iso = %q", got)
	}
}

func TestParseTimestampStyle(t *testing.T) {
	style, err := ParseTimestampStyle(" Legacy ")
	if err != nil || style != TimestampLegacy {
		t.Fatalf("ParseTimestampStyle(legacy) = %v, %v", style, err)
	}
	style, err = ParseTimestampStyle("")
	if err != nil || style != TimestampISO {
		t.Fatalf("ParseTimestampStyle(\"\") = %v, %v", style, err)
	}
	if _, err := ParseTimestampStyle("rfc"); err == nil {
		t.Fatal("expected error for unknown style")
	}
}

func TestEncodeConvertsBytesToString(t *testing.T) {
	cursor := &sliceCursor{rows: [][]any{{[]byte("hello"), true, 1.5}}}
	columns := []Column{{Name: "b"}, {Name: "flag"}, {Name: "f"}}

	set, err := Encoder{}.Encode(cursor, columns, nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	encoded, _ := json.Marshal(set)
	if string(encoded) != `[{"b":"hello","flag":true,"f":1.5}]` {
		t.Fatalf("encoded = %s", encoded)
	}
}

func TestEncodeStopsBeforeNextRowOnceStopIsObserved(t *testing.T) {
	cursor := &sliceCursor{rows: [][]any{{int64(1)}, {int64(2)}, {int64(3)}, {int64(4)}}}
	checks := 0
	stop := func() bool {
		checks++
		return checks > 2
	}

	set, err := Encoder{}.Encode(cursor, []Column{{Name: "n"}}, stop)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("rows = %d, want 2", len(set))
	}
	if cursor.consumed != 2 {
		t.Fatalf("consumed = %d, cursor must not advance after stop", cursor.consumed)
	}
}

func TestEncodePropagatesCursorErrors(t *testing.T) {
	iterErr := errors.New("connection reset")
	cursor := &sliceCursor{rows: [][]any{{int64(1)}}, err: iterErr}

	set, err := Encoder{}.Encode(cursor, []Column{{Name: "n"}}, nil)
	if !errors.Is(err, iterErr) {
		t.Fatalf("error = %v, want %v", err, iterErr)
	}
	if len(set) != 1 {
		t.Fatalf("rows = %d", len(set))
	}

	scanErr := errors.New("bad value")
	cursor = &sliceCursor{rows: [][]any{{int64(1)}}, scanErr: scanErr}
	if _, err := (Encoder{}).Encode(cursor, []Column{{Name: "n"}}, nil); !errors.Is(err, scanErr) {
		t.Fatalf("error = %v, want %v", err, scanErr)
	}
}

func TestEncodeIsDeterministicAcrossIdenticalCursors(t *testing.T) {
	db, mock := newSQLMock(t)
	stamp := time.Date(2023, 12, 31, 23, 59, 59, 999*int(time.Millisecond), time.UTC)
	for i := 0; i < 2; i++ {
		rows := mock.NewRowsWithColumnDefinition(
			mock.NewColumn("id").OfType("INT", int64(0)),
			mock.NewColumn("seen").OfType("DATETIME", time.Time{}),
			mock.NewColumn("note").OfType("VARCHAR", ""),
		).AddRow(int64(7), stamp, nil).AddRow(int64(8), nil, "n")
		mock.ExpectQuery("SELECT id").WillReturnRows(rows)
	}

	first := encodeQuery(t, db, "SELECT id, seen, note FROM t")
	second := encodeQuery(t, db, "SELECT id, seen, note FROM t")
	if first != second {
		t.Fatalf("encodings differ:\n%s\n%s", first, second)
	}
	want := `[{"id":7,"seen":"2023-12-31T23:59:59.999Z"},{"id":8,"note":"n"}]`
	if first != want {
		t.Fatalf("encoded = %s, want %s", first, want)
	}
	assertSQLMock(t, mock)
}

func TestDescribeColumnsResolvesTemporalKinds(t *testing.T) {
	db, mock := newSQLMock(t)
	rows := mock.NewRowsWithColumnDefinition(
		mock.NewColumn("d").OfType("DATE", time.Time{}),
		mock.NewColumn("ts").OfType("timestamp", time.Time{}),
		mock.NewColumn("scan_only").OfType("", time.Time{}),
		mock.NewColumn("n").OfType("NUMERIC", float64(0)),
	)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	result, err := db.QueryContext(context.Background(), "SELECT d, ts, scan_only, n FROM t")
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	defer func() { _ = result.Close() }()
	types, err := result.ColumnTypes()
	if err != nil {
		t.Fatalf("ColumnTypes() error = %v", err)
	}

	columns := DescribeColumns(types)
	wantKinds := []Kind{KindTemporal, KindTemporal, KindTemporal, KindOther}
	for i, want := range wantKinds {
		if columns[i].Kind != want {
			t.Fatalf("column %q kind = %v, want %v", columns[i].Name, columns[i].Kind, want)
		}
	}
	assertSQLMock(t, mock)
}

func encodeQuery(t *testing.T, db *sql.DB, statement string) string {
	t.Helper()
	rows, err := db.QueryContext(context.Background(), statement)
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	defer func() { _ = rows.Close() }()
	types, err := rows.ColumnTypes()
	if err != nil {
		t.Fatalf("ColumnTypes() error = %v", err)
	}
	set, err := Encoder{}.Encode(rows, DescribeColumns(types), nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	encoded, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return string(encoded)
}

type sliceCursor struct {
	rows     [][]any
	consumed int
	err      error
	scanErr  error
}

func (c *sliceCursor) Next() bool {
	if c.consumed >= len(c.rows) {
		return false
	}
	c.consumed++
	return true
}

func (c *sliceCursor) Scan(dest ...any) error {
	if c.scanErr != nil {
		return c.scanErr
	}
	row := c.rows[c.consumed-1]
	for i := range dest {
		*(dest[i].(*any)) = row[i]
	}
	return nil
}

func (c *sliceCursor) Err() error {
	return c.err
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
