package query

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEffectiveTimeoutDefaultsWhenUnset(t *testing.T) {
	for _, timeout := range []time.Duration{0, -time.Second} {
		if got := (Request{Timeout: timeout}).EffectiveTimeout(); got != 600000*time.Millisecond {
			t.Fatalf("EffectiveTimeout(%v) = %v", timeout, got)
		}
	}
	if got := (Request{Timeout: 1500 * time.Millisecond}).EffectiveTimeout(); got != 1500*time.Millisecond {
		t.Fatalf("EffectiveTimeout = %v", got)
	}
}

func TestTimeoutResponseCarriesOnlyIDAndError(t *testing.T) {
	response := TimeoutResponse(json.RawMessage(`"2"`))
	if !response.IsTimeout() {
		t.Fatal("IsTimeout() = false")
	}
	encoded, err := json.Marshal(response)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(encoded) != `{"msgId":"2","error":"Timeout"}` {
		t.Fatalf("encoded = %s", encoded)
	}
}

func TestCompletedResponseAlwaysCarriesResultAndTimestamps(t *testing.T) {
	response := Completed(json.RawMessage(`7`))
	response.StartTime = 100
	response.EndTime = 250
	encoded, err := json.Marshal(response)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(encoded) != `{"msgId":7,"result":[],"startTime":100,"endTime":250}` {
		t.Fatalf("encoded = %s", encoded)
	}

	row := NewRow(1)
	row.Set("X", int64(1))
	response.Result = append(response.Result, ResultSet{row})
	response.Error = "boom"
	encoded, _ = json.Marshal(response)
	if string(encoded) != `{"msgId":7,"result":[[{"X":1}]],"error":"boom","startTime":100,"endTime":250}` {
		t.Fatalf("encoded = %s", encoded)
	}
	if response.IsTimeout() {
		t.Fatal("completed response must not report timeout")
	}
}

func TestCompletedResponseWithTimeoutTextIsNotATimeout(t *testing.T) {
	response := Completed(json.RawMessage(`1`))
	response.Error = TimeoutMessage
	if response.IsTimeout() {
		t.Fatal("a driver error reading Timeout is not the canonical timeout response")
	}
}

func TestRowSetReplacesExistingKeyInPlace(t *testing.T) {
	row := NewRow(2)
	row.Set("a", 1)
	row.Set("b", 2)
	row.Set("a", 3)
	if len(row.keys) != 2 {
		t.Fatalf("keys = %v", row.keys)
	}
	encoded, _ := json.Marshal(row)
	if string(encoded) != `{"a":3,"b":2}` {
		t.Fatalf("encoded = %s", encoded)
	}

	var zero Row
	zero.Set("z", "v")
	if len(zero.keys) != 1 || zero.keys[0] != "z" {
		t.Fatalf("keys = %v", zero.keys)
	}
}
