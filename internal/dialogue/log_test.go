package dialogue

import (
	"testing"
	"time"
)

func TestLog_AppendOrderAndMonotonicTimestamps(t *testing.T) {
	l := NewLog()
	l.Append(OriginOperator, "we want better terms", nil)
	l.Append(OriginAgent, "state your offer", &GenerationMeta{
		ThinkingDuration: 120 * time.Millisecond,
		ModelUsed:        "gpt-4.1-mini",
		TokenConsumption: 42,
	})
	l.Append(OriginOperator, "fifteen percent", nil)

	snap := l.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want 3", len(snap))
	}
	if snap[0].Payload != "we want better terms" || snap[2].Payload != "fifteen percent" {
		t.Fatal("entries out of append order")
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].Timestamp.Before(snap[i-1].Timestamp) {
			t.Fatalf("timestamp %d precedes its predecessor", i)
		}
	}
	if snap[1].Meta == nil || snap[1].Meta.TokenConsumption != 42 {
		t.Fatal("agent metadata not preserved")
	}

	seen := map[string]bool{}
	for _, v := range snap {
		if v.ID == "" || seen[v.ID] {
			t.Fatalf("id %q empty or duplicated", v.ID)
		}
		seen[v.ID] = true
	}
}

func TestLog_SnapshotIsCopy(t *testing.T) {
	l := NewLog()
	l.Append(OriginOperator, "original", nil)

	snap := l.Snapshot()
	snap[0].Payload = "mutated"

	if l.Snapshot()[0].Payload != "original" {
		t.Fatal("mutating a snapshot must not affect the log")
	}
}

func TestLog_Clear(t *testing.T) {
	l := NewLog()
	l.Append(OriginOperator, "one", nil)
	l.Append(OriginAgent, "two", nil)
	l.Clear()

	if l.Len() != 0 {
		t.Fatalf("len after clear = %d, want 0", l.Len())
	}
}
