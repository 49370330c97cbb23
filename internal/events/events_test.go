// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package events

import (
	"path/filepath"
	"testing"
)

func TestRing_KeepsMostRecent(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Push(Record{ID: uint32(i)})
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", r.Len())
	}
	got := r.Recent(0)
	want := []uint32{2, 3, 4}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("record %d: expected id %d, got %d", i, want[i], got[i].ID)
		}
	}
	// Recent(2) devolve só os dois mais novos, em ordem cronológica.
	got = r.Recent(2)
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 4 {
		t.Fatalf("expected ids [3 4], got %v", got)
	}
}

func TestLogger_RecentAndNilSafety(t *testing.T) {
	var nilLogger *Logger
	nilLogger.Log("noop", 0, 0, 1, false) // não pode explodir

	l := NewLogger(NopSink{}, 8)
	l.Log("BinaryMap", 3, 10, 14, false)
	l.Log("BinaryMap", 3, 14, 18, true)

	recent := l.Recent(0)
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[1].Start != 14 || !recent[1].IsStop {
		t.Fatalf("unexpected record: %+v", recent[1])
	}
}

func TestFileSink_RoundTrip(t *testing.T) {
	for _, name := range []string{"trace.jsonl", "trace.jsonl.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			sink, err := NewFileSink(path)
			if err != nil {
				t.Fatalf("NewFileSink error: %v", err)
			}
			recs := []Record{
				{Name: "OffChipLoad", ID: 1, Start: 0, End: 24, IsStop: false},
				{Name: "BinaryMap", ID: 2, Start: 24, End: 31, IsStop: true},
			}
			for _, rec := range recs {
				if err := sink.Append(rec); err != nil {
					t.Fatalf("Append error: %v", err)
				}
			}
			if err := sink.Close(); err != nil {
				t.Fatalf("Close error: %v", err)
			}

			got, err := ReadTrace(path)
			if err != nil {
				t.Fatalf("ReadTrace error: %v", err)
			}
			if len(got) != len(recs) {
				t.Fatalf("expected %d records, got %d", len(recs), len(got))
			}
			for i := range recs {
				if got[i] != recs[i] {
					t.Fatalf("record %d: expected %+v, got %+v", i, recs[i], got[i])
				}
			}
		})
	}
}
