package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "run-1", 42)
	cp := [2]float64{10, 3}
	in := RunV1{
		Header:     Header{RunID: "run-1", Scenario: "two-walls", Step: 42, Final: true},
		Seed:       7,
		Tuning:     TuneV1{TurningAngle: 18, WhiskerLength: 6, WhiskerAngle: 30, StraightAngle: 11, CloseThreshold: 2, MaxSteps: 100000, Timeout: 200},
		Start:      PoseV1{Heading: 90},
		Walls:      [][4]float64{{20, 0, 30, 20}},
		Locations:  []LocationV1{{Name: "mail", X: -5, Y: 10}},
		Missions:   []MissionV1{{Name: "m", Visit: []string{"mail"}}},
		Steers:     []uint8{1, 2, 2, 3},
		Final:      PoseV1{X: 10.2, Y: 3, Heading: 0},
		Crashed:    true,
		CrashPoint: &cp,
		History:    [][2]float64{{0, 0}, {0.3, 0.9}},
		Stops:      []StopV1{{Mission: "m", Seq: 1, Name: "mail", X: -5, Y: 10, Error: "navigation stalled"}},
		Outcome:    "stalled",
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if filepath.Base(path) != "000000000042.snap.zst" {
		t.Fatalf("path=%s", path)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.RunID != "run-1" || h.Version != Version || !h.Final || h.Step != 42 {
		t.Fatalf("header=%+v", h)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if out.Seed != 7 || len(out.Steers) != 4 || out.Steers[3] != 3 || out.Tuning != in.Tuning {
		t.Fatalf("snapshot=%+v", out)
	}
	if out.CrashPoint == nil || *out.CrashPoint != cp || out.Stops[0].Error == "" {
		t.Fatalf("crash/stops lost: %+v", out)
	}
}

func TestReadSnapshot_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.snap.zst")
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected error")
	}
}
