package run

import (
	"errors"
	"fmt"
	"math"

	"wallnav.ai/internal/geom"
	"wallnav.ai/internal/persistence/snapshot"
	"wallnav.ai/internal/sim/body"
)

var ErrReplayMismatch = errors.New("replay diverged from snapshot")

func points(ps []geom.Point) [][2]float64 {
	out := make([][2]float64, len(ps))
	for i, p := range ps {
		out[i] = p.Array()
	}
	return out
}

// ExportSnapshot captures the run as it stands.
func (r *Runner) ExportSnapshot(final bool) snapshot.RunV1 {
	r.mu.Lock()
	defer r.mu.Unlock()

	pose := r.body.Pose()
	snap := snapshot.RunV1{
		Header: snapshot.Header{
			Version:  snapshot.Version,
			RunID:    r.id,
			Scenario: r.scen.Name,
			Step:     r.body.Steps(),
			Final:    final,
		},
		Seed:        r.scen.Seed,
		CreatedUnix: r.created.Unix(),
		Tuning: snapshot.TuneV1{
			TurningAngle:   r.tune.Body.TurningAngle,
			WhiskerLength:  r.tune.Body.WhiskerLength,
			WhiskerAngle:   r.tune.Body.WhiskerAngle,
			StraightAngle:  r.tune.Middle.StraightAngle,
			CloseThreshold: r.tune.Middle.CloseThreshold,
			MaxSteps:       r.tune.Middle.MaxSteps,
			Timeout:        r.tune.Top.Timeout,
		},
		Start:       snapshot.PoseV1{X: r.scen.Start.X, Y: r.scen.Start.Y, Heading: r.scen.Start.Heading},
		Steers:      append([]uint8(nil), r.steers...),
		Final:       snapshot.PoseV1{X: pose.X, Y: pose.Y, Heading: pose.Heading},
		Crashed:     r.body.Crashed(),
		History:     points(r.body.History()),
		WallHistory: points(r.body.WallHistory()),
		Outcome:     r.outcome,
	}
	for _, w := range r.body.Walls() {
		snap.Walls = append(snap.Walls, [4]float64{w.A.X, w.A.Y, w.B.X, w.B.Y})
	}
	for _, e := range r.table.Entries() {
		snap.Locations = append(snap.Locations, snapshot.LocationV1{Name: e.Name, X: e.X, Y: e.Y})
	}
	if cp, ok := r.body.CrashPoint(); ok {
		a := cp.Array()
		snap.CrashPoint = &a
	}
	for _, m := range r.missions {
		snap.Missions = append(snap.Missions, snapshot.MissionV1{Name: m.Name, Visit: append([]string(nil), m.Visit...)})
		for _, s := range m.Stops {
			st := snapshot.StopV1{Mission: m.Name, Seq: s.Seq, Name: s.Name, X: s.Target.X, Y: s.Target.Y, Arrived: s.Arrived, Steps: s.Steps}
			if s.Err != nil {
				st.Error = s.Err.Error()
			}
			snap.Stops = append(snap.Stops, st)
		}
	}
	return snap
}

// WriteSnapshot stores the current snapshot under the data directory set by
// EnableSnapshots and tells every SnapshotRecorder about it.
func (r *Runner) WriteSnapshot(final bool) (string, error) {
	if r.dataDir == "" {
		return "", fmt.Errorf("snapshots disabled")
	}
	snap := r.ExportSnapshot(final)
	path := snapshot.Path(r.dataDir, r.id, snap.Header.Step)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	for _, rec := range r.recorders {
		if sr, ok := rec.(SnapshotRecorder); ok {
			sr.RecordSnapshot(path, snap)
		}
	}
	return path, nil
}

// Replay re-drives a fresh body through the recorded steer sequence and
// checks that it ends where the snapshot says.
func Replay(snap snapshot.RunV1) (body.Pose, error) {
	cfg := body.Config{
		TurningAngle:  snap.Tuning.TurningAngle,
		WhiskerLength: snap.Tuning.WhiskerLength,
		WhiskerAngle:  snap.Tuning.WhiskerAngle,
	}
	walls := make([]geom.Segment, 0, len(snap.Walls))
	for _, w := range snap.Walls {
		walls = append(walls, geom.Seg(w[0], w[1], w[2], w[3]))
	}
	b, err := body.New(cfg, walls, body.Pose{X: snap.Start.X, Y: snap.Start.Y, Heading: snap.Start.Heading})
	if err != nil {
		return body.Pose{}, err
	}
	for i, s := range snap.Steers {
		if _, err := b.Do(body.Steer(s)); err != nil {
			return b.Pose(), fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	got := b.Pose()
	want := snap.Final
	const eps = 1e-9
	if math.Abs(got.X-want.X) > eps || math.Abs(got.Y-want.Y) > eps || math.Abs(got.Heading-want.Heading) > eps || b.Crashed() != snap.Crashed {
		return got, fmt.Errorf("%w: got (%.6f,%.6f,%.3f crashed=%v) want (%.6f,%.6f,%.3f crashed=%v)",
			ErrReplayMismatch, got.X, got.Y, got.Heading, b.Crashed(), want.X, want.Y, want.Heading, snap.Crashed)
	}
	return got, nil
}
