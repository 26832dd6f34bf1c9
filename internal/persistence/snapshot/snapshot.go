package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version  int    `json:"version"`
	RunID    string `json:"run_id"`
	Scenario string `json:"scenario"`
	Step     uint64 `json:"step"`
	Final    bool   `json:"final"`
}

// RunV1 captures everything needed to inspect or re-simulate a run.
type RunV1 struct {
	Header Header `json:"header"`

	Seed        int64  `json:"seed"`
	CreatedUnix int64  `json:"created_unix"`
	Tuning      TuneV1 `json:"tuning"`

	Start     PoseV1       `json:"start"`
	Walls     [][4]float64 `json:"walls"`
	Locations []LocationV1 `json:"locations"`
	Missions  []MissionV1  `json:"missions"`

	// Steers is the full steer sequence applied to the body, 1=left 2=straight 3=right.
	Steers []uint8 `json:"steers"`

	Final       PoseV1       `json:"final"`
	Crashed     bool         `json:"crashed"`
	CrashPoint  *[2]float64  `json:"crash_point,omitempty"`
	History     [][2]float64 `json:"history"`
	WallHistory [][2]float64 `json:"wall_history,omitempty"`
	Stops       []StopV1     `json:"stops"`
	Outcome     string       `json:"outcome"`
}

type TuneV1 struct {
	TurningAngle   float64 `json:"turning_angle"`
	WhiskerLength  float64 `json:"whisker_length"`
	WhiskerAngle   float64 `json:"whisker_angle"`
	StraightAngle  float64 `json:"straight_angle"`
	CloseThreshold float64 `json:"close_threshold"`
	MaxSteps       int     `json:"max_steps"`
	Timeout        int     `json:"timeout"`
}

type PoseV1 struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

type LocationV1 struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type MissionV1 struct {
	Name  string   `json:"name"`
	Visit []string `json:"visit"`
}

type StopV1 struct {
	Mission string  `json:"mission"`
	Seq     int     `json:"seq"`
	Name    string  `json:"name"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Arrived bool    `json:"arrived"`
	Steps   int     `json:"steps"`
	Error   string  `json:"error,omitempty"`
}

func WriteSnapshot(path string, snap RunV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (RunV1, error) {
	var snap RunV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

// Path is where a run's snapshot for step lives under dataDir.
func Path(dataDir, runID string, step uint64) string {
	return filepath.Join(dataDir, "runs", runID, "snapshots", fmt.Sprintf("%012d.snap.zst", step))
}
