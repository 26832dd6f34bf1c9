package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"wallnav.ai/internal/geom"
	"wallnav.ai/internal/sim/body"
	"wallnav.ai/internal/sim/top"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Files lists the rotated files of prefix under dir, oldest first.
func Files(dir, prefix string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadJSONL decodes every line of a zstd JSONL file into fn. A file may hold
// several concatenated zstd frames when it was appended to across restarts.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	r := bufio.NewReaderSize(dec, 128*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 1 {
			if ferr := fn(line[:len(line)-1]); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// StepEntry is one body move of a run.
type StepEntry struct {
	RunID      string      `json:"run_id"`
	Seq        uint64      `json:"seq"`
	Steer      body.Steer  `json:"steer"`
	Pose       body.Pose   `json:"pose"`
	Whisker    bool        `json:"whisker"`
	Crashed    bool        `json:"crashed"`
	CrashPoint *geom.Point `json:"crash_point,omitempty"`
}

func StepEntryOf(runID string, s body.Step) StepEntry {
	return StepEntry{RunID: runID, Seq: s.Seq, Steer: s.Steer, Pose: s.Pose, Whisker: s.Whisker, Crashed: s.Crashed, CrashPoint: s.CrashPoint}
}

// StopEntry is one top-layer stop of a run.
type StopEntry struct {
	RunID   string     `json:"run_id"`
	Mission string     `json:"mission"`
	Seq     int        `json:"seq"`
	Name    string     `json:"name"`
	Target  geom.Point `json:"target"`
	Arrived bool       `json:"arrived"`
	Steps   int        `json:"steps"`
	Error   string     `json:"error,omitempty"`
}

func StopEntryOf(runID, mission string, s top.StopResult) StopEntry {
	e := StopEntry{RunID: runID, Mission: mission, Seq: s.Seq, Name: s.Name, Target: s.Target, Arrived: s.Arrived, Steps: s.Steps}
	if s.Err != nil {
		e.Error = s.Err.Error()
	}
	return e
}

// StepLogger writes one JSONL entry per body step (compressed).
type StepLogger struct{ w *JSONLZstdWriter }

func NewStepLogger(runDir string) *StepLogger {
	return &StepLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "steps"), "steps")}
}

func (l *StepLogger) WriteStep(v StepEntry) error { return l.w.Write(v) }
func (l *StepLogger) Close() error                { return l.w.Close() }

// StopLogger writes one JSONL entry per visited stop (compressed).
type StopLogger struct{ w *JSONLZstdWriter }

func NewStopLogger(runDir string) *StopLogger {
	return &StopLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "stops"), "stops")}
}

func (l *StopLogger) WriteStop(v StopEntry) error { return l.w.Write(v) }
func (l *StopLogger) Close() error                { return l.w.Close() }

// ReadSteps loads every step entry under runDir in file order.
func ReadSteps(runDir string) ([]StepEntry, error) {
	files, err := Files(filepath.Join(runDir, "steps"), "steps")
	if err != nil {
		return nil, err
	}
	var out []StepEntry
	for _, f := range files {
		err := ReadJSONL(f, func(line []byte) error {
			var e StepEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(f), err)
			}
			out = append(out, e)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RunLogger keeps the step and stop traces of one run side by side.
type RunLogger struct {
	steps *StepLogger
	stops *StopLogger
}

func NewRunLogger(runDir string) *RunLogger {
	return &RunLogger{steps: NewStepLogger(runDir), stops: NewStopLogger(runDir)}
}

func (l *RunLogger) WriteStep(v StepEntry) error { return l.steps.WriteStep(v) }
func (l *RunLogger) WriteStop(v StopEntry) error { return l.stops.WriteStop(v) }

func (l *RunLogger) Close() error {
	err1 := l.steps.Close()
	if err := l.stops.Close(); err != nil {
		return err
	}
	return err1
}
