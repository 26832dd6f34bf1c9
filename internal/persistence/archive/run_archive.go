package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wallnav.ai/internal/persistence/snapshot"
)

const MetaFile = "meta.json"

type RunArchiveMeta struct {
	RunID     string `json:"run_id"`
	Scenario  string `json:"scenario"`
	Seed      int64  `json:"seed"`
	Steps     uint64 `json:"steps"`
	Outcome   string `json:"outcome"`
	Crashed   bool   `json:"crashed"`
	Stops     int    `json:"stops"`
	Arrived   int    `json:"arrived"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// Dir is where a run is archived: dataDir/archives/<scenario>/<run_id>.
func Dir(dataDir, scenario, runID string) string {
	return filepath.Join(dataDir, "archives", safeName(scenario), runID)
}

// ArchiveRun copies a run's final snapshot into Dir and writes meta.json next
// to it. Intermediate snapshots are not archived and return archived=false.
func ArchiveRun(dataDir, snapshotPath string, snap snapshot.RunV1) (archivedPath string, archived bool, err error) {
	if !snap.Header.Final {
		return "", false, nil
	}
	if snap.Header.RunID == "" {
		return "", false, fmt.Errorf("snapshot has no run id")
	}

	dir := Dir(dataDir, snap.Header.Scenario, snap.Header.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := RunArchiveMeta{
		RunID:     snap.Header.RunID,
		Scenario:  snap.Header.Scenario,
		Seed:      snap.Seed,
		Steps:     snap.Header.Step,
		Outcome:   snap.Outcome,
		Crashed:   snap.Crashed,
		Stops:     len(snap.Stops),
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, s := range snap.Stops {
		if s.Arrived {
			meta.Arrived++
		}
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return dst, true, err
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), b, 0o644); err != nil {
		return dst, true, err
	}
	return dst, true, nil
}

// ReadMeta loads the meta.json of an archived run.
func ReadMeta(dir string) (RunArchiveMeta, error) {
	var m RunArchiveMeta
	b, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
