package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// fileSnapshot is the on-disk JSON shape described in SPEC_FULL.md §3.
// Unknown top-level or per_ip keys are ignored on load automatically:
// encoding/json drops fields it cannot map onto this struct.
type fileSnapshot struct {
	BytesInTotal      int64                  `json:"bytes_in_total"`
	BytesInV4         int64                  `json:"bytes_in_v4"`
	BytesInV6         int64                  `json:"bytes_in_v6"`
	ConnectionsTotal  int64                  `json:"connections_total"`
	DeniedConnections int64                  `json:"denied_connections"`
	FramesRendered    int64                  `json:"frames_rendered"`
	CommandsParsed    int64                  `json:"commands_parsed"`
	PixelsSet         int64                  `json:"pixels_set"`
	PerIP             map[string]fileIPEntry `json:"per_ip"`
}

type fileIPEntry struct {
	BytesIn        int64 `json:"bytes_in"`
	Connections    int64 `json:"connections"`
	CommandsParsed int64 `json:"commands_parsed"`
	PixelsSet      int64 `json:"pixels_set"`
}

func toFileSnapshot(s Snapshot) fileSnapshot {
	f := fileSnapshot{
		BytesInTotal:      s.BytesInTotal,
		BytesInV4:         s.BytesInV4,
		BytesInV6:         s.BytesInV6,
		ConnectionsTotal:  s.ConnectionsTotal,
		DeniedConnections: s.DeniedConnections,
		FramesRendered:    s.FramesRendered,
		CommandsParsed:    s.CommandsParsed,
		PixelsSet:         s.PixelsSet,
		PerIP:             make(map[string]fileIPEntry, len(s.PerIP)),
	}
	for ip, c := range s.PerIP {
		f.PerIP[ip] = fileIPEntry{
			BytesIn:        c.BytesIn,
			Connections:    c.Connections,
			CommandsParsed: c.CommandsParsed,
			PixelsSet:      c.PixelsSet,
		}
	}
	return f
}

func (f fileSnapshot) toSnapshot() Snapshot {
	s := Snapshot{
		BytesInTotal:      f.BytesInTotal,
		BytesInV4:         f.BytesInV4,
		BytesInV6:         f.BytesInV6,
		ConnectionsTotal:  f.ConnectionsTotal,
		DeniedConnections: f.DeniedConnections,
		FramesRendered:    f.FramesRendered,
		CommandsParsed:    f.CommandsParsed,
		PixelsSet:         f.PixelsSet,
		PerIP:             make(map[string]PerIPSnapshot, len(f.PerIP)),
	}
	for ip, c := range f.PerIP {
		s.PerIP[ip] = PerIPSnapshot{
			BytesIn:        c.BytesIn,
			Connections:    c.Connections,
			CommandsParsed: c.CommandsParsed,
			PixelsSet:      c.PixelsSet,
		}
	}
	return s
}

// Save writes the aggregator's current counters to path, via a temp file
// plus atomic rename so a concurrent reader (or a crash mid-write) never
// observes a partially written snapshot — the single-writer, atomic-rename
// discipline §5 calls for.
func (a *Aggregator) Save(path string) error {
	data, err := json.MarshalIndent(toFileSnapshot(a.Snapshot()), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal statistics snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write statistics snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename statistics snapshot into place: %w", err)
	}
	return nil
}

// Load restores counters from path if it exists. A missing file is not an
// error (first run). A present-but-corrupt file is non-fatal per §7: the
// aggregator keeps its zeroed counters and the caller should log a
// warning with the returned error.
func (a *Aggregator) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read statistics snapshot: %w", err)
	}

	var f fileSnapshot
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse statistics snapshot: %w", err)
	}

	a.restore(f.toSnapshot())
	return nil
}

// RunSaveLoop snapshots the aggregator to path every interval until done
// is closed, logging (but not failing on) save errors. It also performs
// one final save before returning, so a clean shutdown never loses the
// interval's worth of counters since the last tick.
func (a *Aggregator) RunSaveLoop(path string, interval time.Duration, done <-chan struct{}) {
	if path == "" {
		return
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.WithError(err).Warn("could not create statistics save-file directory")
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.Save(path); err != nil {
				logrus.WithError(err).Warn("failed to save statistics snapshot")
			}
		case <-done:
			if err := a.Save(path); err != nil {
				logrus.WithError(err).Warn("failed to save final statistics snapshot")
			}
			return
		}
	}
}
