package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/cpunion/heirloom/pkg/analytics"
	"github.com/cpunion/heirloom/pkg/ledger"
	"github.com/cpunion/heirloom/pkg/relationship"
	"github.com/cpunion/heirloom/pkg/timeline"
	"github.com/cpunion/heirloom/pkg/types"
)

// Checkpoint is the full persisted state of an experiment after a period
// or an event within it.
type Checkpoint struct {
	RunID         string                           `json:"run_id"`
	Variant       string                           `json:"variant"`
	Period        int                              `json:"period"`
	Timeline      timeline.State                   `json:"timeline"`
	Resources     ledger.State                     `json:"resources"`
	Relationships map[string]relationship.Dynamics `json:"relationship_dynamics"`
	History       []types.Outcome                  `json:"scenario_history"`
	Data          map[string]any                   `json:"experiment_data"`
	Metrics       analytics.State                  `json:"metrics"`
	LastSaved     time.Time                        `json:"last_saved"`
}

// CheckpointIOError reports a failed checkpoint read or write.
type CheckpointIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *CheckpointIOError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CheckpointIOError) Unwrap() error { return e.Err }

const stateDir = "state"

var checkpointName = regexp.MustCompile(`^experiment_state_period_(\d+)\.json$`)

// CheckpointPath returns the checkpoint file for period under outputDir.
func CheckpointPath(outputDir string, period int) string {
	return filepath.Join(outputDir, stateDir, fmt.Sprintf("experiment_state_period_%d.json", period))
}

// SaveCheckpoint writes cp atomically: the data goes to a temp file in the
// same directory, is synced, and is renamed over path.
func SaveCheckpoint(path string, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return &CheckpointIOError{Op: "encode", Path: path, Err: err}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &CheckpointIOError{Op: "write", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return &CheckpointIOError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &CheckpointIOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &CheckpointIOError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &CheckpointIOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &CheckpointIOError{Op: "rename", Path: path, Err: err}
	}
	cleanup = false
	return nil
}

// LoadCheckpoint reads a checkpoint. Missing fields take their defaults, so
// files written by older versions still load.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CheckpointIOError{Op: "read", Path: path, Err: err}
	}
	cp := &Checkpoint{
		Resources: ledger.State{Shared: ledger.DefaultSharedPool()},
	}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, &CheckpointIOError{Op: "decode", Path: path, Err: err}
	}
	cp.normalize()
	return cp, nil
}

func (cp *Checkpoint) normalize() {
	if cp.Timeline.CompletedEvents == nil {
		cp.Timeline.CompletedEvents = []string{}
	}
	if cp.Relationships == nil {
		cp.Relationships = map[string]relationship.Dynamics{}
	}
	if cp.Data == nil {
		cp.Data = map[string]any{}
	}
	if cp.History == nil {
		cp.History = []types.Outcome{}
	}
	if cp.Period <= 0 {
		cp.Period = max(cp.Timeline.CurrentPeriod, 1)
	}
}

// ListCheckpoints returns the periods that have a checkpoint under
// outputDir, in ascending order.
func ListCheckpoints(outputDir string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(outputDir, stateDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &CheckpointIOError{Op: "list", Path: outputDir, Err: err}
	}
	var periods []int
	for _, e := range entries {
		m := checkpointName.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		p, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		periods = append(periods, p)
	}
	// ReadDir sorts by name, which puts period 10 before period 2.
	slices.Sort(periods)
	return periods, nil
}

// LatestCheckpoint loads the checkpoint with the highest period number. It
// returns nil and no error when there is none.
func LatestCheckpoint(outputDir string) (*Checkpoint, error) {
	periods, err := ListCheckpoints(outputDir)
	if err != nil || len(periods) == 0 {
		return nil, err
	}
	return LoadCheckpoint(CheckpointPath(outputDir, periods[len(periods)-1]))
}
