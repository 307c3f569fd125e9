// Package feed stores an experiment's event journal as numbered JSONL
// shards with a small index, so long runs never grow a single file without
// bound and readers can page from the newest shard backwards.
package feed

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// IndexFile is the manifest name inside a feed directory.
const IndexFile = "index.json"

// Index lists the shards of a feed, oldest first.
type Index struct {
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
	ShardSize   int       `json:"max_events_per_shard"`
	Shards      []Shard   `json:"shards"`
	TotalEvents int       `json:"total_events"`
}

// Shard describes one JSONL file. FirstPeriod and LastPeriod bound the
// experiment periods of the events it holds; both are 0 when unknown.
type Shard struct {
	Seq         int    `json:"seq"`
	File        string `json:"file"`
	Events      int    `json:"events"`
	FirstPeriod int    `json:"first_period,omitempty"`
	LastPeriod  int    `json:"last_period,omitempty"`
}

func (idx *Index) recount() {
	total := 0
	for _, s := range idx.Shards {
		total += s.Events
	}
	idx.TotalEvents = total
}

// ShardsForPeriod returns the shards that may hold events of period.
func (idx *Index) ShardsForPeriod(period int) []Shard {
	var out []Shard
	for _, s := range idx.Shards {
		if s.FirstPeriod == 0 || (s.FirstPeriod <= period && period <= s.LastPeriod) {
			out = append(out, s)
		}
	}
	return out
}

// LoadIndex reads the manifest at path.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx := &Index{}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, err
	}
	if idx.Version == 0 {
		idx.Version = 1
	}
	return idx, nil
}

func saveIndex(path string, idx *Index, now time.Time) error {
	if idx.Version <= 0 {
		idx.Version = 1
	}
	idx.UpdatedAt = now

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
