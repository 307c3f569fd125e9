package simulation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cpunion/heirloom/pkg/feed"
)

func TestFeedLogger_RecordsEvents(t *testing.T) {
	dir := t.TempDir()
	events, err := NewFeedLogger(filepath.Join(dir, "events"), 1)
	if err != nil {
		t.Fatalf("NewFeedLogger: %v", err)
	}
	e := newTestExperiment(t, dir, offline(), func(c *Config) { c.EventLog = events })

	if err := e.RunSinglePeriod(context.Background(), 1); err != nil {
		t.Fatalf("RunSinglePeriod: %v", err)
	}
	if err := events.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err := feed.LoadIndex(filepath.Join(dir, "events", feed.IndexFile))
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if idx.TotalEvents != 2 || len(idx.Shards) != 2 {
		t.Fatalf("total=%d shards=%d, want 2 and 2", idx.TotalEvents, len(idx.Shards))
	}
	for _, s := range idx.Shards {
		if s.FirstPeriod != 1 || s.LastPeriod != 1 {
			t.Errorf("shard %d periods [%d, %d], want [1, 1]", s.Seq, s.FirstPeriod, s.LastPeriod)
		}
	}
}
