package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"
)

// DefaultShardSize is the number of events per shard when unset.
const DefaultShardSize = 200

var shardName = regexp.MustCompile(`^events-(\d{6})\.jsonl$`)

func shardFile(seq int) string { return fmt.Sprintf("events-%06d.jsonl", seq) }

// Config configures a Writer.
type Config struct {
	Dir       string
	ShardSize int
	// Fresh discards an existing index and starts at shard 1. Existing shard
	// files are appended to, never truncated.
	Fresh bool
	Now   func() time.Time
}

// Writer appends events to the newest shard, starting a new one when it is
// full. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex

	dir       string
	indexPath string
	shardSize int
	now       func() time.Time

	idx  *Index
	file *os.File
	buf  *bufio.Writer
}

// Open opens the feed in cfg.Dir, resuming on its newest shard. A directory
// holding shards but no index has its index rebuilt from the files.
func Open(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("feed: dir is required")
	}
	if cfg.ShardSize <= 0 {
		cfg.ShardSize = DefaultShardSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, err
	}

	w := &Writer{
		dir:       cfg.Dir,
		indexPath: filepath.Join(cfg.Dir, IndexFile),
		shardSize: cfg.ShardSize,
		now:       cfg.Now,
		idx:       &Index{Version: 1, ShardSize: cfg.ShardSize},
	}
	if !cfg.Fresh {
		idx, err := LoadIndex(w.indexPath)
		switch {
		case err == nil:
			w.idx = idx
		case errors.Is(err, os.ErrNotExist):
			w.idx = scanDir(cfg.Dir, cfg.ShardSize)
		default:
			return nil, fmt.Errorf("feed: read index: %w", err)
		}
		w.idx.ShardSize = cfg.ShardSize
		w.idx.recount()
	}

	seq := 1
	if n := len(w.idx.Shards); n > 0 {
		seq = w.idx.Shards[n-1].Seq
	}
	if err := w.openShard(seq); err != nil {
		return nil, err
	}
	return w, nil
}

// scanDir rebuilds an index from the shard files present in dir.
func scanDir(dir string, shardSize int) *Index {
	idx := &Index{Version: 1, ShardSize: shardSize}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return idx
	}
	for _, e := range entries {
		m := shardName.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		seq, _ := strconv.Atoi(m[1])
		s := Shard{Seq: seq, File: e.Name()}
		scanShard(filepath.Join(dir, e.Name()), &s)
		idx.Shards = append(idx.Shards, s)
	}
	slices.SortFunc(idx.Shards, func(a, b Shard) int { return a.Seq - b.Seq })
	return idx
}

// scanShard counts the events in path and records their period range.
func scanShard(path string, s *Shard) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 256*1024), 8*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		s.Events++
		var k struct {
			Period int `json:"period"`
		}
		if json.Unmarshal(line, &k) == nil {
			s.notePeriod(k.Period)
		}
	}
}

func (s *Shard) notePeriod(p int) {
	if p <= 0 {
		return
	}
	if s.FirstPeriod == 0 || p < s.FirstPeriod {
		s.FirstPeriod = p
	}
	if p > s.LastPeriod {
		s.LastPeriod = p
	}
}

func (w *Writer) current() *Shard { return &w.idx.Shards[len(w.idx.Shards)-1] }

// openShard makes seq the current shard, registering it if new.
func (w *Writer) openShard(seq int) error {
	if w.buf != nil {
		_ = w.buf.Flush()
	}
	if w.file != nil {
		_ = w.file.Close()
	}

	name := shardFile(seq)
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriter(f)

	if n := len(w.idx.Shards); n == 0 || w.idx.Shards[n-1].Seq != seq {
		w.idx.Shards = append(w.idx.Shards, Shard{Seq: seq, File: name})
	}
	return saveIndex(w.indexPath, w.idx, w.now())
}

// Append writes v as one JSON line tagged with its experiment period.
func (w *Writer) Append(period int, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("feed: encode event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		return errors.New("feed: writer is closed")
	}
	// Rotate lazily so the index never lists an empty trailing shard.
	if w.current().Events >= w.shardSize {
		if err := w.openShard(w.current().Seq + 1); err != nil {
			return err
		}
	}

	if _, err := w.buf.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}

	s := w.current()
	s.Events++
	s.notePeriod(period)
	w.idx.TotalEvents++
	return saveIndex(w.indexPath, w.idx, w.now())
}

// Index returns a copy of the current index.
func (w *Writer) Index() Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := *w.idx
	out.Shards = slices.Clone(w.idx.Shards)
	return out
}

// Close flushes the current shard and the index.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.buf, w.file = nil, nil
	if serr := saveIndex(w.indexPath, w.idx, w.now()); err == nil {
		err = serr
	}
	return err
}
