package timeline

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cpunion/heirloom/pkg/types"
)

//go:embed default_timeline.yaml
var defaultTimeline []byte

// Definition is a versioned timeline: its shape and its ordered events.
type Definition struct {
	Version  string                `json:"version" yaml:"version" toml:"version"`
	Periods  int                   `json:"periods" yaml:"periods" toml:"periods"`
	SubSteps int                   `json:"sub_steps" yaml:"sub_steps" toml:"sub_steps"`
	Events   []types.ScenarioEvent `json:"events" yaml:"events" toml:"events"`
}

// Default returns the built-in six-period timeline.
func Default() *Definition {
	def, err := Parse(defaultTimeline, "yaml")
	if err != nil {
		panic(fmt.Sprintf("embedded timeline: %v", err))
	}
	return def
}

// Load reads a definition file. The format follows the extension:
// .yaml/.yml, .toml or .json.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	def, err := Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes, normalizes and validates a definition.
func Parse(data []byte, format string) (*Definition, error) {
	var def Definition
	var err error
	switch strings.ToLower(format) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &def)
	case "toml":
		err = toml.Unmarshal(data, &def)
	case "json":
		err = json.Unmarshal(data, &def)
	default:
		return nil, fmt.Errorf("unsupported timeline format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}
	def.normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) normalize() {
	if d.SubSteps == 0 {
		d.SubSteps = 4
	}
	if d.Periods == 0 {
		for _, ev := range d.Events {
			d.Periods = max(d.Periods, ev.Period)
		}
	}
	for i := range d.Events {
		ev := &d.Events[i]
		if ev.ID == "" {
			ev.ID = EventID(ev.Period, ev.SubStep, ev.Title)
		}
	}
	sort.SliceStable(d.Events, func(i, j int) bool {
		a, b := d.Events[i], d.Events[j]
		if a.Period != b.Period {
			return a.Period < b.Period
		}
		return a.SubStep < b.SubStep
	})
}

// Validate checks the shape and every event.
func (d *Definition) Validate() error {
	if d.Periods < 1 {
		return fmt.Errorf("timeline needs at least one period")
	}
	if d.SubSteps < 1 {
		return fmt.Errorf("timeline needs at least one sub-step per period")
	}
	if len(d.Events) == 0 {
		return fmt.Errorf("timeline has no events")
	}
	ids := make(map[string]bool, len(d.Events))
	for _, ev := range d.Events {
		if strings.TrimSpace(ev.Title) == "" {
			return fmt.Errorf("event %q has no title", ev.ID)
		}
		if ev.Period < 1 || ev.Period > d.Periods {
			return fmt.Errorf("event %q: period %d outside 1..%d", ev.ID, ev.Period, d.Periods)
		}
		if ev.SubStep < 1 || ev.SubStep > d.SubSteps {
			return fmt.Errorf("event %q: sub-step %d outside 1..%d", ev.ID, ev.SubStep, d.SubSteps)
		}
		if ids[ev.ID] {
			return fmt.Errorf("duplicate event id %q", ev.ID)
		}
		ids[ev.ID] = true
	}
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// EventID derives a stable id such as "p1w1-the-inheritance".
func EventID(period, subStep int, title string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
	return fmt.Sprintf("p%dw%d-%s", period, subStep, slug)
}
