// Package telemetry is the ECU core's black-box flight recorder: one
// CSV row per Record call, with automatic file rotation. Adapted from
// internal/logger/logger.go, which recorded a dashboard consumer's
// ecu.DataFrame/gps.Data; this records the core's own producer-side
// fields instead (state, RPM, timing mode and advance, fuel pulse
// width, per-phase cylinder pairing, trim progress).
package telemetry

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fourstroke/ecucore/internal/ecu/engine"
	"github.com/fourstroke/ecucore/internal/ecu/state"
)

// Recorder writes timestamped engine snapshots to CSV files with
// automatic rotation, mirroring the dashboard logger's shape.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	enabled bool
	maxRows int

	file   *os.File
	writer *csv.Writer
	rows   int
}

// Config holds recorder configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	RotateSize int64  `yaml:"rotate_size_bytes" json:"rotateSizeBytes"`
}

const defaultMaxRows = 100_000 // rotate after 100k rows

var csvHeader = []string{
	"timestamp", "state", "rpm", "timing_mode", "timing_advance_deg",
	"fuel_msec", "trim_state", "trim_flag",
	"phase0_coil", "phase0_fuel", "phase1_coil", "phase1_fuel",
	"phase2_coil", "phase2_fuel", "phase3_coil", "phase3_fuel",
}

// Frame is one snapshot of the engine task's state, taken by the
// caller under whatever lock already protects the scheduler/decoder.
type Frame struct {
	State         state.Engine
	RPM           int
	TimingMode    engine.TimingMode
	TimingAdvance int
	FuelMsec      int
	TrimState     int
	TrimFlag      bool
	Entries       [4]engine.ScheduleEntry
}

// New creates a Recorder. Path is a directory; files are named
// ecucore_<timestamp>.csv within it.
func New(cfg Config) *Recorder {
	if cfg.Path == "" {
		cfg.Path = "/var/log/ecucore"
	}
	maxRows := defaultMaxRows
	if cfg.RotateSize > 0 {
		// Rows are short and fixed-width enough that a byte budget maps
		// cleanly onto a row-count budget; ~80 bytes/row average.
		maxRows = int(cfg.RotateSize / 80)
		if maxRows < 1 {
			maxRows = 1
		}
	}
	return &Recorder{
		dir:     cfg.Path,
		enabled: cfg.Enabled,
		maxRows: maxRows,
	}
}

// SetEnabled toggles recording at runtime.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
	if !on {
		r.closeFile()
	}
}

// IsEnabled returns whether recording is active.
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Record writes one row. Unlike the dashboard logger this has no
// interval gate: the caller paces the calls (cmd/ecusim records one
// frame every 100ms).
func (r *Recorder) Record(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}

	now := time.Now()
	if r.writer == nil || r.rows >= r.maxRows {
		if err := r.rotateFile(now); err != nil {
			log.Printf("[telemetry] rotate failed: %v", err)
			return
		}
	}

	row := buildRow(now, f)
	if err := r.writer.Write(row); err != nil {
		log.Printf("[telemetry] write failed: %v", err)
		return
	}
	r.writer.Flush()
	r.rows++
}

// Close flushes and closes the current file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotateFile(now time.Time) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	filename := fmt.Sprintf("ecucore_%s.csv", now.Format("2006-01-02_150405.000000000"))
	path := filepath.Join(r.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.rows = 0

	if err := r.writer.Write(csvHeader); err != nil {
		return err
	}
	r.writer.Flush()

	log.Printf("[telemetry] opened %s", path)
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

func buildRow(ts time.Time, f Frame) []string {
	row := make([]string, len(csvHeader))

	row[0] = ts.Format(time.RFC3339Nano)
	row[1] = f.State.String()
	row[2] = fmt.Sprintf("%d", f.RPM)
	row[3] = timingModeStr(f.TimingMode)
	row[4] = fmt.Sprintf("%d", f.TimingAdvance)
	row[5] = fmt.Sprintf("%d", f.FuelMsec)
	row[6] = fmt.Sprintf("%d", f.TrimState)
	row[7] = boolStr(f.TrimFlag)

	for i, e := range f.Entries {
		row[8+i*2] = e.Coil.String()
		row[9+i*2] = e.Fuel.String()
	}

	return row
}

func timingModeStr(m engine.TimingMode) string {
	if m == engine.Advanced {
		return "advanced"
	}
	return "fixed"
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
