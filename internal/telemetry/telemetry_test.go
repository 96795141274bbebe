package telemetry

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/fourstroke/ecucore/internal/ecu/engine"
	"github.com/fourstroke/ecucore/internal/ecu/output"
	"github.com/fourstroke/ecucore/internal/ecu/state"
)

func testFrame() Frame {
	return Frame{
		State:         state.Run,
		RPM:           3200,
		TimingMode:    engine.Fixed,
		TimingAdvance: 10,
		FuelMsec:      6,
		TrimState:     -1,
		TrimFlag:      true,
		Entries: [4]engine.ScheduleEntry{
			{Degree: 0, Coil: output.Single(output.Cyl1), Fuel: output.Single(output.Cyl1)},
			{Degree: 180, Coil: output.Single(output.Cyl3), Fuel: output.Single(output.Cyl3)},
			{Degree: 360, Coil: output.Single(output.Cyl2), Fuel: output.Single(output.Cyl2)},
			{Degree: 540, Coil: output.Single(output.Cyl4), Fuel: output.Single(output.Cyl4)},
		},
	}
}

func TestRecordWritesHeaderAndRow(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: true, Path: dir})
	defer r.Close()

	r.Record(testFrame())
	r.Close()

	rows := readAllRows(t, dir)
	if len(rows) != 2 {
		t.Fatalf("got %d rows (header+data), want 2", len(rows))
	}
	if rows[0][1] != "state" {
		t.Fatalf("header[1] = %q, want state", rows[0][1])
	}
	if rows[1][1] != "RUN" {
		t.Fatalf("row[1] = %q, want RUN", rows[1][1])
	}
	if rows[1][2] != "3200" {
		t.Fatalf("row[2] (rpm) = %q, want 3200", rows[1][2])
	}
}

func TestRecordNoopWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: false, Path: dir})
	r.Record(testFrame())
	r.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files written while disabled, got %d", len(entries))
	}
}

func TestSetEnabledClosesFileOnDisable(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: true, Path: dir})
	r.Record(testFrame())
	if r.writer == nil {
		t.Fatal("expected an open writer after a successful Record")
	}
	r.SetEnabled(false)
	if r.writer != nil {
		t.Fatal("expected writer to be closed once disabled")
	}
}

func TestRotatesAfterMaxRows(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: true, Path: dir})
	r.maxRows = 2
	defer r.Close()

	for i := 0; i < 5; i++ {
		r.Record(testFrame())
	}
	r.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected more than one rotated file, got %d", len(entries))
	}
}

func readAllRows(t *testing.T, dir string) [][]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files, want 1", len(entries))
	}
	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return rows
}
