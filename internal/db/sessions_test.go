package db

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/node"
)

func TestComputeSessionStats(t *testing.T) {
	ps := []event.Position{
		{XC: 1, YC: 10, Pupil: 5, SoftwareTimestamp: 0},
		{XC: 3, YC: 10, Pupil: 5, SoftwareTimestamp: 500},
		{XC: 5, YC: 10, Pupil: 5, SoftwareTimestamp: 1000},
	}
	got := ComputeSessionStats(ps, 1000)
	want := SessionStats{
		Samples: 3,
		XC:      AxisStats{Mean: 3, StdDev: 2},
		YC:      AxisStats{Mean: 10},
		Pupil:   AxisStats{Mean: 5},
		RateHz:  2,
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeSessionStats_Degenerate(t *testing.T) {
	if got := ComputeSessionStats(nil, 1000); got != (SessionStats{}) {
		t.Errorf("empty: got %+v", got)
	}
	got := ComputeSessionStats([]event.Position{{XC: 4, YC: 2, Pupil: 1}}, 1000)
	if got.Samples != 1 || got.XC.Mean != 4 || got.XC.StdDev != 0 || got.RateHz != 0 {
		t.Errorf("single sample: got %+v", got)
	}
	if math.IsNaN(got.YC.StdDev) {
		t.Error("single sample std dev is NaN")
	}
}

func TestGetSessionStats(t *testing.T) {
	db := newTestDB(t)
	id, err := db.StartSession("simulated", "serial")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	r := NewRecorder(db, id)
	if err := r.Add(t.Context(), node.Output{Positions: positions(4)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	s, err := db.GetSessionStats(id, 1000)
	if err != nil {
		t.Fatalf("GetSessionStats: %v", err)
	}
	if s.Samples != 4 || s.XC.Mean != 1.5 || s.RateHz != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}
