package plugin

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMetrics_RecordCall(t *testing.T) {
	m := NewMetrics()
	m.RecordCall("echo", 10*time.Millisecond, nil)
	m.RecordCall("echo", 30*time.Millisecond, nil)
	m.RecordCall("echo", 20*time.Millisecond, errors.New("boom"))

	rep := m.Report()
	tr, ok := rep.Tools["echo"]
	if !ok {
		t.Fatal("no stats for echo")
	}
	if tr.Calls != 3 {
		t.Errorf("Calls = %d, want 3", tr.Calls)
	}
	if tr.Errors != 1 {
		t.Errorf("Errors = %d, want 1", tr.Errors)
	}
	if want := 1.0 / 3.0; tr.ErrorRate < want-0.001 || tr.ErrorRate > want+0.001 {
		t.Errorf("ErrorRate = %f, want %f", tr.ErrorRate, want)
	}
	if tr.AvgDuration != 20*time.Millisecond {
		t.Errorf("AvgDuration = %v, want 20ms", tr.AvgDuration)
	}
}

func TestMetrics_ErrorRingCapped(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < errorRingSize+20; i++ {
		m.RecordError(fmt.Sprintf("error %d", i))
	}

	errs := m.Errors()
	if len(errs) != errorRingSize {
		t.Fatalf("len = %d, want %d", len(errs), errorRingSize)
	}
	// Oldest retained entry is the 21st recorded.
	if errs[0].Message != "error 20" {
		t.Errorf("oldest = %q, want error 20", errs[0].Message)
	}
	if errs[len(errs)-1].Message != fmt.Sprintf("error %d", errorRingSize+19) {
		t.Errorf("newest = %q", errs[len(errs)-1].Message)
	}
}

func TestMetrics_Health(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < degradedThreshold; i++ {
		m.RecordError("recent")
	}
	if !m.Healthy() {
		t.Errorf("healthy with %d recent errors, threshold is exclusive", degradedThreshold)
	}

	m.RecordError("one more")
	if m.Healthy() {
		t.Error("still healthy past threshold")
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.Add("requests", 1)
	m.Add("requests", 2)

	snap := m.Snapshot()
	if snap["requests"] != 3 {
		t.Errorf("requests = %f, want 3", snap["requests"])
	}
}

func TestMetrics_LoadTime(t *testing.T) {
	m := NewMetrics()
	m.SetLoadTime(42 * time.Millisecond)
	if got := m.Report().LoadTime; got != 42*time.Millisecond {
		t.Errorf("LoadTime = %v", got)
	}
}
