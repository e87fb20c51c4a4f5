package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncChannelCommand("ok")
	ObserveStateWait("r5.cpu0", "halted", "matched", 0.12)
	ObserveScenario("B", "passed", 0.4)
	IncServerStart()
	IncServerStop("graceful")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"ctiharness_channel_commands_total":    false,
		"ctiharness_target_state_waits_total":  false,
		"ctiharness_target_state_wait_seconds": false,
		"ctiharness_scenario_runs_total":       false,
		"ctiharness_scenario_duration_seconds": false,
		"ctiharness_server_starts_total":       false,
		"ctiharness_server_stops_total":        false,
		"ctiharness_server_up":                 false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	// must not panic
	IncChannelCommand("error")
	ObserveScenario("Z", "failed", 1)
	IncServerStop("kill")
}

func TestHandlerAndTextfile(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}
	ObserveScenario("C", "passed", 0.3)

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ctiharness_scenario_runs_total") {
		t.Fatalf("scenario metric missing from /metrics output")
	}

	path := filepath.Join(t.TempDir(), "ctiharness.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(b), `ctiharness_scenario_runs_total{result="passed",scenario="C"}`) {
		t.Fatalf("textfile missing scenario sample:\n%s", b)
	}
}
