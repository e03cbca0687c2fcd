package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/experiment"
)

func sample() (*config.Config, *experiment.Result) {
	cfg := config.GetPreset("integrator", "short")
	res := &experiment.Result{
		Problem:   "integrator",
		Times:     []float64{0, 1, 2},
		Objective: 0.25,
		Converged: true,
		Controls:  map[string][]float64{"u": {-1, -0.5, -0.5}},
		Members: []*experiment.Member{{
			Probability: 1,
			States:      map[string][]float64{"x": {1, 0.5, 0}},
			Metrics:     map[string]float64{"terminal_error": 0},
		}},
		Metrics: map[string]float64{"terminal_error": 0, "violation": 1e-9},
	}
	return cfg, res
}

func TestStoreSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	cfg, result := sample()
	runID, err := st.Save(cfg, result)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !strings.HasPrefix(runID, "integrator_") {
		t.Errorf("unexpected run id %q", runID)
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Problem != "integrator" {
		t.Errorf("expected problem 'integrator', got '%s'", meta.Problem)
	}
	if meta.Steps != cfg.Steps || meta.Members != 1 {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Metrics["violation"] != 1e-9 {
		t.Errorf("expected violation 1e-9, got %g", meta.Metrics["violation"])
	}

	cols, err := st.LoadStates(runID, 0)
	if err != nil {
		t.Fatalf("load states failed: %v", err)
	}
	if got := cols["x"]; len(got) != 3 || got[1] != 0.5 {
		t.Errorf("x = %v", got)
	}
	if got := cols["u"]; len(got) != 3 || got[0] != -1 {
		t.Errorf("u = %v", got)
	}

	back, err := st.LoadResult(runID)
	if err != nil {
		t.Fatalf("load result failed: %v", err)
	}
	if back.Objective != 0.25 || back.Members[0].States["x"][2] != 0 {
		t.Errorf("result did not round trip: %+v", back)
	}

	loaded, err := st.LoadConfig(runID)
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if loaded.Horizon != cfg.Horizon || loaded.Problem != cfg.Problem {
		t.Errorf("config did not round trip: %+v", loaded)
	}
}

func TestStoreList(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	cfg, result := sample()
	first, err := st.Save(cfg, result)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	second, err := st.Save(cfg, result)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if first == second {
		t.Errorf("run ids collide: %s", first)
	}
	if err := os.Mkdir(filepath.Join(tmpDir, "stray"), 0755); err != nil {
		t.Fatal(err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestStoreMissingRun(t *testing.T) {
	st := New(t.TempDir())
	if _, err := st.Load("nope"); !errors.Is(err, ErrNoRun) {
		t.Errorf("Load: err = %v, want ErrNoRun", err)
	}
	if _, err := st.LoadStates("nope", 0); !errors.Is(err, ErrNoRun) {
		t.Errorf("LoadStates: err = %v, want ErrNoRun", err)
	}
	if _, err := st.LoadConfig("nope"); !errors.Is(err, ErrNoRun) {
		t.Errorf("LoadConfig: err = %v, want ErrNoRun", err)
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	cfg, result := sample()
	runID, err := st.Save(cfg, result)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	for _, name := range []string{metadataFile, configFile, resultsFile, "member_0.csv"} {
		if _, err := os.Stat(filepath.Join(tmpDir, runID, name)); os.IsNotExist(err) {
			t.Errorf("%s not created", name)
		}
	}
}

func TestExportJSON(t *testing.T) {
	_, result := sample()
	var buf bytes.Buffer
	if err := ExportJSON(&buf, result); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"problem": "integrator"`) {
		t.Errorf("unexpected export:\n%s", buf.String())
	}
}
