package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FynnBe/ilastik/internal/core/ndarray"
	"github.com/FynnBe/ilastik/internal/imageio"
	imetrics "github.com/FynnBe/ilastik/internal/infrastructure/metrics"
)

// execute runs the CLI with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ILASTIK_LOG_MODE", "console")
	t.Setenv("ILASTIK_LOG_OVERRIDE", filepath.Join(t.TempDir(), "none.yaml"))
	t.Setenv("ILASTIK_PROJECT_STORE", "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	tests := []struct {
		name                       string
		version, commit, buildTime string
		want                       string
	}{
		{"dev defaults", "dev", "unknown", "unknown", "ilastik dev (commit: unknown, built: unknown)\n"},
		{"release", "v1.0.0", "abc123", "2024-01-01", "ilastik v1.0.0 (commit: abc123, built: 2024-01-01)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldV, oldC, oldB := Version, Commit, BuildTime
			defer func() { Version, Commit, BuildTime = oldV, oldC, oldB }()
			Version, Commit, BuildTime = tt.version, tt.commit, tt.buildTime

			out, err := execute(t, "version")
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestWorkflowsCommand(t *testing.T) {
	out, err := execute(t, "workflows")
	require.NoError(t, err)
	assert.Equal(t, "pixel_classification\nwatershed\n", out)

	out, err = execute(t, "workflows", "watershed")
	require.NoError(t, err)
	assert.Contains(t, out, "3 Watershed Segmentation (watershed)")
	assert.Contains(t, out, "Seed Data.Image -> Watershed Segmentation.RawData")

	_, err = execute(t, "workflows", "nope")
	assert.Error(t, err)
}

func writePNG(t *testing.T, dir, name string, f func(y, x int) float32) string {
	t.Helper()
	a := ndarray.MustNew("yx", 6, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			a.Set(f(y, x), y, x)
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, imageio.SavePNG(path, a))
	return path
}

func TestRun_WatershedExportAndSave(t *testing.T) {
	dir := t.TempDir()
	elevation := writePNG(t, dir, "elevation.png", func(_, x int) float32 {
		if x == 3 {
			return 9
		}
		return 1
	})
	seeds := writePNG(t, dir, "seeds.png", func(y, x int) float32 {
		switch {
		case y == 0 && x == 0:
			return 1
		case y == 5 && x == 5:
			return 2
		}
		return 0
	})
	exported := filepath.Join(dir, "superpixels.png")
	saved := filepath.Join(dir, "ws.ilp")

	out, err := execute(t, "run", "--workflow", "watershed",
		"--input", elevation, "--input", "Seed Data="+seeds,
		"--export", exported, "--save", saved)
	require.NoError(t, err)
	assert.Contains(t, out, "workflow: watershed")
	assert.Contains(t, out, "* 3 Watershed Segmentation")
	assert.Contains(t, out, "images: elevation")
	assert.Contains(t, out, "exported Watershed Segmentation.Superpixels")

	img, err := imageio.Load(exported)
	require.NoError(t, err)
	for y := 0; y < 6; y++ {
		assert.Equal(t, float32(1), img.Array.At(y, 0, 0))
		assert.Equal(t, float32(2), img.Array.At(y, 5, 0))
	}

	out, err = execute(t, "project", "info", "--format", "yaml", saved)
	require.NoError(t, err)
	assert.Contains(t, out, "workflow: watershed")
	assert.Contains(t, out, "Watershed Segmentation:")

	out, err = execute(t, "project", "info", saved)
	require.NoError(t, err)
	assert.Contains(t, out, "selected_drawer")
}

func TestRun_Errors(t *testing.T) {
	_, err := execute(t, "run", "--workflow", "nope")
	assert.Error(t, err)
	_, err = execute(t, "run", "--input", "Training=x.png")
	assert.ErrorContains(t, err, "does not take input images")
	_, err = execute(t, "run", "--labels", filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
	_, err = execute(t, "run", "--workflow", "watershed", "--labels", "x.png")
	assert.ErrorContains(t, err, "no pixel classification applet")
	_, err = execute(t, "run", "--export", filepath.Join(t.TempDir(), "x.png"))
	assert.ErrorContains(t, err, "slot not ready")
	_, err = execute(t, "run", "--save-snapshot", "x")
	assert.ErrorContains(t, err, "no project store")
}

func TestProjectStoreCommands(t *testing.T) {
	dir := t.TempDir()
	saved := filepath.Join(dir, "empty.ilp")
	_, err := execute(t, "run", "--save", saved)
	require.NoError(t, err)

	db := "sqlite:" + filepath.Join(dir, "projects.db")
	out, err := execute(t, "--store", db, "project", "copy", saved)
	require.NoError(t, err)
	assert.Contains(t, out, "copied ")
	id := strings.Fields(strings.TrimPrefix(out, "copied "))[0]

	out, err = execute(t, "--store", db, "project", "list", "--workflow", "pixel_classification")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	got := filepath.Join(dir, "got.ilp")
	_, err = execute(t, "--store", db, "project", "get", id, "--out", got)
	require.NoError(t, err)
	out, err = execute(t, "project", "info", got)
	require.NoError(t, err)
	assert.Contains(t, out, id)
}

func TestPromMetricsHandler(t *testing.T) {
	imetrics.ProjectSaved("cli-test")
	rec := httptest.NewRecorder()
	promMetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, "text/plain; version=0.0.4; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "# TYPE ilastik_project_saves_total counter")
	assert.Contains(t, body, `ilastik_project_saves_total{kind="cli-test"} `)
	assert.Contains(t, body, "# TYPE ilastik_requests_in_flight gauge")
}

func TestDebugMux(t *testing.T) {
	srv := httptest.NewServer(newDebugMux())
	defer srv.Close()

	for path, want := range map[string]int{
		"/healthz":      http.StatusOK,
		"/metrics":      http.StatusOK,
		"/debug/vars":   http.StatusOK,
		"/debug/pprof/": http.StatusOK,
		"/nope":         http.StatusNotFound,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestEscapeLabel(t *testing.T) {
	assert.Equal(t, `a\"b\\c\n`, escapeLabel("a\"b\\c\n"))
	assert.Equal(t, "a b", sanitizeHelp("a\nb"))
}
