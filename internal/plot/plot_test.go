package plot

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ophys.report/internal/monitoring"
	"github.com/banshee-data/ophys.report/internal/ophys"
)

func testTraces(t *testing.T) *ophys.TraceMatrix {
	t.Helper()
	tm, err := ophys.FromRows([]int64{1, 3, 5}, [][]float64{
		{0.1, 0.2, 0.3, 0.2},
		{0.0, 0.5, 0.1, 0.0},
		{1.0, 0.8, 0.6, 0.4},
	})
	require.NoError(t, err)
	return tm
}

func TestSaveTracePlot(t *testing.T) {
	monitoring.SetLogger(nil)

	tm := testTraces(t)
	path := filepath.Join(t.TempDir(), "dff.png")

	require.NoError(t, SaveTracePlot(tm, []float64{0, 0.1, 0.2, 0.3}, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "expected PNG header")
}

func TestSaveTracePlot_SampleIndex(t *testing.T) {
	monitoring.SetLogger(nil)
	path := filepath.Join(t.TempDir(), "dff.svg")
	require.NoError(t, SaveTracePlot(testTraces(t), nil, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func nonFiniteTraces(t *testing.T) *ophys.TraceMatrix {
	t.Helper()
	tm, err := ophys.FromRows([]int64{1, 3, 5}, [][]float64{
		{0.1, math.NaN(), 0.3, 0.2},
		{math.NaN(), math.NaN(), math.NaN(), math.NaN()},
		{1.0, math.Inf(1), 0.6, math.Inf(-1)},
	})
	require.NoError(t, err)
	return tm
}

func TestSaveTracePlot_SkipsNonFinite(t *testing.T) {
	monitoring.SetLogger(nil)
	path := filepath.Join(t.TempDir(), "dff.png")

	require.NoError(t, SaveTracePlot(nonFiniteTraces(t), []float64{0, 0.1, math.NaN(), 0.3}, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "expected PNG header")
}

func TestRenderTraceChart_SkipsNonFinite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderTraceChart(&buf, nonFiniteTraces(t), nil, "dF/F"))
	assert.NotContains(t, buf.String(), "NaN")
	assert.Contains(t, buf.String(), "0.6")
}

func TestSaveTracePlot_Errors(t *testing.T) {
	empty, err := ophys.FromRows(nil, nil)
	require.NoError(t, err)

	err = SaveTracePlot(empty, nil, filepath.Join(t.TempDir(), "x.png"))
	assert.ErrorContains(t, err, "no traces")

	err = SaveTracePlot(testTraces(t), []float64{0, 1}, filepath.Join(t.TempDir(), "x.png"))
	assert.True(t, errors.Is(err, ophys.ErrLengthMismatch))
}

func TestRenderTraceChart(t *testing.T) {
	var buf bytes.Buffer
	err := RenderTraceChart(&buf, testTraces(t), []float64{10, 10.5, 11, 11.5}, "Experiment 300")
	require.NoError(t, err)

	html := buf.String()
	assert.Contains(t, html, "Experiment 300")
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "10.500")
}

func TestRenderTraceChart_LengthMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := RenderTraceChart(&buf, testTraces(t), []float64{1}, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ophys.ErrLengthMismatch))
	assert.Zero(t, buf.Len())
}

func TestGenerateColors(t *testing.T) {
	assert.Nil(t, generateColors(0))
	cs := generateColors(4)
	require.Len(t, cs, 4)
	assert.NotEqual(t, cs[0], cs[2])
}
