package processing

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveSeries_WritesOneValuePerLine(t *testing.T) {
	dir := t.TempDir()

	path, err := SaveSeries(dir, []Sample{1.0, -2.5, 23.5, 1e-7, 1234567})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "sensor_data.txt"), path)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "1.0\n-2.5\n23.5\n1e-07\n1234567.0\n", string(contents))
}

func TestSaveSeries_ReplacesPreviousFile(t *testing.T) {
	dir := t.TempDir()

	_, err := SaveSeries(dir, []Sample{1, 2, 3, 4})
	require.NoError(t, err)
	path, err := SaveSeries(dir, []Sample{9})
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "9.0\n", string(contents))
}

func TestAppendSample(t *testing.T) {
	tests := []struct {
		sample Sample
		want   string
	}{
		{0, "0.0"},
		{Sample(math.Copysign(0, -1)), "-0.0"},
		{42, "42.0"},
		{0.1, "0.1"},
		{0.0001, "0.0001"},
		{0.00001, "1e-05"},
		{9999999999999998, "9999999999999998.0"},
		{1e16, "1e+16"},
		{-1.5e20, "-1.5e+20"},
		{Sample(math.Inf(1)), "inf"},
		{Sample(math.Inf(-1)), "-inf"},
		{Sample(math.NaN()), "nan"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, string(appendSample(nil, tt.sample)))
		})
	}
}

func TestSaveSeries_EmptySeriesWritesEmptyFile(t *testing.T) {
	path, err := SaveSeries(t.TempDir(), nil)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, info.Size())
}

func TestSaveSeries_NoDirectory(t *testing.T) {
	_, err := SaveSeries("", []Sample{1})
	require.ErrorIs(t, err, ErrNoSaveDirectory)
}

func TestSaveSeries_MissingDirectory(t *testing.T) {
	_, err := SaveSeries(filepath.Join(t.TempDir(), "nope"), []Sample{1})
	require.Error(t, err)
}
