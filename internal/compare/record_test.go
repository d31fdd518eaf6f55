package compare

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comparison_results.json")

	res := &Result{
		Pass:          true,
		RefMean:       661.7,
		RefSigma:      42.5,
		TestMean:      660.9,
		TestSigma:     43.1,
		RelativeSigma: 0.014,
		KSStatistic:   0.03,
		KSPValue:      0.82,
		Details:       "Spectra consistent.",
	}
	artifacts := map[string]string{
		"reference_histogram": "run_ref/results/reference_histogram.json",
		"test_histogram":      "run_test/results/test_histogram.json",
	}
	require.NoError(t, WriteRecord(path, res, artifacts))

	rec, err := ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, res, rec.Results)
	assert.Equal(t, artifacts, rec.Histograms)
}

func TestReadRecord_MissingResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"histograms":{}}`), 0o644))

	_, err := ReadRecord(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing results")
}

func TestReadRecord_MissingFile(t *testing.T) {
	_, err := ReadRecord(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
