package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/pipeline"
)

func parseDiscoverFlags(t *testing.T, args ...string) (discovery.Request, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "discover"}
	registerDiscoverFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return requestFromFlags(cmd)
}

func TestRequestFromFlags_Registry(t *testing.T) {
	req, err := parseDiscoverFlags(t,
		"--user", "u-1", "--location", "13", "--industry", "dental",
		"--sub-location", "13101,13102", "--refresh",
	)
	require.NoError(t, err)
	assert.Equal(t, "u-1", req.UserID)
	assert.Equal(t, "13", req.LocationID)
	assert.Equal(t, []string{"13101", "13102"}, req.SubLocations)
	assert.Equal(t, discovery.ModeRegistry, req.Mode)
	assert.True(t, req.Refresh)
	assert.Nil(t, req.Center)
}

func TestRequestFromFlags_Grid(t *testing.T) {
	req, err := parseDiscoverFlags(t,
		"--user", "u-1", "--location", "13101", "--group", "medical",
		"--mode", "grid", "--lat", "35.68", "--lng", "139.76", "--radius-km", "3",
	)
	require.NoError(t, err)
	require.NotNil(t, req.Center)
	assert.InDelta(t, 35.68, req.Center.Lat, 1e-9)
	assert.InDelta(t, 139.76, req.Center.Lng, 1e-9)
	assert.InDelta(t, 3.0, req.RadiusKM, 1e-9)
	assert.Equal(t, "group:medical", req.IndustryKey())
}

func TestRequestFromFlags_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no industry", []string{"--user", "u", "--location", "13"}},
		{"no owner", []string{"--location", "13", "--industry", "dental"}},
		{"grid without center", []string{"--user", "u", "--location", "13", "--industry", "dental", "--mode", "grid"}},
		{"center out of range", []string{"--user", "u", "--location", "13", "--industry", "dental", "--mode", "grid", "--lat", "95", "--lng", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDiscoverFlags(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	sum := &pipeline.Summary{DatasetID: "ds-1", CrawlJobs: 3, ExtractionJobs: 1}
	sum.BusinessesFound = 4

	require.NoError(t, writeSummary(&buf, "run-1", sum))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, "ds-1", got["dataset_id"])
	assert.EqualValues(t, 3, got["crawl_jobs"])
	assert.EqualValues(t, 4, got["businesses_found"])
}
