package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/pkg/registry"
)

func TestRegistrySource_Collect(t *testing.T) {
	f := &fakeSearcher{batch: &registry.Batch{
		Calls:     3,
		Exhausted: true,
		Records: []registry.Record{
			{Number: " 1010001000001 ", Name: "ＡＢＣ株式会社", MunicipalityCode: "13101", Website: "abc.co.jp", QueryActivity: "P8261", QueryLocation: "13101"},
			{Number: "2", Name: "Two", PrefectureCode: "13", QueryActivity: "UNKNOWN"},
		},
	}}
	src := NewRegistrySource(f)
	terms := Terms{
		Industries:    []string{"dental", "clinic"},
		ActivityCodes: []string{"P8271", "P8261"},
		ByActivity:    map[string]string{"P8271": "dental", "P8261": "clinic"},
	}

	cands, usage, err := src.Collect(context.Background(), Request{LocationID: "13", SubLocations: []string{"13101", "13102"}}, terms)
	require.NoError(t, err)

	assert.Equal(t, []string{"13101", "13102"}, f.locations)
	assert.Equal(t, []string{"P8271", "P8261"}, f.activities)
	assert.Equal(t, 3, usage.RegistryCalls)

	require.Len(t, cands, 2)
	assert.Equal(t, "1010001000001", cands[0].ProviderID)
	assert.Equal(t, SourceRegistry, cands[0].Source)
	assert.Equal(t, "13101", cands[0].LocationID)
	assert.Equal(t, "clinic", cands[0].Industry)
	assert.Equal(t, "13", cands[1].LocationID)
	assert.Empty(t, cands[1].Industry)
}

func TestRegistrySource_DefaultsToRequestLocation(t *testing.T) {
	f := &fakeSearcher{batch: &registry.Batch{Exhausted: true}}
	src := NewRegistrySource(f)

	cands, _, err := src.Collect(context.Background(), Request{LocationID: "01202"}, Terms{Industries: []string{"hotel"}})
	require.NoError(t, err)
	assert.Empty(t, cands)
	assert.Equal(t, []string{"01202"}, f.locations)
}

func TestRegistrySource_Error(t *testing.T) {
	f := &fakeSearcher{batch: &registry.Batch{Calls: 4}, err: errors.New("registry: status 429")}
	src := NewRegistrySource(f)

	_, usage, err := src.Collect(context.Background(), Request{LocationID: "13101"}, Terms{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, 4, usage.RegistryCalls)
}
