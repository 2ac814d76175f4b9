package ringdown

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *Catalog {
	return &Catalog{
		Version: "1.0",
		DataDir: "/data",
		Events: map[string]*EventConfig{
			"gw150914": {
				Name: "GW150914", GPS: 1126259462.4, Mass: 68, Spin: 0.67, Enabled: true,
				Detectors: map[string]*DetectorData{
					"L1": {Path: "GW150914_L1.txt", Enabled: true},
					"H1": {Path: "/abs/GW150914_H1.txt", Enabled: true},
				},
			},
			"gw151226": {
				Name: "GW151226", GPS: 1135136350.6, Mass: 20.5, Spin: 0.74, Enabled: false,
				Detectors: map[string]*DetectorData{
					"H1": {Path: "GW151226_H1.txt", Enabled: true},
				},
			},
		},
	}
}

func TestCatalogValidate(t *testing.T) {
	require.NoError(t, testCatalog().Validate())

	tests := []struct {
		name   string
		mutate func(c *Catalog)
	}{
		{"no events", func(c *Catalog) { c.Events = nil }},
		{"missing name", func(c *Catalog) { c.Events["gw150914"].Name = "" }},
		{"bad mass", func(c *Catalog) { c.Events["gw150914"].Mass = 0 }},
		{"bad spin", func(c *Catalog) { c.Events["gw150914"].Spin = 1 }},
		{"no detectors", func(c *Catalog) { c.Events["gw150914"].Detectors = nil }},
		{"empty path", func(c *Catalog) { c.Events["gw150914"].Detectors["L1"].Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCatalog()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestCatalogUnits(t *testing.T) {
	units := testCatalog().Units()
	require.Len(t, units, 2)

	assert.Equal(t, "GW150914_H1", units[0].Key())
	assert.Equal(t, "/abs/GW150914_H1.txt", units[0].DataPath)
	assert.Equal(t, "GW150914_L1", units[1].Key())
	assert.Equal(t, filepath.Join("/data", "GW150914_L1.txt"), units[1].DataPath)
	assert.Equal(t, 68.0, units[1].Mass)
	assert.Equal(t, 1126259462.4, units[1].ReferenceTime)
}

func TestUnitRecordReliable(t *testing.T) {
	record := &UnitRecord{OK: true, EDR: &EDRSummary{A: 0.5, DeltaOmegaRatio: 0.1, DeltaTauRatio: -0.2}}
	assert.True(t, record.Reliable(0.03, 0.48))

	record.EDR.DeltaTauRatio = 0.49
	assert.False(t, record.Reliable(0.03, 0.48))

	record.EDR.DeltaTauRatio = 0
	record.EDR.A = 0.01
	assert.False(t, record.Reliable(0.03, 0.48))

	record.EDR.A = 0.5
	record.Degenerate = true
	assert.False(t, record.Reliable(0.03, 0.48))

	assert.False(t, (&UnitRecord{OK: false, EDR: &EDRSummary{A: 1}}).Reliable(0.03, 0.48))
}
