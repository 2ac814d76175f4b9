package strain

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadGWOSC(t *testing.T) {
	input := `# Gravitational wave strain for H1 (GWOSC) : Time series
# Sampling rate: 4096 Hz
# Starting GPS time: 1126259446
# duration: 32 seconds
1.0e-21
-2.5e-21
3.0e-21
`
	seg, err := ReadGWOSC(strings.NewReader(input), 0)
	require.NoError(t, err)
	assert.Equal(t, 4096.0, seg.SampleRate)
	assert.Equal(t, 1126259446.0, seg.Start)
	assert.Equal(t, []float64{1.0e-21, -2.5e-21, 3.0e-21}, seg.Samples)
}

func TestReadGWOSCLegacyHeader(t *testing.T) {
	input := "# strain timeseries for H1 with sample rate 16384 Hz, starting GPS 1126257414 duration 4096\n0.5\n0.25\n"
	seg, err := ReadGWOSC(strings.NewReader(input), 0)
	require.NoError(t, err)
	assert.Equal(t, 16384.0, seg.SampleRate)
	assert.Equal(t, 1126257414.0, seg.Start)
	assert.Len(t, seg.Samples, 2)
}

func TestReadGWOSCMissingRate(t *testing.T) {
	_, err := ReadGWOSC(strings.NewReader("1\n2\n"), 0)
	assert.Error(t, err)

	seg, err := ReadGWOSC(strings.NewReader("1\n2\n"), 2048)
	require.NoError(t, err)
	assert.Equal(t, 2048.0, seg.SampleRate)
}

func TestReadCSV(t *testing.T) {
	input := "time,strain\n100.0,1\n100.25,2\n100.5,3\n100.75,4\n"
	seg, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 4.0, seg.SampleRate)
	assert.Equal(t, 100.0, seg.Start)
	assert.Equal(t, []float64{1, 2, 3, 4}, seg.Samples)
}

func TestJSONRoundTrip(t *testing.T) {
	seg := &common.Segment{Samples: []float64{0.1, 0.2, 0.3}, SampleRate: 4096, Start: 12}

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, seg))

	got, err := ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, seg, got)
}

func TestLoaderWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, 4096, 16, 2, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 4096},
		Data:           []int{16384, -16384, -8192, 8192, 0, 0, 32767, 1},
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	loader := NewLoader(Options{Channel: 0, Start: 500}, nil)
	seg, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4096.0, seg.SampleRate)
	assert.Equal(t, 500.0, seg.Start)
	require.Len(t, seg.Samples, 4)
	assert.InDelta(t, 0.5, seg.Samples[0], 1e-9)
	assert.InDelta(t, -0.25, seg.Samples[1], 1e-9)
}

func TestLoaderFailuresAreDataUnavailable(t *testing.T) {
	loader := NewLoader(Options{}, nil)

	_, err := loader.Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, common.ErrDataUnavailable)

	_, err = loader.Load("segment.gwf")
	assert.ErrorIs(t, err, common.ErrDataUnavailable)

	path := filepath.Join(t.TempDir(), "short.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sample_rate": 4096, "samples": [1]}`), 0o644))
	_, err = loader.Load(path)
	assert.ErrorIs(t, err, common.ErrDataUnavailable)
}
