package strain

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format identifies an on-disk strain segment format
type Format string

const (
	FormatGWOSC Format = "gwosc"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatWAV   Format = "wav"
)

var (
	sampleRatePattern = regexp.MustCompile(`(?i)sampl\w*\s*rate[^0-9]*([0-9]+(?:\.[0-9]+)?(?:[eE][+-]?[0-9]+)?)`)
	startGPSPattern   = regexp.MustCompile(`(?i)start\w*\s*(?:gps)?(?:\s*time)?[^0-9]*([0-9]+(?:\.[0-9]+)?)`)
)

// Options override values a format cannot carry
type Options struct {
	// SampleRate is used when the file does not declare one
	SampleRate float64
	// Start overrides the time origin of the loaded segment when non-zero
	Start float64
	// Channel selects the WAV channel (0-based)
	Channel int
	// Format overrides extension-based detection when set
	Format Format
}

// Loader reads strain segments from disk
type Loader struct {
	options Options
	logger  logging.Logger
}

// NewLoader creates a segment loader
func NewLoader(options Options, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Loader{
		options: options,
		logger:  logger.WithFields(logging.Fields{"component": "strain_loader"}),
	}
}

// DetectFormat infers the format from the file extension
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".dat":
		return FormatGWOSC, nil
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".wav":
		return FormatWAV, nil
	default:
		return "", fmt.Errorf("unsupported segment format: %s", filepath.Ext(path))
	}
}

// Load reads a segment from path. Any failure is reported as DataUnavailable.
func (l *Loader) Load(path string) (*common.Segment, error) {
	format := l.options.Format
	if format == "" {
		var err error
		if format, err = DetectFormat(path); err != nil {
			return nil, common.NewAnalysisError(common.KindDataUnavailable, "load", path, err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, common.NewAnalysisError(common.KindDataUnavailable, "load", "cannot open segment", err)
	}
	defer file.Close()

	var seg *common.Segment
	switch format {
	case FormatGWOSC:
		seg, err = ReadGWOSC(file, l.options.SampleRate)
	case FormatCSV:
		seg, err = ReadCSV(file)
	case FormatJSON:
		seg, err = ReadJSON(file)
	case FormatWAV:
		seg, err = ReadWAV(file, l.options.Channel)
	default:
		err = fmt.Errorf("unsupported segment format: %s", format)
	}
	if err != nil {
		return nil, common.NewAnalysisError(common.KindDataUnavailable, "load",
			fmt.Sprintf("cannot parse %s segment %s", format, filepath.Base(path)), err)
	}

	if l.options.Start != 0 {
		seg.Start = l.options.Start
	}

	if err := seg.Validate(); err != nil {
		return nil, common.NewAnalysisError(common.KindDataUnavailable, "load", "invalid segment", err)
	}

	l.logger.Debug("Loaded strain segment", logging.Fields{
		"path":        path,
		"format":      format,
		"samples":     seg.Len(),
		"sample_rate": seg.SampleRate,
		"start":       seg.Start,
	})

	return seg, nil
}

// ReadGWOSC parses the GWOSC ASCII format: '#' header lines declaring the sampling
// rate and starting GPS time, followed by one strain value per line
func ReadGWOSC(r io.Reader, fallbackRate float64) (*common.Segment, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	sampleRate := fallbackRate
	start := 0.0
	samples := make([]float64, 0, 4096)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") || strings.HasPrefix(text, "%") {
			if m := sampleRatePattern.FindStringSubmatch(text); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					sampleRate = v
				}
			}
			if m := startGPSPattern.FindStringSubmatch(text); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					start = v
				}
			}
			continue
		}

		// a time column may precede the strain value
		fields := strings.Fields(text)
		v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		samples = append(samples, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read segment: %w", err)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sampling rate not declared in header")
	}

	return &common.Segment{Samples: samples, SampleRate: sampleRate, Start: start}, nil
}

// ReadCSV parses "time,strain" rows. The sampling rate is derived from the time column
// and the first time value becomes the segment origin.
func ReadCSV(r io.Reader) (*common.Segment, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}

	times := make([]float64, 0, len(records))
	samples := make([]float64, 0, len(records))
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, fmt.Errorf("row %d: expected time,strain", i+1)
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			if i == 0 {
				// header row
				continue
			}
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		times = append(times, t)
		samples = append(samples, v)
	}

	if len(times) < 2 {
		return nil, fmt.Errorf("csv segment needs at least 2 rows, got %d", len(times))
	}

	dt := (times[len(times)-1] - times[0]) / float64(len(times)-1)
	if !(dt > 0) {
		return nil, fmt.Errorf("time column must be increasing")
	}

	// round to the nearest 1/1000 Hz to absorb float noise in the time column
	sampleRate := math.Round(1/dt*1000) / 1000

	return &common.Segment{Samples: samples, SampleRate: sampleRate, Start: times[0]}, nil
}

type jsonSegment struct {
	SampleRate float64   `json:"sample_rate"`
	Start      float64   `json:"start"`
	Samples    []float64 `json:"samples"`
}

// ReadJSON parses {"sample_rate": .., "start": .., "samples": [..]}
func ReadJSON(r io.Reader) (*common.Segment, error) {
	var js jsonSegment
	if err := json.NewDecoder(r).Decode(&js); err != nil {
		return nil, fmt.Errorf("failed to decode json segment: %w", err)
	}
	return &common.Segment{Samples: js.Samples, SampleRate: js.SampleRate, Start: js.Start}, nil
}

// ReadWAV decodes one channel of a PCM WAV file normalized to [-1, 1]
func ReadWAV(r io.ReadSeeker, channel int) (*common.Segment, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}

	samples, err := channelSamples(buf, channel, int(decoder.BitDepth))
	if err != nil {
		return nil, err
	}

	return &common.Segment{Samples: samples, SampleRate: float64(decoder.SampleRate)}, nil
}

// channelSamples de-interleaves one channel of an int buffer and converts it to float64
func channelSamples(buf *audio.IntBuffer, channel, bitDepth int) ([]float64, error) {
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("empty PCM buffer")
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	if channel < 0 || channel >= channels {
		return nil, fmt.Errorf("channel %d out of range (file has %d)", channel, channels)
	}
	if bitDepth <= 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}

	maxVal := float64(int64(1) << uint(bitDepth-1))
	n := len(buf.Data) / channels
	samples := make([]float64, n)
	for i := range n {
		samples[i] = float64(buf.Data[i*channels+channel]) / maxVal
	}
	return samples, nil
}

// WriteJSON stores a segment in the JSON segment format
func WriteJSON(w io.Writer, seg *common.Segment) error {
	encoder := json.NewEncoder(w)
	return encoder.Encode(jsonSegment{
		SampleRate: seg.SampleRate,
		Start:      seg.Start,
		Samples:    seg.Samples,
	})
}
