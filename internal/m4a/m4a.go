// Package m4a implements a recursive-descent parser for M4A (ISO-BMFF)
// audio containers, grounded on the reference client's m4afile.c: it walks
// nested boxes, extracts timescale/duration/sample-size information, locates
// the raw sample payload, and tolerates unknown or malformed boxes instead
// of aborting.
package m4a

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/erikonbike/lightplay/internal/logging"
)

// Encoding is the sample description codec detected in stsd.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingALAC
	EncodingAAC
)

func (e Encoding) String() string {
	switch e {
	case EncodingALAC:
		return "ALAC"
	case EncodingAAC:
		return "AAC"
	default:
		return "Unknown"
	}
}

// Status is the outcome of a parse, mirroring M4AFILE_OK / _PARSED_WITH_WARNINGS / _ERROR.
type Status int

const (
	StatusOK Status = iota
	StatusParsedWithWarnings
	StatusError
)

// ErrParse wraps every fatal parse failure.
var ErrParse = errors.New("m4a: parse error")

// MetadataType is the iTunes annotation value kind, keyed off the data box's
// low 5 flag bits.
type MetadataType int

const (
	MetadataBinary MetadataType = 0x00
	MetadataUTF8   MetadataType = 0x01
	MetadataBool   MetadataType = 0x15
	MetadataImage  MetadataType = 0x0D
)

// MetadataHandler is invoked in document order once per annotation value
// box: the `data` child of a standard annotation, or each `mean`, `name` and
// `data` child of a "----" annotation, as m4aFileReadMetadataContent invokes the
// registered metadataHandler. Passed as a parameter to Parse rather than
// mutated onto the File, per the reference's module-global-state note.
type MetadataHandler func(boxType [4]byte, payload []byte, kind MetadataType)

// unusedOffset mirrors UNUSED_OFFSET (0xffffffff) from the reference: a
// sentinel meaning "not yet located".
const unusedOffset = -1

// defaultFramesPerPacket mirrors DEFAULT_FRAMES_PER_PACKET (4096), the
// ALAC frame size used to convert a wall-clock seek offset into a sample
// index.
const defaultFramesPerPacket = 4096

// File is the parsed descriptor: created by Parse, read-only afterwards,
// with two independent cursors (size table, sample data) so the audio pump
// can read sizes and bodies without fighting over a single seek position.
type File struct {
	dataStream *os.File // cursor over mdat sample bodies
	sizeStream *os.File // cursor over the stsz size table

	dataOffset int64
	sizeOffset int64
	totalSize  int64

	samplesCount      uint32
	totalSampleSize   uint32
	largestSampleSize uint32

	timescale uint32
	duration  uint64 // in timescale units

	encoding Encoding
	status   Status
}

// Open opens the backing file twice (one handle per cursor, matching
// m4aFileOpen's two independent FILE* streams on the same path) and records
// its total size.
func Open(path string) (*File, error) {
	dataStream, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrParse, path, err)
	}
	sizeStream, err := os.Open(path)
	if err != nil {
		dataStream.Close()
		return nil, fmt.Errorf("%w: open %q: %v", ErrParse, path, err)
	}

	info, err := dataStream.Stat()
	if err != nil {
		dataStream.Close()
		sizeStream.Close()
		return nil, fmt.Errorf("%w: stat %q: %v", ErrParse, path, err)
	}

	return &File{
		dataStream: dataStream,
		sizeStream: sizeStream,
		dataOffset: unusedOffset,
		sizeOffset: unusedOffset,
		totalSize:  info.Size(),
		encoding:   EncodingUnknown,
		status:     StatusOK,
	}, nil
}

// Close releases both file handles.
func (f *File) Close() error {
	err1 := f.dataStream.Close()
	err2 := f.sizeStream.Close()
	return errors.Join(err1, err2)
}

func (f *File) warnf(format string, args ...interface{}) {
	f.status = maxStatus(f.status, StatusParsedWithWarnings)
	logging.For("m4a").Warn().Msgf(format, args...)
}

func (f *File) errorf(format string, args ...interface{}) error {
	f.status = StatusError
	logging.For("m4a").Error().Msgf(format, args...)
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrParse}, args...)...)
}

func maxStatus(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// HasParsedWithWarnings reports whether Parse completed but recorded at
// least one recoverable anomaly.
func (f *File) HasParsedWithWarnings() bool { return f.status == StatusParsedWithWarnings }

// Status returns the final parse outcome.
func (f *File) Status() Status { return f.status }

// Encoding returns the detected sample codec.
func (f *File) Encoding() Encoding { return f.encoding }

// Timescale returns ticks per second for duration values.
func (f *File) Timescale() uint32 { return f.timescale }

// Duration returns the media duration in timescale units.
func (f *File) Duration() uint64 { return f.duration }

// SamplesCount returns the number of entries in the stsz table.
func (f *File) SamplesCount() uint32 { return f.samplesCount }

// LargestSampleSize returns the maximum individual sample size, used to size
// the audio pump's frame buffer.
func (f *File) LargestSampleSize() uint32 { return f.largestSampleSize }

// Length converts Duration()/Timescale() into a time.Duration, mirroring
// m4aFileGetLength's conversion into a struct timespec.
func (f *File) Length() time.Duration {
	if f.timescale == 0 {
		return 0
	}
	return time.Duration(f.duration) * time.Second / time.Duration(f.timescale)
}
