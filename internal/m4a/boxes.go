package m4a

import (
	"encoding/binary"
	"io"
)

// readVersionAndFlags reads the 1-byte version + 3-byte flags preamble
// common to "full boxes", returning the version and the 24-bit flags as
// separate values.
func readVersionAndFlags(r io.Reader) (version uint8, flags uint32, err error) {
	var b [4]byte
	if _, err = io.ReadFull(r, b[:]); err != nil {
		return 0, 0, err
	}
	version = b[0]
	flags = binary.BigEndian.Uint32([]byte{0, b[1], b[2], b[3]})
	return version, flags, nil
}

func (f *File) parseFileType(r io.ReadSeeker, bodySize int64) (bool, error) {
	if bodySize < 8 {
		return false, f.errorf("ftyp box too small (%d bytes)", bodySize)
	}
	var brand [4]byte
	if _, err := io.ReadFull(r, brand[:]); err != nil {
		return false, f.errorf("cannot read ftyp major brand: %v", err)
	}
	version, err := readUint32(r)
	if err != nil {
		return false, f.errorf("cannot read ftyp minor version: %v", err)
	}
	if string(brand[:]) != majorBrandM4A {
		f.warnf("ftyp major brand is %q, expected %q", brand, majorBrandM4A)
	}
	if version != 0 {
		f.warnf("ftyp minor version is %d, expected 0", version)
	}
	return f.skipBytes(r, bodySize-8)
}

// setTimescale / setDuration mirror m4aFileSetTimescale / SetTimeValue:
// zero and the all-ones sentinel mean "not yet known" and are ignored;
// a genuine conflicting non-zero value is a warning, not a failure.
func (f *File) setTimescale(v uint32) {
	if v == 0 || v == 0xFFFFFFFF {
		return
	}
	if f.timescale != 0 && f.timescale != v {
		f.warnf("conflicting timescale values: had %d, saw %d", f.timescale, v)
		return
	}
	f.timescale = v
}

func (f *File) setDuration(v uint64) {
	if v == 0 || v == 0xFFFFFFFF {
		return
	}
	if f.duration != 0 && f.duration != v {
		f.warnf("conflicting duration values: had %d, saw %d", f.duration, v)
		return
	}
	f.duration = v
}

// parseMediaHeader handles both mvhd and mdhd: version 0 has 32-bit
// timescale/duration, version 1 has 64-bit fields of which only the lower
// 32 bits are supported (upper 32 must be 0 or all-ones, meaning
// "unknown"), exactly matching m4aFileReadDuration.
func (f *File) parseMediaHeader(r io.ReadSeeker, bodySize int64) (bool, error) {
	version, _, err := readVersionAndFlags(r)
	if err != nil {
		return false, f.errorf("cannot read media header version/flags: %v", err)
	}
	consumed := int64(4)

	var creationTime, modificationTime uint64
	var timescale uint32
	var duration uint64

	if version == 1 {
		if creationTime, err = readUint64(r); err != nil {
			return false, f.errorf("cannot read 64-bit creation time: %v", err)
		}
		if modificationTime, err = readUint64(r); err != nil {
			return false, f.errorf("cannot read 64-bit modification time: %v", err)
		}
		if timescale, err = readUint32(r); err != nil {
			return false, f.errorf("cannot read timescale: %v", err)
		}
		upper, err := readUint32(r)
		if err != nil {
			return false, f.errorf("cannot read duration upper 32 bits: %v", err)
		}
		lower, err := readUint32(r)
		if err != nil {
			return false, f.errorf("cannot read duration lower 32 bits: %v", err)
		}
		if upper != 0 && upper != 0xFFFFFFFF {
			return false, f.errorf("unsupported 64-bit duration (upper 32 bits = 0x%08x)", upper)
		}
		if upper == 0xFFFFFFFF && lower != 0xFFFFFFFF {
			return false, f.errorf("duration marked unknown (upper=0xffffffff) but lower bits are not 0xffffffff")
		}
		duration = uint64(lower)
		consumed += 8 + 8 + 4 + 4 + 4
	} else {
		if version != 0 {
			f.warnf("media header has unexpected version %d; treating as version 0", version)
		}
		ct, err := readUint32(r)
		if err != nil {
			return false, f.errorf("cannot read creation time: %v", err)
		}
		mt, err := readUint32(r)
		if err != nil {
			return false, f.errorf("cannot read modification time: %v", err)
		}
		if timescale, err = readUint32(r); err != nil {
			return false, f.errorf("cannot read timescale: %v", err)
		}
		d, err := readUint32(r)
		if err != nil {
			return false, f.errorf("cannot read duration: %v", err)
		}
		creationTime, modificationTime, duration = uint64(ct), uint64(mt), uint64(d)
		consumed += 4 + 4 + 4 + 4
	}
	_ = creationTime
	_ = modificationTime

	f.setTimescale(timescale)
	f.setDuration(duration)

	return f.skipBytes(r, bodySize-consumed)
}

// parseTrackHeader extracts tkhd's undocumented extra duration field
// (mirroring the reference's comment that tkhd carries a duplicate,
// largely-undocumented duration) without treating the rest of the box as
// meaningful; everything else is force-skipped.
func (f *File) parseTrackHeader(r io.ReadSeeker, bodySize int64) (bool, error) {
	version, _, err := readVersionAndFlags(r)
	if err != nil {
		return false, f.errorf("cannot read track header version/flags: %v", err)
	}
	consumed := int64(4)

	if version == 1 {
		if _, err := readUint64(r); err != nil { // creation time
			return false, f.errorf("cannot read tkhd creation time: %v", err)
		}
		if _, err := readUint64(r); err != nil { // modification time
			return false, f.errorf("cannot read tkhd modification time: %v", err)
		}
		if _, err := readUint32(r); err != nil { // track id
			return false, f.errorf("cannot read tkhd track id: %v", err)
		}
		if _, err := readUint32(r); err != nil { // reserved
			return false, f.errorf("cannot read tkhd reserved: %v", err)
		}
		d, err := readUint64(r)
		if err != nil {
			return false, f.errorf("cannot read tkhd duration: %v", err)
		}
		f.setDuration(d)
		consumed += 8 + 8 + 4 + 4 + 8
	} else {
		if _, err := readUint32(r); err != nil {
			return false, f.errorf("cannot read tkhd creation time: %v", err)
		}
		if _, err := readUint32(r); err != nil {
			return false, f.errorf("cannot read tkhd modification time: %v", err)
		}
		if _, err := readUint32(r); err != nil {
			return false, f.errorf("cannot read tkhd track id: %v", err)
		}
		if _, err := readUint32(r); err != nil {
			return false, f.errorf("cannot read tkhd reserved: %v", err)
		}
		d, err := readUint32(r)
		if err != nil {
			return false, f.errorf("cannot read tkhd duration: %v", err)
		}
		f.setDuration(uint64(d))
		consumed += 4 + 4 + 4 + 4 + 4
	}

	return f.skipBytes(r, bodySize-consumed)
}

func (f *File) parseSampleDescriptions(r io.ReadSeeker, bodySize int64, handler MetadataHandler) (bool, error) {
	if bodySize < 8 {
		return false, f.errorf("stsd box too small (%d bytes)", bodySize)
	}
	if _, _, err := readVersionAndFlags(r); err != nil {
		return false, f.errorf("cannot read stsd version/flags: %v", err)
	}
	if _, err := readUint32(r); err != nil { // entry count: the children's own box headers are authoritative
		return false, f.errorf("cannot read stsd entry count: %v", err)
	}
	return f.parseContainer(r, bodySize-8, handler)
}

// parseSampleDescription handles both `alac` and `mp4a`. The reference's
// AAC branch unconditionally sets ParsedWithWarnings even without a
// conflict — a copy-paste bug this rewrite fixes per SPEC_FULL.md §4.2 and
// §9 Open Question 4: warn only on a genuine ALAC/AAC conflict.
func (f *File) parseSampleDescription(r io.ReadSeeker, bodySize int64, seen Encoding) (bool, error) {
	if f.encoding != EncodingUnknown && f.encoding != seen {
		f.warnf("conflicting sample description encodings: had %s, saw %s", f.encoding, seen)
	}
	f.encoding = seen
	return f.skipBytes(r, bodySize)
}

// parseSampleTimes sums frame_count * sample_duration across every stts
// entry, exactly as mp4BoxParseSampleTimes does, and folds the result in via
// setDuration so it still loses to a more authoritative mdhd/tkhd value on
// conflict (the reference keeps whichever was set first and warns).
func (f *File) parseSampleTimes(r io.ReadSeeker, bodySize int64) (bool, error) {
	if bodySize < 8 {
		return false, f.errorf("stts box too small (%d bytes)", bodySize)
	}
	if _, _, err := readVersionAndFlags(r); err != nil {
		return false, f.errorf("cannot read stts version/flags: %v", err)
	}
	entryCount, err := readUint32(r)
	if err != nil {
		return false, f.errorf("cannot read stts entry count: %v", err)
	}

	var total uint64
	for i := uint32(0); i < entryCount; i++ {
		count, err := readUint32(r)
		if err != nil {
			return false, f.errorf("cannot read stts entry %d count: %v", i, err)
		}
		duration, err := readUint32(r)
		if err != nil {
			return false, f.errorf("cannot read stts entry %d duration: %v", i, err)
		}
		total += uint64(count) * uint64(duration)
	}

	f.setDuration(total)

	return f.skipBytes(r, bodySize-8-int64(entryCount)*8)
}

// parseSampleSizes reads the stsz table: fixed-size field must be 0 (every
// sample has an explicit length), then samplesCount 32-bit sizes, tracking
// the running total and the maximum, and remembering the table's byte
// offset as sizeOffset for later random access.
func (f *File) parseSampleSizes(r io.ReadSeeker, bodySize int64) (bool, error) {
	if bodySize < 12 {
		return false, f.errorf("stsz box too small (%d bytes)", bodySize)
	}
	if _, _, err := readVersionAndFlags(r); err != nil {
		return false, f.errorf("cannot read stsz version/flags: %v", err)
	}
	fixedSize, err := readUint32(r)
	if err != nil {
		return false, f.errorf("cannot read stsz fixed sample size: %v", err)
	}
	if fixedSize != 0 {
		return false, f.errorf("stsz declares a fixed sample size (%d); only explicit per-sample sizes are supported", fixedSize)
	}
	count, err := readUint32(r)
	if err != nil {
		return false, f.errorf("cannot read stsz sample count: %v", err)
	}

	offset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, f.errorf("cannot determine stsz table offset: %v", err)
	}
	f.sizeOffset = offset
	f.samplesCount = count

	var total, largest uint32
	for i := uint32(0); i < count; i++ {
		size, err := readUint32(r)
		if err != nil {
			return false, f.errorf("cannot read stsz entry %d: %v", i, err)
		}
		total += size
		if size > largest {
			largest = size
		}
	}
	f.totalSampleSize = total
	f.largestSampleSize = largest

	return f.skipBytes(r, bodySize-12-int64(count)*4)
}

// parseMediaData records the mdat payload's start offset and cross-checks
// its length against the stsz-derived total, keeping the smaller of the two
// with a warning on mismatch, exactly as setTotalSampleSize does.
func (f *File) parseMediaData(r io.ReadSeeker, bodySize int64) (bool, error) {
	offset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, f.errorf("cannot determine mdat offset: %v", err)
	}
	f.dataOffset = offset

	if f.totalSampleSize != 0 && uint64(bodySize) != uint64(f.totalSampleSize) {
		f.warnf("mdat body length (%d) does not match sum of stsz sizes (%d); keeping the smaller", bodySize, f.totalSampleSize)
		if uint64(bodySize) < uint64(f.totalSampleSize) {
			f.totalSampleSize = uint32(bodySize)
		}
	} else if f.totalSampleSize == 0 {
		f.totalSampleSize = uint32(bodySize)
	}

	return f.skipBytes(r, bodySize)
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
