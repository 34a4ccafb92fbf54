package m4a

import (
	"encoding/binary"
	"errors"
	"io"
)

// Parse walks the whole file from its current position (offset 0, right
// after Open), then repositions the data/size cursors for sample iteration.
// handler may be nil, in which case iTunes annotations are silently skipped
// (matching "otherwise skip" in the reference when no metadataHandler was
// registered).
func (f *File) Parse(handler MetadataHandler) error {
	for {
		consumed, err := f.parseBox(f.dataStream, f.totalSize, handler)
		if err != nil {
			return err
		}
		if !consumed {
			break // clean EOF while reading a length prefix: normal termination
		}
	}

	if f.dataOffset == unusedOffset || f.sizeOffset == unusedOffset {
		return f.errorf("m4a file has no mdat/stsz box; cannot locate sample data")
	}

	if _, err := f.dataStream.Seek(f.dataOffset, io.SeekStart); err != nil {
		return f.errorf("cannot seek data cursor to offset %d: %v", f.dataOffset, err)
	}
	if _, err := f.sizeStream.Seek(f.sizeOffset, io.SeekStart); err != nil {
		return f.errorf("cannot seek size cursor to offset %d: %v", f.sizeOffset, err)
	}

	return nil
}

// parseBox reads one box header from r and dispatches it. It returns
// consumed=false without an error when the current offset has already
// reached limit, or on a clean EOF while reading the 8-byte header
// (tolerating 1-3 superfluous trailing bytes, per the reference).
func (f *File) parseBox(r io.ReadSeeker, limit int64, handler MetadataHandler) (consumed bool, err error) {
	startPos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, f.errorf("cannot determine current offset: %v", err)
	}
	if startPos >= limit {
		return false, nil
	}

	var header [8]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return false, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// 1-3 trailing bytes after the last full box: tolerated.
			return false, nil
		}
		return false, f.errorf("cannot read box header: %v", err)
	}

	size := int64(binary.BigEndian.Uint32(header[0:4]))
	var typ boxType
	copy(typ[:], header[4:8])

	if size < 8 {
		return false, f.errorf("box %q declares impossible size %d", typ, size)
	}
	bodySize := size - 8
	bodyEnd := startPos + size

	consumedBody, err := f.dispatch(r, typ, bodySize, handler)
	if err != nil {
		return false, err
	}

	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, f.errorf("cannot determine offset after box %q: %v", typ, err)
	}

	bodyStart := startPos + 8
	consumedBytes := pos - bodyStart
	if pos < bodyEnd {
		f.warnf("box %q consumed %d of %d declared bytes; force-skipping remainder", typ, consumedBytes, bodySize)
		if _, err := r.Seek(bodyEnd, io.SeekStart); err != nil {
			return false, f.errorf("cannot force-skip remainder of box %q: %v", typ, err)
		}
	} else if pos > bodyEnd {
		f.warnf("box %q consumed %d bytes, more than its declared %d; continuing", typ, consumedBytes, bodySize)
	}
	_ = consumedBody

	return true, nil
}

// dispatch routes one box body to its handler per the reference's
// mp4BoxParserTable. Container boxes recurse; leaf boxes parse their fixed
// layout; unknown boxes are force-skipped with a warning.
func (f *File) dispatch(r io.ReadSeeker, typ boxType, bodySize int64, handler MetadataHandler) (bool, error) {
	switch {
	case containerTypes[typ]:
		return f.parseContainer(r, bodySize, handler)
	case typ == typeIlst:
		return f.parseContainer(r, bodySize, handler) // ilst is itself a container of annotation items
	case typ == typeFtyp:
		return f.parseFileType(r, bodySize)
	case typ == typeMvhd, typ == typeMdhd:
		return f.parseMediaHeader(r, bodySize)
	case typ == typeTkhd:
		return f.parseTrackHeader(r, bodySize)
	case typ == typeStsd:
		return f.parseSampleDescriptions(r, bodySize, handler)
	case typ == typeAlac:
		return f.parseSampleDescription(r, bodySize, EncodingALAC)
	case typ == typeMp4a:
		return f.parseSampleDescription(r, bodySize, EncodingAAC)
	case typ == typeStts:
		return f.parseSampleTimes(r, bodySize)
	case typ == typeStsz:
		return f.parseSampleSizes(r, bodySize)
	case typ == typeMdat:
		return f.parseMediaData(r, bodySize)
	case typ == typeMeta:
		return f.parseFullBoxContainer(r, bodySize, handler)
	case typ == typeAppleList:
		return f.parseAppleAnnotationList(r, bodySize, handler)
	case skippedTypes[typ]:
		return f.skipBytes(r, bodySize)
	case annotationTypes[typ]:
		return f.parseAnnotation(r, typ, bodySize, handler)
	default:
		f.warnf("unknown box %q; skipping %d bytes", typ, bodySize)
		return f.skipBytes(r, bodySize)
	}
}

func (f *File) skipBytes(r io.ReadSeeker, n int64) (bool, error) {
	if n == 0 {
		return true, nil
	}
	if _, err := r.Seek(n, io.SeekCurrent); err != nil {
		return false, f.errorf("cannot skip %d bytes: %v", n, err)
	}
	return true, nil
}

func (f *File) parseContainer(r io.ReadSeeker, bodySize int64, handler MetadataHandler) (bool, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, f.errorf("cannot determine container offset: %v", err)
	}
	limit := start + bodySize
	for {
		consumed, err := f.parseBox(r, limit, handler)
		if err != nil {
			return false, err
		}
		if !consumed {
			break
		}
	}
	return true, nil
}

// parseFullBoxContainer handles boxes like `meta` that carry a
// version+flags preamble before their (container) body.
func (f *File) parseFullBoxContainer(r io.ReadSeeker, bodySize int64, handler MetadataHandler) (bool, error) {
	if bodySize < 4 {
		return false, f.errorf("meta box too small (%d bytes)", bodySize)
	}
	var vf [4]byte
	if _, err := io.ReadFull(r, vf[:]); err != nil {
		return false, f.errorf("cannot read meta version/flags: %v", err)
	}
	return f.parseContainer(r, bodySize-4, handler)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
