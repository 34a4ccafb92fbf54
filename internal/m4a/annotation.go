package m4a

import "io"

// parseAnnotation handles a standard iTunes metadata atom inside `ilst`
// (e.g. ©nam, ©ART, aART, covr, ...): a container wrapping exactly one
// `data` child. Mirrors mp4BoxParseAppleAnnotation for the common case.
func (f *File) parseAnnotation(r io.ReadSeeker, typ boxType, bodySize int64, handler MetadataHandler) (bool, error) {
	return f.scanAnnotationChildren(r, bodySize, typ, false, handler)
}

// parseAppleAnnotationList handles the "----" free-form annotation, itself
// a container of mean/name/data boxes. Per m4aFileReadMetadataContent, each
// child of a "----" box is reported under its own inner box type (mean,
// name, data), not under "----" itself, unlike the single-data-child case
// above where the outer annotation type is reported.
func (f *File) parseAppleAnnotationList(r io.ReadSeeker, bodySize int64, handler MetadataHandler) (bool, error) {
	return f.scanAnnotationChildren(r, bodySize, typeAppleList, true, handler)
}

// scanAnnotationChildren walks bodySize bytes of child boxes inside an
// annotation atom. A `data` child is always parsed and forwarded, under
// reportAs (the outer annotation type) by default. When reportInnerType is
// set (the "----" free-form case), `mean` and `name` children are also
// parsed and forwarded, and every forwarded child (`data` included) is
// reported under its own box type rather than reportAs. Anything else is
// skipped, matching the reference's tolerant walk.
func (f *File) scanAnnotationChildren(r io.ReadSeeker, bodySize int64, reportAs boxType, reportInnerType bool, handler MetadataHandler) (bool, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, f.errorf("cannot determine annotation offset: %v", err)
	}
	limit := start + bodySize

	for {
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return false, f.errorf("cannot determine annotation child offset: %v", err)
		}
		if pos >= limit {
			break
		}

		var header [8]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return false, f.errorf("cannot read annotation child header: %v", err)
		}
		size := int64(beUint32(header[0:4]))
		var typ boxType
		copy(typ[:], header[4:8])
		if size < 8 {
			return false, f.errorf("annotation child %q declares impossible size %d", typ, size)
		}
		bodyEnd := pos + size

		switch {
		case typ == typeData:
			payload, kind, err := f.readAppleData(r, size-8)
			if err != nil {
				return false, err
			}
			if handler != nil {
				if reportInnerType {
					handler(typ, payload, kind)
				} else {
					handler(reportAs, payload, kind)
				}
			}
		case reportInnerType && (typ == typeMean || typ == typeName):
			payload, kind, err := f.readAppleMeanOrName(r, size-8)
			if err != nil {
				return false, err
			}
			if handler != nil {
				handler(typ, payload, kind)
			}
		default:
			// unrecognized child: skip, matching the reference's tolerant
			// walk of annotation boxes.
			if _, err := r.Seek(bodyEnd, io.SeekStart); err != nil {
				return false, f.errorf("cannot skip annotation child %q: %v", typ, err)
			}
			continue
		}

		if _, err := r.Seek(bodyEnd, io.SeekStart); err != nil {
			return false, f.errorf("cannot seek past annotation child %q: %v", typ, err)
		}
	}

	return true, nil
}

// readAppleData reads a `data` box body: version(1)+flags(3), where flags'
// low 5 bits are the metadata kind, then a 4-byte reserved field, then the
// raw value — exactly mp4BoxParseAppleData's layout for METADATA_DATA_TYPE.
func (f *File) readAppleData(r io.ReadSeeker, bodySize int64) ([]byte, MetadataType, error) {
	if bodySize < 8 {
		return nil, 0, f.errorf("data box too small (%d bytes)", bodySize)
	}
	_, flags, err := readVersionAndFlags(r)
	if err != nil {
		return nil, 0, f.errorf("cannot read data box version/flags: %v", err)
	}
	kind := MetadataType(flags & 0x1F)

	var reserved [4]byte
	if _, err := io.ReadFull(r, reserved[:]); err != nil {
		return nil, 0, f.errorf("cannot read data box reserved field: %v", err)
	}

	valueSize := bodySize - 8
	value := make([]byte, valueSize)
	if valueSize > 0 {
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, 0, f.errorf("cannot read data box value (%d bytes): %v", valueSize, err)
		}
	}
	return value, kind, nil
}

// readAppleMeanOrName reads a `mean` or `name` box body: version(1)+flags(3)
// same as `data`, but with no 4-byte reserved field — mp4BoxParseAppleData
// only skips those 4 bytes for METADATA_DATA_TYPE, not for mean/name.
func (f *File) readAppleMeanOrName(r io.ReadSeeker, bodySize int64) ([]byte, MetadataType, error) {
	if bodySize < 4 {
		return nil, 0, f.errorf("mean/name box too small (%d bytes)", bodySize)
	}
	_, flags, err := readVersionAndFlags(r)
	if err != nil {
		return nil, 0, f.errorf("cannot read mean/name box version/flags: %v", err)
	}
	kind := MetadataType(flags & 0x1F)

	valueSize := bodySize - 4
	value := make([]byte, valueSize)
	if valueSize > 0 {
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, 0, f.errorf("cannot read mean/name box value (%d bytes): %v", valueSize, err)
		}
	}
	return value, kind, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
