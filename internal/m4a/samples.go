package m4a

import (
	"io"
	"time"
)

// SetSampleOffset seeks both cursors so that the next NextSample call
// returns the sample nearest to t, mirroring m4aFileSetSampleOffset:
// sampleOffset = timescale * t.Seconds() / defaultFramesPerPacket, rejecting
// (returning false) an offset at or past the end of the file, then walking
// forward that many samples by re-reading their sizes from the size table.
func (f *File) SetSampleOffset(t time.Duration) bool {
	sampleOffset := uint64(f.timescale) * uint64(t/time.Second) / defaultFramesPerPacket
	if sampleOffset >= uint64(f.samplesCount) {
		return false
	}

	if _, err := f.sizeStream.Seek(f.sizeOffset, io.SeekStart); err != nil {
		return false
	}
	if _, err := f.dataStream.Seek(f.dataOffset, io.SeekStart); err != nil {
		return false
	}

	for i := uint64(0); i < sampleOffset; i++ {
		size, err := readUint32(f.sizeStream)
		if err != nil {
			return false
		}
		if _, err := f.dataStream.Seek(int64(size), io.SeekCurrent); err != nil {
			return false
		}
	}

	return true
}

// CurrentSampleIndex reports how many samples have been consumed since the
// last SetSampleOffset/post-parse reset, derived from the size cursor's
// position the same way m4aFileGetCurrentSampleIndex does.
func (f *File) CurrentSampleIndex() (int64, error) {
	pos, err := f.sizeStream.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return (pos - f.sizeOffset) / 4, nil
}

// HasMoreSamples reports whether the size cursor has not yet reached
// samplesCount entries.
func (f *File) HasMoreSamples() bool {
	idx, err := f.CurrentSampleIndex()
	if err != nil {
		return false
	}
	return idx < int64(f.samplesCount)
}

// NextSample reads the next 32-bit size from the size cursor, then that
// many bytes from the data cursor into buf, returning the sample size. buf
// must be at least LargestSampleSize bytes, matching the reference's
// single-buffer-sized-to-the-largest-sample contract.
func (f *File) NextSample(buf []byte) (int, error) {
	size, err := readUint32(f.sizeStream)
	if err != nil {
		return 0, f.errorf("cannot read next sample size: %v", err)
	}
	if uint32(len(buf)) < size {
		return 0, f.errorf("sample buffer too small: need %d bytes, have %d", size, len(buf))
	}
	if _, err := io.ReadFull(f.dataStream, buf[:size]); err != nil {
		return 0, f.errorf("cannot read sample body (%d bytes): %v", size, err)
	}
	return int(size), nil
}
