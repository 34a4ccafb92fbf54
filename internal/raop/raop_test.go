package raop

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erikonbike/lightplay/internal/m4a"
	"github.com/erikonbike/lightplay/internal/raopsim"
	"github.com/erikonbike/lightplay/internal/rtspsession"
	"github.com/erikonbike/lightplay/internal/transport"
)

func TestInternalVolumeMapping(t *testing.T) {
	require.Equal(t, volumeInternalMuted, internalVolume(0))
	require.Equal(t, volumeInternalMuted, internalVolume(0.005))
	require.Equal(t, -15.0, internalVolume(15))
	require.Equal(t, 0.0, internalVolume(30))
}

func TestWriteFrameHeader(t *testing.T) {
	frame := make([]byte, 16+5)
	copy(frame[16:], []byte{1, 2, 3, 4, 5})
	writeFrameHeader(frame, 5)

	require.Equal(t, byte(0x24), frame[0])
	require.Equal(t, byte(0x00), frame[1])
	require.Equal(t, uint16(17), uint16(frame[2])<<8|uint16(frame[3])) // sampleSize+12
	require.Equal(t, byte(0xf0), frame[4])
	require.Equal(t, byte(0xff), frame[5])
	for _, b := range frame[6:16] {
		require.Equal(t, byte(0), b)
	}
	require.Equal(t, []byte{1, 2, 3, 4, 5}, frame[16:])
}

func TestPlayRunsFullHandshakeAndStreamsAudio(t *testing.T) {
	sim, err := raopsim.Start(raopsim.Cooperative)
	require.NoError(t, err)
	defer sim.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	host, port, err := net.SplitHostPort(sim.ControlAddr)
	require.NoError(t, err)
	controlTr, err := transport.Open(ctx, host, port, transport.TCP)
	require.NoError(t, err)
	defer controlTr.Close()

	rs := rtspsession.New(controlTr, "iTunes", "geheim")

	file := fakeM4AFile(t)
	defer file.Close()

	s := New(rs, file)

	dialAudio := func(ctx context.Context, _ int) (*transport.Transport, error) {
		h, p, err := net.SplitHostPort(sim.AudioAddr)
		require.NoError(t, err)
		return transport.Open(ctx, h, p, transport.TCP)
	}

	require.NoError(t, s.Play(ctx, dialAudio, 0))

	deadline := time.Now().Add(2 * time.Second)
	for sim.FramesReceived() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Greater(t, sim.FramesReceived(), uint64(0))

	require.NoError(t, s.Stop(ctx))
	require.Contains(t, sim.MethodsSeen(), "OPTIONS")
	require.Contains(t, sim.MethodsSeen(), "ANNOUNCE")
	require.Contains(t, sim.MethodsSeen(), "SETUP")
	require.Contains(t, sim.MethodsSeen(), "RECORD")
	require.Contains(t, sim.MethodsSeen(), "FLUSH")
	require.Contains(t, sim.MethodsSeen(), "TEARDOWN")
}

// fakeM4AFile builds a minimal valid ALAC M4A on disk (4 samples of 32
// bytes, timescale 44100) and parses it, just enough for the audio pump to
// have something to stream in TestPlayRunsFullHandshakeAndStreamsAudio.
func fakeM4AFile(t *testing.T) *m4a.File {
	t.Helper()

	const sampleCount = 4
	const sampleSize = 32

	box := func(typ string, body []byte) []byte {
		b := make([]byte, 8+len(body))
		binary.BigEndian.PutUint32(b[0:4], uint32(8+len(body)))
		copy(b[4:8], typ)
		copy(b[8:], body)
		return b
	}
	fullBox := func() []byte { return []byte{0, 0, 0, 0} }
	be32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		return b
	}

	mdhdBody := append(fullBox(), be32(0)...)
	mdhdBody = append(mdhdBody, be32(0)...)
	mdhdBody = append(mdhdBody, be32(44100)...)
	mdhdBody = append(mdhdBody, be32(sampleCount*4096)...)
	mdhd := box("mdhd", mdhdBody)

	alac := box("alac", make([]byte, 28))
	stsdBody := append(fullBox(), be32(1)...)
	stsdBody = append(stsdBody, alac...)
	stsd := box("stsd", stsdBody)

	sttsBody := append(fullBox(), be32(1)...)
	sttsBody = append(sttsBody, be32(sampleCount)...)
	sttsBody = append(sttsBody, be32(4096)...)
	stts := box("stts", sttsBody)

	stszBody := append(fullBox(), be32(0)...)
	stszBody = append(stszBody, be32(sampleCount)...)
	for i := 0; i < sampleCount; i++ {
		stszBody = append(stszBody, be32(sampleSize)...)
	}
	stsz := box("stsz", stszBody)

	stblBody := append(append([]byte{}, stsd...), stts...)
	stblBody = append(stblBody, stsz...)
	stbl := box("stbl", stblBody)
	minf := box("minf", stbl)
	mdia := box("mdia", append(append([]byte{}, mdhd...), minf...))

	tkhdBody := append(fullBox(), be32(0)...)
	tkhdBody = append(tkhdBody, be32(0)...)
	tkhdBody = append(tkhdBody, be32(1)...)
	tkhdBody = append(tkhdBody, be32(0)...)
	tkhdBody = append(tkhdBody, be32(sampleCount*4096)...)
	tkhd := box("tkhd", tkhdBody)
	trak := box("trak", append(append([]byte{}, tkhd...), mdia...))

	mvhdBody := append(fullBox(), be32(0)...)
	mvhdBody = append(mvhdBody, be32(0)...)
	mvhdBody = append(mvhdBody, be32(44100)...)
	mvhdBody = append(mvhdBody, be32(sampleCount*4096)...)
	mvhd := box("mvhd", mvhdBody)

	moov := box("moov", append(append([]byte{}, mvhd...), trak...))
	ftyp := box("ftyp", append([]byte("M4A "), be32(0)...))
	mdat := box("mdat", make([]byte, sampleCount*sampleSize))

	var data []byte
	data = append(data, ftyp...)
	data = append(data, moov...)
	data = append(data, mdat...)

	tmp, err := os.CreateTemp(t.TempDir(), "raop-test-*.m4a")
	require.NoError(t, err)
	_, err = tmp.Write(data)
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	f, err := m4a.Open(tmp.Name())
	require.NoError(t, err)
	require.NoError(t, f.Parse(nil))
	return f
}
