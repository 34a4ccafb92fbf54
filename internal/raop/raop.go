// Package raop drives a RAOP streaming session: the ANNOUNCE/SETUP/RECORD
// handshake over internal/rtspsession, the audio pump goroutine over the
// audio Transport, volume control, and progress reporting, grounded on the
// reference client's raopclient.c. The reference's pthread-based audio
// thread and directly-invoked SIGINT handler are replaced with a goroutine
// plus atomic.Bool/channel-close cooperative cancellation (see
// SPEC_FULL.md §5/§9).
package raop

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/erikonbike/lightplay/internal/logging"
	"github.com/erikonbike/lightplay/internal/m4a"
	"github.com/erikonbike/lightplay/internal/rtspsession"
	"github.com/erikonbike/lightplay/internal/rtspwire"
	"github.com/erikonbike/lightplay/internal/streamstats"
	"github.com/erikonbike/lightplay/internal/transport"
)

const (
	volumeDefault  = 15.0
	volumeMuted    = 0.0
	volumeMinValue = 0.01
	volumeMaxValue = 30.0
	volumeOffset   = -30.0
	volumeInternalMuted = -144.0

	// playingTimeLag is the fudge between sending the first audio frame and
	// audio actually emerging from the receiver, matching PLAYING_TIME_LAG.
	playingTimeLag = 2 * time.Second

	audioMessageHeaderSize = 16
)

// ErrSession wraps any raop-level failure that is not already an
// rtspsession.ErrProtocol/ErrAuth or transport.ErrIO.
var ErrSession = errors.New("raop: session error")

// Session orchestrates one playback of one M4A file to one receiver.
type Session struct {
	control *rtspsession.Session
	audio   *transport.Transport
	file    *m4a.File
	stats   *streamstats.Stats

	volume float64

	isSendingAudio  atomic.Bool
	audioWorkerDone chan struct{}

	playingTimeOffset atomic.Value // time.Time, written by pump(), read by Progress()
	startTime         time.Duration
}

// New wires a session around an already-connected control transport and the
// M4A file to be streamed; the audio transport is opened during Play, once
// SETUP has returned the receiver's audio port.
func New(control *rtspsession.Session, file *m4a.File) *Session {
	return &Session{
		control: control,
		file:    file,
		volume:  volumeDefault,
		stats:   streamstats.New(),
	}
}

// Play runs the full OPTIONS→ANNOUNCE→SETUP→RECORD→SET_PARAMETER handshake
// and spawns the audio pump, matching raopClientPlayM4AFile.
func (s *Session) Play(ctx context.Context, audioDialer func(ctx context.Context, port int) (*transport.Transport, error), startTime time.Duration) error {
	s.startTime = startTime

	if _, err := s.control.SendCommand(ctx, "OPTIONS", nil); err != nil {
		return err
	}
	if _, err := s.control.SendCommand(ctx, "ANNOUNCE", s.announceContentSupplier); err != nil {
		return err
	}
	if _, err := s.control.SendCommand(ctx, "SETUP", nil); err != nil {
		return err
	}

	audio, err := audioDialer(ctx, s.control.AudioPort)
	if err != nil {
		return fmt.Errorf("%w: cannot open audio connection: %v", ErrSession, err)
	}
	s.audio = audio

	if _, err := s.control.SendCommand(ctx, "RECORD", nil); err != nil {
		return err
	}
	if _, err := s.control.SendCommand(ctx, "SET_PARAMETER", s.volumeContentSupplier); err != nil {
		return err
	}

	return s.startPlaying()
}

// announceContentSupplier builds the SDP ANNOUNCE body per SPEC_FULL.md §4.7.
func (s *Session) announceContentSupplier(req *rtspwire.Request) {
	local := s.control.LocalIP()
	remote := s.control.RemoteIP()
	sdp := fmt.Sprintf(
		"v=0\r\n"+
			"o=iTunes 1 O IN IP4 %s\r\n"+
			"s=iTunes\r\n"+
			"c=IN IP4 %s\r\n"+
			"t=0 0\r\n"+
			"m=audio 0 RTP/AVP 96\r\n"+
			"a=rtpmap:96 AppleLossless\r\n"+
			"a=fmtp:96 4096 0 16 40 10 14 2 255 0 0 %d\r\n",
		local, remote, s.file.Timescale(),
	)
	req.SetBody([]byte(sdp), "application/sdp")
}

// volumeContentSupplier builds the "volume: <f>\r\n" SET_PARAMETER body.
func (s *Session) volumeContentSupplier(req *rtspwire.Request) {
	req.SetBody([]byte(fmt.Sprintf("volume: %.1f\r\n", internalVolume(s.volume))), "text/parameters")
}

// writeFrameHeader fills frame[:16] with the 16-byte TCP interleaved audio
// frame header for a sampleSize-byte payload, matching
// raopClientSendAudioMessages's header construction exactly (constant
// 0xF0/0xFF marker bytes, see SPEC_FULL.md §9 Open Question 2). frame must
// be at least 16+sampleSize bytes and the sample payload must already be
// present at frame[16:].
func writeFrameHeader(frame []byte, sampleSize int) {
	for i := range frame[:audioMessageHeaderSize] {
		frame[i] = 0
	}
	frame[0] = 0x24
	length := uint16(sampleSize + 12)
	frame[2] = byte(length >> 8)
	frame[3] = byte(length)
	frame[4] = 0xf0
	frame[5] = 0xff
}

func internalVolume(v float64) float64 {
	if v < volumeMinValue {
		return volumeInternalMuted
	}
	return v + volumeOffset
}

// startPlaying launches the audio pump goroutine, matching
// raopClientStartPlaying.
func (s *Session) startPlaying() error {
	s.isSendingAudio.Store(true)
	s.audioWorkerDone = make(chan struct{})
	go s.pump()
	return nil
}

// pump is the audio pump goroutine, matching raopClientSendAudio /
// raopClientSendAudioMessages / raopClientWaitForBufferedAudio.
func (s *Session) pump() {
	defer close(s.audioWorkerDone)
	// Exit cleanly on every path (error, EOF, or buffered-audio drain) so a
	// later SetVolume/Stop never sees a stale "still sending" flag.
	defer s.isSendingAudio.Store(false)
	logger := logging.For("raop")

	if !s.file.SetSampleOffset(s.startTime) {
		logger.Error().Msg("cannot set initial sample offset for playing file")
		return
	}

	s.playingTimeOffset.Store(time.Now().Add(playingTimeLag))

	buf := make([]byte, audioMessageHeaderSize+int(s.file.LargestSampleSize()))

	for s.isSendingAudio.Load() && s.file.HasMoreSamples() {
		sampleSize, err := s.file.NextSample(buf[audioMessageHeaderSize:])
		if err != nil {
			logger.Error().Err(err).Msg("cannot read next audio sample")
			return
		}

		frame := buf[:audioMessageHeaderSize+sampleSize]
		writeFrameHeader(frame, sampleSize)

		if err := s.audio.Send(frame); err != nil {
			logger.Error().Err(err).Msg("cannot send audio message")
			return
		}
		s.stats.AddFrame(sampleSize)
	}

	s.waitForBufferedAudio()
}

// waitForBufferedAudio sleeps in 1-second steps until the receiver has had
// time to play out everything already sent, matching
// raopClientWaitForBufferedAudio's remainingSeconds countdown.
func (s *Session) waitForBufferedAudio() {
	length := s.file.Length()
	for s.isSendingAudio.Load() && length.Seconds() >= s.Progress().Seconds() {
		time.Sleep(time.Second)
	}
}

// Progress reports how much of the file has played, matching
// raopClientGetProgress.
func (s *Session) Progress() time.Duration {
	offset, ok := s.playingTimeOffset.Load().(time.Time)
	if !ok || offset.IsZero() {
		return 0
	}
	p := time.Since(offset) + s.startTime
	if p < 0 {
		return 0
	}
	return p
}

// SetVolume clamps v into [0,30] and, if already streaming, pushes the new
// value via SET_PARAMETER, matching raopClientSetVolume.
func (s *Session) SetVolume(ctx context.Context, v float64) error {
	if v < 0 {
		v = volumeMuted
	}
	if v > volumeMaxValue {
		v = volumeMaxValue
	}
	s.volume = v

	if s.isSendingAudio.Load() {
		if _, err := s.control.SendCommand(ctx, "SET_PARAMETER", s.volumeContentSupplier); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until the audio pump goroutine has exited or ctx is done; it
// returns at once if no pump was ever started.
func (s *Session) Wait(ctx context.Context) {
	if s.audioWorkerDone == nil {
		return
	}
	select {
	case <-s.audioWorkerDone:
	case <-ctx.Done():
	}
}

// Stop requests the pump to exit, joins it, then sends FLUSH and TEARDOWN,
// accumulating any failures, matching raopClientStopPlaying.
func (s *Session) Stop(ctx context.Context) error {
	if !s.isSendingAudio.Load() && s.audioWorkerDone == nil {
		return nil
	}

	s.isSendingAudio.Store(false)
	s.Wait(ctx)

	var errs []error
	if _, err := s.control.SendCommand(ctx, "FLUSH", nil); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.control.SendCommand(ctx, "TEARDOWN", nil); err != nil {
		errs = append(errs, err)
	}
	if s.audio != nil {
		if err := s.audio.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats exposes the running totals for periodic reporting.
func (s *Session) Stats() streamstats.Snapshot {
	return s.stats.Snapshot(s.Progress())
}

// ControlLatencyP95 reports the 95th-percentile RTSP round-trip latency
// seen so far, useful for diagnosing a slow or overloaded receiver.
func (s *Session) ControlLatencyP95() time.Duration {
	return s.control.Latency().Percentile(95)
}
