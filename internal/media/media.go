// Package media acquires local audio/video capture through
// pion/mediadevices and classifies device failures into user-facing
// categories. Video acquisition falls back to audio-only; callers own
// the returned stream and must Stop it when the call ends.
package media

import (
	"errors"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/fastsock/fastsock/internal/util"
)

// Category groups device failures by what the user can do about them.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryPermissionDenied
	CategoryDeviceNotFound
	CategoryDeviceBusy
	CategoryCouldNotStart
)

// Error is a classified device failure. Error() returns the user-facing
// message; the driver error stays reachable through Unwrap.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// Classify maps a driver/permission failure onto a category with a
// distinct user-facing message. Unrecognized errors keep their own text.
func Classify(err error) *Error {
	var me *Error
	if errors.As(err, &me) {
		return me
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "permission denied") ||
		strings.Contains(s, "not allowed") ||
		strings.Contains(s, "access denied"):
		return &Error{CategoryPermissionDenied, "Microphone/camera permission denied", err}
	case strings.Contains(s, "not found") ||
		strings.Contains(s, "no such") ||
		strings.Contains(s, "no device") ||
		strings.Contains(s, "failed to find"):
		return &Error{CategoryDeviceNotFound, "No microphone or camera found", err}
	case strings.Contains(s, "busy") ||
		strings.Contains(s, "in use") ||
		strings.Contains(s, "unavailable"):
		return &Error{CategoryDeviceBusy, "Microphone or camera is busy or unreadable", err}
	case strings.Contains(s, "failed to start") ||
		strings.Contains(s, "could not start") ||
		strings.Contains(s, "aborted"):
		return &Error{CategoryCouldNotStart, "Could not start the media device", err}
	default:
		return &Error{CategoryUnknown, err.Error(), err}
	}
}

// Acquirer opens local capture devices with a fixed VP8 + Opus codec
// selector. Construct once per process; the selector is reused for every
// call's peer connection.
type Acquirer struct {
	codec *mediadevices.CodecSelector

	// gum is mediadevices.GetUserMedia behind a seam for tests and for
	// platforms without capture drivers.
	gum func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
}

// NewAcquirer builds the codec selector and binds the platform capture
// entry point.
func NewAcquirer() (*Acquirer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &Acquirer{
		codec: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		gum: getUserMedia,
	}, nil
}

// Acquire requests audio always and video when wantVideo is set. A failed
// audio+video request is retried audio-only; if the retry also fails the
// original error is returned. Audio-only failures propagate directly.
func (a *Acquirer) Acquire(wantVideo bool) (*Stream, error) {
	ms, err := a.gum(a.constraints(wantVideo))
	if err == nil {
		return newStream(ms, wantVideo && len(ms.GetVideoTracks()) > 0), nil
	}
	if !wantVideo {
		return nil, Classify(err)
	}

	util.LogWarning("audio+video capture failed, retrying audio-only: %v", err)
	fallback, retryErr := a.gum(a.constraints(false))
	if retryErr != nil {
		return nil, Classify(err)
	}
	return newStream(fallback, false), nil
}

// constraints builds the capture request. Video excludes MJPEG sources
// and caps resolution at 640×480 — malformed MJPEG frames poison the VP8
// encoder and large frames inflate encode latency.
func (a *Acquirer) constraints(wantVideo bool) mediadevices.MediaStreamConstraints {
	c := mediadevices.MediaStreamConstraints{Codec: a.codec}
	c.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	if wantVideo {
		c.Video = func(mt *mediadevices.MediaTrackConstraints) {
			mt.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mt.Width = prop.IntRanged{Max: 640}
			mt.Height = prop.IntRanged{Max: 480}
		}
	}
	return c
}

// Stream is a set of live local capture tracks.
type Stream struct {
	ms       mediadevices.MediaStream
	hasVideo bool

	mu       sync.Mutex
	audioOn  bool
	videoOn  bool
	stopOnce sync.Once
}

func newStream(ms mediadevices.MediaStream, hasVideo bool) *Stream {
	return &Stream{ms: ms, hasVideo: hasVideo, audioOn: true, videoOn: hasVideo}
}

// HasVideo reports whether a video track was actually granted.
func (s *Stream) HasVideo() bool { return s.hasVideo }

// Tracks returns the capture tracks for attachment to a peer connection.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	if s.ms == nil {
		return nil
	}
	tracks := s.ms.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

// SetAudioEnabled flips the local audio state. mediadevices tracks have
// no pause control, so this records intent for the UI layer; capture
// keeps running until Stop.
func (s *Stream) SetAudioEnabled(on bool) {
	s.mu.Lock()
	s.audioOn = on
	s.mu.Unlock()
}

// SetVideoEnabled flips the local video state.
func (s *Stream) SetVideoEnabled(on bool) {
	s.mu.Lock()
	s.videoOn = on
	s.mu.Unlock()
}

// AudioEnabled reports the current audio toggle.
func (s *Stream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn
}

// VideoEnabled reports the current video toggle.
func (s *Stream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

// Stop closes every capture track, releasing the hardware. Idempotent.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		if s.ms == nil {
			return
		}
		for _, t := range s.ms.GetTracks() {
			if err := t.Close(); err != nil {
				util.LogDebug("closing capture track: %v", err)
			}
		}
	})
}
