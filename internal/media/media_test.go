package media

import (
	"errors"
	"testing"

	"github.com/pion/mediadevices"
)

// fakeMediaStream satisfies mediadevices.MediaStream without hardware.
type fakeMediaStream struct {
	video []mediadevices.Track
	audio []mediadevices.Track
}

func (f *fakeMediaStream) GetAudioTracks() []mediadevices.Track { return f.audio }
func (f *fakeMediaStream) GetVideoTracks() []mediadevices.Track { return f.video }
func (f *fakeMediaStream) GetTracks() []mediadevices.Track {
	return append(append([]mediadevices.Track{}, f.audio...), f.video...)
}
func (f *fakeMediaStream) AddTrack(mediadevices.Track)    {}
func (f *fakeMediaStream) RemoveTrack(mediadevices.Track) {}

func testAcquirer(gum func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)) *Acquirer {
	return &Acquirer{gum: gum}
}

func TestAcquireVideoSuccess(t *testing.T) {
	a := testAcquirer(func(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		if c.Video == nil {
			t.Fatal("expected a video constraint on the first attempt")
		}
		return &fakeMediaStream{video: make([]mediadevices.Track, 1)}, nil
	})

	s, err := a.Acquire(true)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !s.HasVideo() {
		t.Fatal("expected video grant")
	}
}

func TestAcquireFallsBackToAudioOnly(t *testing.T) {
	attempts := 0
	a := testAcquirer(func(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		attempts++
		if c.Video != nil {
			return nil, errors.New("v4l2: device or resource busy")
		}
		return &fakeMediaStream{audio: make([]mediadevices.Track, 1)}, nil
	})

	s, err := a.Acquire(true)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if s.HasVideo() {
		t.Fatal("fallback stream must not report video")
	}
}

func TestAcquirePropagatesOriginalError(t *testing.T) {
	original := errors.New("v4l2: device or resource busy")
	a := testAcquirer(func(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		if c.Video != nil {
			return nil, original
		}
		return nil, errors.New("no audio device found")
	})

	_, err := a.Acquire(true)
	if err == nil {
		t.Fatal("expected error")
	}
	// The classified error must wrap the first (video) failure, not the retry's.
	if !errors.Is(err, original) {
		t.Fatalf("err = %v, want wrap of %v", err, original)
	}
	var me *Error
	if !errors.As(err, &me) || me.Category != CategoryDeviceBusy {
		t.Fatalf("category = %+v, want DeviceBusy", err)
	}
}

func TestAcquireAudioOnlyFailureIsDirect(t *testing.T) {
	calls := 0
	a := testAcquirer(func(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		calls++
		return nil, errors.New("permission denied")
	})

	_, err := a.Acquire(false)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry for audio-only requests)", calls)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want Category
	}{
		{"open /dev/video0: permission denied", CategoryPermissionDenied},
		{"operation not allowed by user", CategoryPermissionDenied},
		{"failed to find the best driver that fits the constraints", CategoryDeviceNotFound},
		{"open /dev/video0: no such file or directory", CategoryDeviceNotFound},
		{"v4l2: device or resource busy", CategoryDeviceBusy},
		{"malgo: device in use", CategoryDeviceBusy},
		{"camera: failed to start stream", CategoryCouldNotStart},
		{"capture aborted", CategoryCouldNotStart},
		{"something entirely different", CategoryUnknown},
	}
	for _, tc := range cases {
		got := Classify(errors.New(tc.in))
		if got.Category != tc.want {
			t.Errorf("Classify(%q) = %d, want %d", tc.in, got.Category, tc.want)
		}
		if got.Message == "" {
			t.Errorf("Classify(%q) produced an empty message", tc.in)
		}
	}

	// Unknown errors keep their own description.
	if got := Classify(errors.New("weird failure xyz")); got.Message != "weird failure xyz" {
		t.Errorf("unknown message = %q", got.Message)
	}
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	orig := &Error{Category: CategoryDeviceNotFound, Message: "No microphone or camera found"}
	if got := Classify(orig); got != orig {
		t.Fatal("already-classified errors must pass through unchanged")
	}
}
