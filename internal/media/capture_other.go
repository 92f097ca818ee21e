//go:build !linux

package media

import (
	"errors"

	"github.com/pion/mediadevices"
)

var errNoDriver = errors.New("no capture driver registered for this platform")

func getUserMedia(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
	return nil, &Error{
		Category: CategoryDeviceNotFound,
		Message:  "No microphone or camera found",
		Err:      errNoDriver,
	}
}
