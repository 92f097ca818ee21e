//go:build linux

package media

import (
	"github.com/pion/mediadevices"

	// Register the V4L2 camera and malgo microphone drivers.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

func getUserMedia(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
	return mediadevices.GetUserMedia(c)
}
