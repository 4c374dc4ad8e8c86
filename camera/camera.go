/*Package camera describes a standard set of interfaces for control of detectors

Detector contains the basics needed to take a binned exposure, while
Initializer is implemented by detectors which have a bring-up and shut-down
sequence.

*/
package camera

import "time"

// Binning encapsulates information about pixel addition on camera
type Binning struct {
	// H is the horizontal binning factor
	H int `json:"h"`

	// V is the vertical binning factor
	V int `json:"v"`
}

// Frame is a single 8-bit image.  Pix is row major, strided by Width.
type Frame struct {
	Pix    []uint8
	Width  int
	Height int
}

// Detector describes a detector which takes one binned exposure at a time.
// Implementations must be safe for concurrent use: settings are changed
// from the request path while a frame is being taken on another goroutine.
type Detector interface {
	// GetRes gets the unbinned (W, H) of the sensor
	GetRes() ([2]int, error)

	// SetExposureTime sets the exposure time
	SetExposureTime(time.Duration) error

	// GetExposureTime gets the exposure time
	GetExposureTime() (time.Duration, error)

	// SetBinning sets the binning option of the camera
	SetBinning(Binning) error

	// GetBinning returns the binning option of the camera
	GetBinning() (Binning, error)

	// GetFrame exposes the sensor for the exposure time and returns the frame.
	// It blocks for the duration of the exposure and cannot be interrupted.
	GetFrame() (Frame, error)
}

// Initializer describes a detector with a bring-up and shut-down sequence
type Initializer interface {
	// Initialize initializes the detector.  This may have myriad side effects,
	// for example the allocation of buffer(s) for holding camera frames,
	// or activation of cooling.
	Initialize() error

	// Finalize finalizes the detector
	Finalize() error
}
