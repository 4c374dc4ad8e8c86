// Package hamamatsu enables control of Hamamatsu MCD C7557-1 multichannel detector controllers.
//
// Only a simulation of the controller is provided.  It produces a ring
// pattern whose phase advances by 0.1 rad on every frame, so consecutive
// frames differ and summed frames are not simply multiples of one frame.
package hamamatsu

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/nasa-jpl/mcdserver/camera"
)

const (
	// HSize is the horizontal size of the CCD in pixels
	HSize = 532

	// VSize is the vertical size of the CCD in pixels
	VSize = 520
)

var (
	// ErrNotInitialized is generated when a frame is requested before Initialize
	ErrNotInitialized = errors.New("hamamatsu: controller not initialized")

	// ErrBadExposure is generated when a negative exposure time is commanded
	ErrBadExposure = errors.New("hamamatsu: exposure time must be >= 0")

	// ErrBadBinning is generated when a binning factor is outside [1, sensor size]
	ErrBadBinning = errors.New("hamamatsu: binning outside [1, sensor size]")
)

// MCD is a simulated MCD controller.  It is safe for concurrent use.
type MCD struct {
	sync.Mutex

	// Sleep is called to simulate the exposure.  Defaults to time.Sleep
	Sleep func(time.Duration)

	width, height int
	exposure      time.Duration
	bin           camera.Binning
	phase         float64
	initialized   bool
}

// NewMCD returns a simulated controller with a 532x520 sensor,
// 1 s exposure and no binning.  Initialize must be called before GetFrame.
func NewMCD() *MCD {
	return NewMCDSize(HSize, VSize)
}

// NewMCDSize is NewMCD with a custom sensor size
func NewMCDSize(width, height int) *MCD {
	return &MCD{
		Sleep:    time.Sleep,
		width:    width,
		height:   height,
		exposure: time.Second,
		bin:      camera.Binning{H: 1, V: 1},
	}
}

// Initialize brings up the controller
func (m *MCD) Initialize() error {
	m.Lock()
	defer m.Unlock()
	m.phase = 0
	m.initialized = true
	return nil
}

// Finalize shuts down the controller
func (m *MCD) Finalize() error {
	m.Lock()
	defer m.Unlock()
	m.initialized = false
	return nil
}

// GetRes returns the unbinned (W, H) of the sensor
func (m *MCD) GetRes() ([2]int, error) {
	return [2]int{m.width, m.height}, nil
}

// SetExposureTime sets the exposure time
func (m *MCD) SetExposureTime(d time.Duration) error {
	if d < 0 {
		return ErrBadExposure
	}
	m.Lock()
	defer m.Unlock()
	m.exposure = d
	return nil
}

// GetExposureTime gets the exposure time
func (m *MCD) GetExposureTime() (time.Duration, error) {
	m.Lock()
	defer m.Unlock()
	return m.exposure, nil
}

// SetBinning sets the binning factors.  The frame size is the sensor size
// divided by the binning, rounded down.
func (m *MCD) SetBinning(b camera.Binning) error {
	if b.H < 1 || b.V < 1 || b.H > m.width || b.V > m.height {
		return ErrBadBinning
	}
	m.Lock()
	defer m.Unlock()
	m.bin = b
	return nil
}

// GetBinning gets the binning factors
func (m *MCD) GetBinning() (camera.Binning, error) {
	m.Lock()
	defer m.Unlock()
	return m.bin, nil
}

// GetFrame blocks for the exposure time and returns a frame.  Settings are
// latched when it is called, changes during the exposure apply to the next frame.
func (m *MCD) GetFrame() (camera.Frame, error) {
	m.Lock()
	if !m.initialized {
		m.Unlock()
		return camera.Frame{}, ErrNotInitialized
	}
	exposure, bin := m.exposure, m.bin
	m.phase += 0.1
	phase := m.phase
	sleep := m.Sleep
	m.Unlock()

	if sleep != nil {
		sleep(exposure)
	}
	return rings(m.width/bin.H, m.height/bin.V, phase), nil
}

// rings computes 120 * (sin(r^2 + phase) + 1) about the frame center
func rings(w, h int, phase float64) camera.Frame {
	cx, cy := w/2, h/2
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		dy := float64(y - cy)
		row := pix[y*w : (y+1)*w]
		for x := range row {
			dx := float64(x - cx)
			row[x] = uint8(120 * (math.Sin(dx*dx+dy*dy+phase) + 1))
		}
	}
	return camera.Frame{Pix: pix, Width: w, Height: h}
}
