/*Package mcd exposes a multichannel detector through a table of process variables.

The Controller owns a registry.Registry holding every variable, the
detector, and at most one acquisition run.  Clients read variables from the
registry directly and write them through DispatchWrite, which applies the
side effect tied to each variable:

	start           launch (Start) or abort (Stop) an acquisition run
	exposure-time   forwarded to the detector
	bin-x, bin-y    forwarded to the detector as a pair
	file-directory  re-evaluates path-valid
	save-trigger    saves the last image outside of a run

A run takes cycle-count exposures on its own goroutine, summing them into
one image which is published to array-data after every cycle and, with
auto-save on, written to a file created on the first cycle and updated in
place on the following ones.
*/
package mcd

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/mcdserver/camera"
	"github.com/nasa-jpl/mcdserver/ndfile"
	"github.com/nasa-jpl/mcdserver/registry"
	"github.com/nasa-jpl/mcdserver/runlog"
	"github.com/nasa-jpl/mcdserver/util"
)

var (
	// ErrShapeMismatch is generated when a frame does not match the size of the accumulated image
	ErrShapeMismatch = errors.New("frame shape does not match accumulated image")

	// ErrBusy is generated when a manual save is requested during a run
	ErrBusy = errors.New("acquisition in progress")

	// ErrNoImage is generated when an image is requested before any was taken
	ErrNoImage = errors.New("no image to save")
)

// AccumulatePolicy decides what happens when summed pixels overflow 8 bits
type AccumulatePolicy string

const (
	// Saturate clips sums at 255
	Saturate AccumulatePolicy = "saturate"

	// Wrap keeps the low 8 bits of sums
	Wrap AccumulatePolicy = "wrap"
)

// ManualSavePolicy decides what a save-trigger outside of a run writes to
type ManualSavePolicy string

const (
	// NewFile creates a new numbered file
	NewFile ManualSavePolicy = "new"

	// Overwrite updates the file in full-file-path if it exists, otherwise creates a new one
	Overwrite ManualSavePolicy = "overwrite"
)

// History records runs.  *runlog.Store satisfies it.
type History interface {
	Started(runlog.Record) error
	Finished(runlog.Record) error
}

// Defaults are the initial values of the control variables
type Defaults struct {
	ExposureTime  float64 `yaml:"ExposureTime"`
	Cycles        int     `yaml:"Cycles"`
	BinX          int     `yaml:"BinX"`
	BinY          int     `yaml:"BinY"`
	FileDirectory string  `yaml:"FileDirectory"`
	FileName      string  `yaml:"FileName"`
	FileNumber    int     `yaml:"FileNumber"`
	FileTemplate  string  `yaml:"FileTemplate"`
	AutoIncrement bool    `yaml:"AutoIncrement"`
	AutoSave      bool    `yaml:"AutoSave"`
}

// DefaultDefaults matches the power-on state of the original IOC
func DefaultDefaults() Defaults {
	return Defaults{
		ExposureTime:  1.12,
		Cycles:        1,
		BinX:          1,
		BinY:          1,
		FileTemplate:  ndfile.DefaultTemplate,
		AutoIncrement: true,
		AutoSave:      true,
	}
}

// Options configure a Controller
type Options struct {
	// Defaults are the initial variable values
	Defaults Defaults

	// Accumulate is the overflow policy, default Saturate
	Accumulate AccumulatePolicy

	// ManualSave is the save-trigger policy, default NewFile
	ManualSave ManualSavePolicy

	// ResumeNumbering starts file-number after the highest numbered file
	// already in the file directory
	ResumeNumbering bool

	// History, if not nil, records every run
	History History

	// Log is used for all logging, default logrus.StandardLogger()
	Log logrus.FieldLogger
}

// Controller ties the registry, the detector and the acquisition together
type Controller struct {
	reg      *registry.Registry
	det      camera.Detector
	opts     Options
	log      logrus.FieldLogger
	handlers []writeHandler
	ids      ids

	// mu guards run and last, and serializes run launch, run release and manual saves
	mu   sync.Mutex
	run  *run
	last *ndfile.Image
}

// ids caches the IDs of variables the controller touches on every cycle
type ids struct {
	start, status, counter, dims, shape, sizeX, sizeY, sizeZ, data registry.ID
	min, max, mean, sigma, binX                                  registry.ID
}

// New creates a controller around a detector, registers its variables,
// initializes the detector if it is a camera.Initializer, and applies the
// default settings to it.
func New(det camera.Detector, opts Options) (*Controller, error) {
	if opts.Accumulate == "" {
		opts.Accumulate = Saturate
	}
	if opts.ManualSave == "" {
		opts.ManualSave = NewFile
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Defaults.FileTemplate == "" {
		opts.Defaults.FileTemplate = ndfile.DefaultTemplate
	}
	res, err := det.GetRes()
	if err != nil {
		return nil, errors.Wrap(err, "querying detector size")
	}
	if res[0]*res[1] > ArrayCapacity {
		return nil, errors.Errorf("mcd: %dx%d sensor exceeds array-data capacity %d", res[0], res[1], ArrayCapacity)
	}

	c := &Controller{
		reg:  registry.New(),
		det:  det,
		opts: opts,
		log:  opts.Log,
	}
	if err = c.reg.RegisterAll(definitions(opts.Defaults)); err != nil {
		return nil, err
	}
	if err = c.resolve(); err != nil {
		return nil, err
	}

	if initer, ok := det.(camera.Initializer); ok {
		if err = initer.Initialize(); err != nil {
			return nil, errors.Wrap(err, "initializing detector")
		}
	}
	if err = c.applySettings(); err != nil {
		return nil, err
	}
	dir := opts.Defaults.FileDirectory
	if err = c.reg.Set(PVPathValid, writableDir(dir)); err != nil {
		return nil, err
	}
	if opts.ResumeNumbering && writableDir(dir) {
		next, err := ndfile.NextNumber(dir, opts.Defaults.FileName, opts.Defaults.FileTemplate)
		if err != nil {
			c.log.WithError(err).Warn("could not resume file numbering")
		} else if next > opts.Defaults.FileNumber {
			if err = c.reg.Set(PVFileNumber, next); err != nil {
				return nil, err
			}
		}
	}
	c.setStatus(StatusIdle)
	return c, nil
}

// resolve looks up IDs and builds the dispatch table
func (c *Controller) resolve() error {
	for _, l := range []struct {
		dst  *registry.ID
		name string
	}{
		{&c.ids.start, PVStart},
		{&c.ids.status, PVDetectorStatus},
		{&c.ids.counter, PVCycleCounter},
		{&c.ids.dims, PVArrayDims},
		{&c.ids.shape, PVArrayShape},
		{&c.ids.sizeX, PVArraySizeX},
		{&c.ids.sizeY, PVArraySizeY},
		{&c.ids.sizeZ, PVArraySizeZ},
		{&c.ids.data, PVArrayData},
		{&c.ids.min, PVStatsMin},
		{&c.ids.max, PVStatsMax},
		{&c.ids.mean, PVStatsMean},
		{&c.ids.sigma, PVStatsSigma},
		{&c.ids.binX, PVBinX},
	} {
		id, err := c.reg.Lookup(l.name)
		if err != nil {
			return err
		}
		*l.dst = id
	}
	return c.buildDispatch()
}

// Registry returns the controller's variables.  Writes from clients must go
// through DispatchWrite instead of Registry().Set.
func (c *Controller) Registry() *registry.Registry {
	return c.reg
}

// Acquiring returns true while a run is active
func (c *Controller) Acquiring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// RunID returns the ID of the active run, or "" if idle
func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return ""
	}
	return c.run.id
}

// Wait blocks until no run is active
func (c *Controller) Wait() {
	for {
		c.mu.Lock()
		r := c.run
		c.mu.Unlock()
		if r == nil {
			return
		}
		<-r.done
	}
}

// Close aborts any run, waits for it, and finalizes the detector
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.run != nil {
		c.run.cancel()
	}
	c.mu.Unlock()
	c.Wait()
	c.setStatus(StatusUninitialized)
	if initer, ok := c.det.(camera.Initializer); ok {
		return initer.Finalize()
	}
	return nil
}

// applySettings pushes exposure and binning from the registry to the detector
func (c *Controller) applySettings() error {
	texp, err := c.reg.Float(PVExposureTime)
	if err != nil {
		return err
	}
	binx, err := c.reg.Int(PVBinX)
	if err != nil {
		return err
	}
	biny, err := c.reg.Int(PVBinY)
	if err != nil {
		return err
	}
	if err = c.det.SetExposureTime(util.SecsToDuration(texp)); err != nil {
		return errors.Wrap(err, "setting exposure time")
	}
	if err = c.det.SetBinning(camera.Binning{H: binx, V: biny}); err != nil {
		return errors.Wrap(err, "setting binning")
	}
	return nil
}

func (c *Controller) setStatus(s int) {
	if err := c.reg.SetID(c.ids.status, s); err != nil {
		c.log.WithError(err).Error("setting detector status")
	}
}

// set and setID store values the controller owns; a failure is logged
func (c *Controller) set(name string, v interface{}) {
	if err := c.reg.Set(name, v); err != nil {
		c.log.WithError(err).WithField("variable", name).Error("setting variable")
	}
}

func (c *Controller) setID(id registry.ID, v interface{}) {
	if err := c.reg.SetID(id, v); err != nil {
		c.log.WithError(err).WithField("id", id).Error("setting variable")
	}
}
