package mcd

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nasa-jpl/mcdserver/camera"
	"github.com/nasa-jpl/mcdserver/ndfile"
	"github.com/nasa-jpl/mcdserver/registry"
	"github.com/nasa-jpl/mcdserver/runlog"
)

// run is one acquisition.  image is owned by the run goroutine until done is closed.
type run struct {
	id       string
	cycles   int
	autoSave bool
	started  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	log      logrus.FieldLogger

	image     *ndfile.Image
	completed int
	file      string
	attrs     ndfile.Attributes
}

// launch starts a run.  c.mu must be held.
func (c *Controller) launch() error {
	cycles, err := c.reg.Int(PVCycleCount)
	if err != nil {
		return err
	}
	autoSave, err := c.reg.Bool(PVAutoSave)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:       uuid.New().String(),
		cycles:   cycles,
		autoSave: autoSave,
		started:  time.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.log = c.log.WithField("run", r.id)
	c.run = r
	c.last = nil
	c.set(PVRunID, r.id)
	c.setID(c.ids.counter, 0)
	if c.opts.History != nil {
		rec := runlog.Record{ID: r.id, Started: r.started, Requested: cycles}
		if err := c.opts.History.Started(rec); err != nil {
			r.log.WithError(err).Warn("recording run start")
		}
	}
	r.log.WithFields(logrus.Fields{"cycles": cycles, "autosave": autoSave}).Info("acquisition started")
	go c.acquire(ctx, r)
	return nil
}

// acquire is the body of a run.  Cancellation is checked between cycles, an
// exposure in progress always finishes.
func (c *Controller) acquire(ctx context.Context, r *run) {
	var failure error
	aborted := false
	for cycle := 1; cycle <= r.cycles; cycle++ {
		if ctx.Err() != nil {
			aborted = true
			break
		}
		log := r.log.WithField("cycle", cycle)
		c.setStatus(StatusAcquire)
		frame, err := c.expose()
		if err != nil {
			failure = errors.Wrap(err, "exposing")
			break
		}
		if err = accumulate(r, frame, c.opts.Accumulate); err != nil {
			failure = err
			break
		}
		r.completed = cycle
		c.publish(r)
		log.Debug("cycle published")

		if r.autoSave {
			c.setStatus(StatusSaving)
			if cycle == 1 {
				r.attrs = c.attributes(r.id, r.completed)
				r.file, err = c.create(*r.image, r.attrs)
			} else {
				// the file keeps the exposure time it was created with
				r.attrs.Exposures = r.completed
				err = c.update(r.file, *r.image, r.attrs)
			}
			if err != nil {
				failure = err
				break
			}
		}
	}
	c.finish(r, aborted, failure)
}

// expose configures the detector from the registry and takes one frame
func (c *Controller) expose() (camera.Frame, error) {
	if err := c.applySettings(); err != nil {
		return camera.Frame{}, err
	}
	return c.det.GetFrame()
}

// accumulate sums a frame into the image of the run, the first frame starts a new image
func accumulate(r *run, f camera.Frame, policy AccumulatePolicy) error {
	if len(f.Pix) != f.Width*f.Height {
		return errors.Errorf("mcd: %d pixels do not fill a %dx%d frame", len(f.Pix), f.Width, f.Height)
	}
	if r.image == nil {
		pix := make([]uint8, len(f.Pix))
		copy(pix, f.Pix)
		r.image = &ndfile.Image{Pix: pix, Width: f.Width, Height: f.Height}
		return nil
	}
	if f.Width != r.image.Width || f.Height != r.image.Height {
		return errors.Wrapf(ErrShapeMismatch, "%dx%d frame into %dx%d image",
			f.Width, f.Height, r.image.Width, r.image.Height)
	}
	addInto(r.image.Pix, f.Pix, policy)
	return nil
}

func addInto(dst, src []uint8, policy AccumulatePolicy) {
	if policy == Wrap {
		for i := range dst {
			dst[i] += src[i]
		}
		return
	}
	for i := range dst {
		s := dst[i] + src[i]
		if s < dst[i] {
			s = 255
		}
		dst[i] = s
	}
}

// publish copies the image of the run to the array variables.
// cycle-counter is written last.
func (c *Controller) publish(r *run) {
	img := r.image
	min, max, mean, sigma := imageStats(img.Pix)
	updates := []struct {
		id registry.ID
		v  interface{}
	}{
		{c.ids.data, img.Pix},
		{c.ids.dims, 2},
		{c.ids.shape, []int{img.Width, img.Height}},
		{c.ids.sizeX, img.Width},
		{c.ids.sizeY, img.Height},
		{c.ids.sizeZ, 0},
		{c.ids.min, min},
		{c.ids.max, max},
		{c.ids.mean, mean},
		{c.ids.sigma, sigma},
		{c.ids.counter, r.completed},
	}
	for _, u := range updates {
		if err := c.reg.SetID(u.id, u.v); err != nil {
			r.log.WithError(err).Error("publishing image")
		}
	}
}

// imageStats returns the min, max, mean, and standard deviation of the pixels
func imageStats(pix []uint8) (min, max, mean, sigma float64) {
	if len(pix) == 0 {
		return
	}
	x := make([]float64, len(pix))
	for i, p := range pix {
		x[i] = float64(p)
	}
	min, max = floats.Min(x), floats.Max(x)
	if len(x) == 1 {
		return min, max, x[0], 0
	}
	mean, sigma = stat.MeanStdDev(x, nil)
	return
}

// finish releases the run.  The status and start variables are final before
// Wait returns.
func (c *Controller) finish(r *run, aborted bool, failure error) {
	rec := runlog.Record{
		ID:        r.id,
		Started:   r.started,
		Finished:  time.Now(),
		Requested: r.cycles,
		Completed: r.completed,
		Outcome:   runlog.Completed,
		File:      r.file,
	}
	status := StatusIdle
	switch {
	case failure != nil:
		status = StatusError
		rec.Outcome = runlog.Failed
		rec.Message = failure.Error()
		r.log.WithError(failure).WithField("cycle", r.completed+1).Error("acquisition failed")
	case aborted:
		rec.Outcome = runlog.Aborted
		r.log.WithField("completed", r.completed).Info("acquisition aborted")
	default:
		r.log.Info("acquisition complete")
	}

	c.mu.Lock()
	c.setID(c.ids.start, 0)
	c.setStatus(status)
	c.last = r.image
	c.run = nil
	c.mu.Unlock()
	r.cancel()

	if c.opts.History != nil {
		if err := c.opts.History.Finished(rec); err != nil {
			r.log.WithError(err).Warn("recording run end")
		}
	}
	close(r.done)
}
