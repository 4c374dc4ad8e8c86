package mcd

import (
	"os"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/mcdserver/ndfile"
	"github.com/nasa-jpl/mcdserver/registry"
	"github.com/nasa-jpl/mcdserver/util"
)

// maximum length of write-message
const messageCapacity = 256

// descriptor reads the file naming variables
func (c *Controller) descriptor() (ndfile.Descriptor, error) {
	var (
		d   ndfile.Descriptor
		err error
	)
	if d.Dir, err = c.reg.Text(PVFileDirectory); err != nil {
		return d, err
	}
	if d.Name, err = c.reg.Text(PVFileName); err != nil {
		return d, err
	}
	if d.Template, err = c.reg.Text(PVFileTemplate); err != nil {
		return d, err
	}
	if d.Number, err = c.reg.Int(PVFileNumber); err != nil {
		return d, err
	}
	d.AutoIncrement, err = c.reg.Bool(PVAutoIncrement)
	return d, err
}

// attributes are the file attributes of an image summed from exposures frames
func (c *Controller) attributes(runID string, exposures int) ndfile.Attributes {
	texp, _ := c.reg.Float(PVExposureTime)
	return ndfile.Attributes{ExposureTime: texp, Exposures: exposures, RunID: runID}
}

// create writes a new file named by the file variables, records its path in
// full-file-path, and advances file-number if auto-increment is on
func (c *Controller) create(img ndfile.Image, attrs ndfile.Attributes) (string, error) {
	valid, err := c.reg.Bool(PVPathValid)
	if err != nil {
		return "", c.writeFailed(err)
	}
	d, err := c.descriptor()
	if err != nil {
		return "", c.writeFailed(err)
	}
	if !valid {
		return "", c.writeFailed(errors.Wrapf(ndfile.ErrPathInvalid, "%q is not a writable directory", d.Dir))
	}
	path, err := d.Path()
	if err != nil {
		return "", c.writeFailed(err)
	}
	if err = ndfile.Create(path, img, attrs); err != nil {
		return "", c.writeFailed(err)
	}
	if err = c.reg.Set(PVFullFilePath, path); err != nil {
		return "", c.writeFailed(err)
	}
	if d.AutoIncrement {
		if err = c.reg.Set(PVFileNumber, d.Next().Number); err != nil {
			return "", c.writeFailed(err)
		}
	}
	c.writeOK()
	c.log.WithField("file", path).Info("created file")
	return path, nil
}

// update rewrites the file at path, which create made earlier
func (c *Controller) update(path string, img ndfile.Image, attrs ndfile.Attributes) error {
	if err := ndfile.Update(path, img, attrs); err != nil {
		return c.writeFailed(err)
	}
	c.writeOK()
	return nil
}

// manualSave handles save-trigger = Save outside of a run.  Persistence
// failures surface in write-status, not as an error.
func (c *Controller) manualSave(id registry.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return errors.Wrap(ErrBusy, "save-trigger")
	}
	if c.last == nil {
		c.log.Info("save requested before any image was acquired, ignored")
		return nil
	}
	c.setID(id, 1)
	defer c.setID(id, 0)
	c.setStatus(StatusSaving)
	defer c.setStatus(StatusIdle)

	exposures, _ := c.reg.Int(PVCycleCounter)
	runID, _ := c.reg.Text(PVRunID)
	attrs := c.attributes(runID, exposures)
	if c.opts.ManualSave == Overwrite {
		path, _ := c.reg.Text(PVFullFilePath)
		if fi, err := os.Stat(path); path != "" && err == nil && fi.Mode().IsRegular() {
			c.update(path, *c.last, attrs)
			return nil
		}
	}
	c.create(*c.last, attrs)
	return nil
}

func (c *Controller) writeOK() {
	c.set(PVWriteStatus, 0)
	c.set(PVWriteMessage, "")
}

// writeFailed records err in write-status and write-message and returns it
func (c *Controller) writeFailed(err error) error {
	msg := err.Error()
	msg = msg[:util.ClampInt(len(msg), 0, messageCapacity)]
	c.set(PVWriteStatus, 1)
	c.set(PVWriteMessage, msg)
	c.log.WithError(err).Error("write failed")
	return err
}
