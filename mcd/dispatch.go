package mcd

import (
	"github.com/pkg/errors"

	"github.com/nasa-jpl/mcdserver/camera"
	"github.com/nasa-jpl/mcdserver/registry"
	"github.com/nasa-jpl/mcdserver/util"
)

// writeHandler applies the side effect of a write.  v has already been
// converted to the variable's kind.  If store is true, DispatchWrite stores v
// after the handler returns; handlers that store the value themselves, or
// that must not store it, return false.
type writeHandler func(c *Controller, id registry.ID, v interface{}) (store bool, err error)

// buildDispatch fills the handler table, indexed by variable ID
func (c *Controller) buildDispatch() error {
	table := map[string]writeHandler{
		PVStart:         (*Controller).writeStart,
		PVExposureTime:  (*Controller).writeExposureTime,
		PVBinX:          (*Controller).writeBinning,
		PVBinY:          (*Controller).writeBinning,
		PVFileDirectory: (*Controller).writeFileDirectory,
		PVSaveTrigger:   (*Controller).writeSaveTrigger,
	}
	c.handlers = make([]writeHandler, len(c.reg.Names()))
	for name, h := range table {
		id, err := c.reg.Lookup(name)
		if err != nil {
			return err
		}
		c.handlers[id] = h
	}
	return nil
}

// DispatchWrite is the entry point for writes from clients.  The value is
// validated against the variable, the side effect tied to the variable is
// applied, and the value is stored.  A nil error means the write was accepted.
func (c *Controller) DispatchWrite(name string, value interface{}) error {
	id, err := c.reg.Lookup(name)
	if err != nil {
		return err
	}
	def, err := c.reg.Definition(id)
	if err != nil {
		return err
	}
	if def.ReadOnly {
		return errors.Wrap(registry.ErrReadOnly, name)
	}
	v, err := c.reg.Validate(id, value)
	if err != nil {
		return err
	}
	store := true
	if h := c.handlers[id]; h != nil {
		store, err = h(c, id, v)
		if err != nil {
			return err
		}
	}
	if store {
		return c.reg.SetID(id, v)
	}
	return nil
}

func (c *Controller) writeStart(id registry.ID, v interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v.(int) == 1 {
		if c.run != nil {
			return false, nil
		}
		if err := c.reg.SetID(id, 1); err != nil {
			return false, err
		}
		return false, c.launch()
	}
	if err := c.reg.SetID(id, 0); err != nil {
		return false, err
	}
	if c.run != nil {
		c.log.WithField("run", c.run.id).Info("abort requested")
		c.run.cancel()
	}
	return false, nil
}

func (c *Controller) writeExposureTime(id registry.ID, v interface{}) (bool, error) {
	err := c.det.SetExposureTime(util.SecsToDuration(v.(float64)))
	return err == nil, errors.Wrap(err, "setting exposure time")
}

func (c *Controller) writeBinning(id registry.ID, v interface{}) (bool, error) {
	b := camera.Binning{}
	var err error
	if id == c.ids.binX {
		b.H = v.(int)
		b.V, err = c.reg.Int(PVBinY)
	} else {
		b.V = v.(int)
		b.H, err = c.reg.Int(PVBinX)
	}
	if err != nil {
		return false, err
	}
	err = c.det.SetBinning(b)
	return err == nil, errors.Wrap(err, "setting binning")
}

func (c *Controller) writeFileDirectory(id registry.ID, v interface{}) (bool, error) {
	if err := c.reg.SetID(id, v); err != nil {
		return false, err
	}
	return false, c.reg.Set(PVPathValid, writableDir(v.(string)))
}

func (c *Controller) writeSaveTrigger(id registry.ID, v interface{}) (bool, error) {
	if v.(int) == 0 {
		return true, nil
	}
	return false, c.manualSave(id)
}
