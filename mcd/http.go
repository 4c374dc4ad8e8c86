package mcd

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/mcdserver/generichttp"
	"github.com/nasa-jpl/mcdserver/generichttp/camera"
	"github.com/nasa-jpl/mcdserver/generichttp/monitor"
	"github.com/nasa-jpl/mcdserver/ndfile"
	"github.com/nasa-jpl/mcdserver/registry"
	"github.com/nasa-jpl/mcdserver/runlog"
	"github.com/nasa-jpl/mcdserver/server"
)

// RunLister lists past runs, newest first.  *runlog.Store satisfies it.
type RunLister interface {
	Recent(n int) ([]runlog.Record, error)
}

// VariableInfo describes a variable on GET /pv
type VariableInfo struct {
	Name     string        `json:"name"`
	Kind     registry.Kind `json:"kind"`
	Enums    []string      `json:"enums,omitempty"`
	Count    int           `json:"count,omitempty"`
	ReadOnly bool          `json:"readonly"`
	Units    string        `json:"units,omitempty"`
	Prec     int           `json:"prec,omitempty"`
}

// Image returns the image published last, with its attributes
func (c *Controller) Image() (ndfile.Image, ndfile.Attributes, error) {
	var (
		img   ndfile.Image
		attrs ndfile.Attributes
	)
	data, err := c.reg.ReadID(c.ids.data)
	if err != nil {
		return img, attrs, err
	}
	img.Pix = data.Value.([]byte)
	if len(img.Pix) == 0 {
		return img, attrs, ErrNoImage
	}
	if img.Width, err = c.reg.Int(PVArraySizeX); err != nil {
		return img, attrs, err
	}
	if img.Height, err = c.reg.Int(PVArraySizeY); err != nil {
		return img, attrs, err
	}
	if img.Width*img.Height != len(img.Pix) {
		return img, attrs, errors.New("image is being published, retry")
	}
	exposures, _ := c.reg.Int(PVCycleCounter)
	runID, _ := c.reg.Text(PVRunID)
	attrs = c.attributes(runID, exposures)
	return img, attrs, nil
}

// SetExposureTime writes exposure-time, satisfying camera.ExposureController
func (c *Controller) SetExposureTime(d time.Duration) error {
	return c.DispatchWrite(PVExposureTime, d.Seconds())
}

// GetExposureTime reads exposure-time
func (c *Controller) GetExposureTime() (time.Duration, error) {
	f, err := c.reg.Float(PVExposureTime)
	return time.Duration(f * 1e9), err
}

// HTTPWrapper exposes a Controller over HTTP
type HTTPWrapper struct {
	// Ctl is the underlying controller
	Ctl *Controller

	// RouteTable maps routes to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured.
// monitorHz caps the rate at which array-data is streamed to each monitor client.
func NewHTTPWrapper(c *Controller, monitorHz float64) HTTPWrapper {
	w := HTTPWrapper{Ctl: c}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/pv"}:          w.ListVariables,
		{Method: http.MethodGet, Path: "/pv/{name}"}:   w.ReadVariable,
		{Method: http.MethodPost, Path: "/pv/{name}"}:  w.WriteVariable,
		{Method: http.MethodGet, Path: "/file"}:        w.LastFile,
		{Method: http.MethodGet, Path: "/runs"}:        w.Runs,
		{Method: http.MethodPost, Path: "/save"}:       w.Save,
		{Method: http.MethodGet, Path: "/monitor"}:     monitor.New(c.reg, monitorHz, c.log).ServeHTTP,
		{Method: http.MethodGet, Path: "/acquire"}:     generichttp.GetBool(func() (bool, error) { return c.reg.Bool(PVStart) }),
		{Method: http.MethodPost, Path: "/acquire"}:    generichttp.SetBool(func(b bool) error { return c.DispatchWrite(PVStart, b) }),
		{Method: http.MethodGet, Path: "/cycle-count"}: generichttp.GetInt(func() (int, error) { return c.reg.Int(PVCycleCount) }),
		{Method: http.MethodGet, Path: "/file-directory"}: generichttp.GetString(func() (string, error) {
			return c.reg.Text(PVFileDirectory)
		}),
		{Method: http.MethodPost, Path: "/file-directory"}: generichttp.SetString(func(s string) error {
			return c.DispatchWrite(PVFileDirectory, s)
		}),
		{Method: http.MethodPost, Path: "/cycle-count"}: generichttp.SetInt(func(i int) error {
			return c.DispatchWrite(PVCycleCount, i)
		}),
	}
	camera.HTTPImage(c, rt)
	camera.HTTPExposure(c, rt)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// ListVariables replies with the definition of every variable
func (h HTTPWrapper) ListVariables(w http.ResponseWriter, r *http.Request) {
	reg := h.Ctl.reg
	names := reg.Names()
	out := make([]VariableInfo, 0, len(names))
	for i := range names {
		def, err := reg.Definition(registry.ID(i))
		if err != nil {
			continue
		}
		out = append(out, VariableInfo{
			Name: def.Name, Kind: def.Kind, Enums: def.Enums, Count: def.Count,
			ReadOnly: def.ReadOnly, Units: def.Units, Prec: def.Prec,
		})
	}
	server.EncodeJSON(w, out)
}

// ReadVariable replies with a snapshot of one variable
func (h HTTPWrapper) ReadVariable(w http.ResponseWriter, r *http.Request) {
	reg := h.Ctl.reg
	id, err := reg.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	snap, err := reg.ReadID(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	msg := monitor.Message{Snapshot: snap}
	if def, err := reg.Definition(id); err == nil {
		msg.Label = registry.Label(def, snap.Value)
	}
	server.EncodeJSON(w, msg)
}

// WriteVariable dispatches {"value": ...} on the request body to a variable
func (h HTTPWrapper) WriteVariable(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value interface{} `json:"value"`
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	err := dec.Decode(&body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.Ctl.DispatchWrite(chi.URLParam(r, "name"), body.Value)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Save triggers a manual save of the last image
func (h HTTPWrapper) Save(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.Ctl.Image(); errors.Is(err, ErrNoImage) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	err := h.Ctl.DispatchWrite(PVSaveTrigger, 1)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	st, _ := h.Ctl.reg.Int(PVWriteStatus)
	if st != 0 {
		msg, _ := h.Ctl.reg.Text(PVWriteMessage)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LastFile replies with the file in full-file-path
func (h HTTPWrapper) LastFile(w http.ResponseWriter, r *http.Request) {
	path, err := h.Ctl.reg.Text(PVFullFilePath)
	if err != nil || path == "" {
		http.Error(w, "no file has been written", http.StatusNotFound)
		return
	}
	server.ReplyWithFile(w, r, filepath.Base(path), filepath.Dir(path))
}

// Runs replies with the most recent runs, at most n (query parameter, default 20)
func (h HTTPWrapper) Runs(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.Ctl.opts.History.(RunLister)
	if !ok {
		http.Error(w, "run history is not enabled", http.StatusNotFound)
		return
	}
	n := 20
	if s := r.URL.Query().Get("n"); s != "" {
		var err error
		n, err = strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
	}
	recs, err := lister.Recent(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	server.EncodeJSON(w, recs)
}

func statusFor(err error) int {
	if errors.Is(err, ErrBusy) {
		return http.StatusConflict
	}
	return generichttp.StatusFor(err)
}
