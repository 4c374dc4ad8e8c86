// Package camera provides a generic HTTP interface to a scientific camera
package camera

import (
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"time"

	"github.com/nasa-jpl/mcdserver/generichttp"
	"github.com/nasa-jpl/mcdserver/ndfile"
	"github.com/nasa-jpl/mcdserver/util"
)

// ImageSource describes a type which holds a most recent image
type ImageSource interface {
	// Image returns the most recent image and its attributes.  The image is owned by the caller.
	Image() (ndfile.Image, ndfile.Attributes, error)
}

// ExposureController describes a type whose exposure time can be changed
type ExposureController interface {
	// SetExposureTime sets the exposure time
	SetExposureTime(time.Duration) error

	// GetExposureTime gets the exposure time
	GetExposureTime() (time.Duration, error)
}

// HTTPImage injects a GET /image route into a route table
func HTTPImage(src ImageSource, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/image"}] = GetImage(src)
}

// HTTPExposure injects GET and POST /exposure-time routes into a route table
func HTTPExposure(e ExposureController, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure-time"}] = generichttp.GetFloat(func() (float64, error) {
		d, err := e.GetExposureTime()
		return d.Seconds(), err
	})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure-time"}] = SetExposureTime(e)
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
//
// if the query parameter has no unit, an s (seconds) is added.
func SetExposureTime(e ExposureController) http.HandlerFunc {
	setJSON := generichttp.SetFloat(func(f float64) error {
		return e.SetExposureTime(util.SecsToDuration(f))
	})
	return func(w http.ResponseWriter, r *http.Request) {
		texp := r.URL.Query().Get("exposureTime")
		if texp == "" {
			setJSON(w, r)
			return
		}
		if util.AllElementsNumbers(texp) {
			texp = texp + "s"
		}
		d, err := time.ParseDuration(texp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = e.SetExposureTime(d)
		if err != nil {
			http.Error(w, err.Error(), generichttp.StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetImage returns the most recent image on a GET request.
//
// the image format may be specified in the fmt query parameter, one of
// png, jpg, or fits; default to png
func GetImage(src ImageSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		img, attrs, err := src.Image()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		format := r.URL.Query().Get("fmt")
		if format == "" {
			format = "png"
		}
		gray := &image.Gray{Pix: img.Pix, Stride: img.Width, Rect: image.Rect(0, 0, img.Width, img.Height)}
		hdr := w.Header()
		switch format {
		case "jpg":
			hdr.Set("Content-Type", "image/jpeg")
			err = jpeg.Encode(w, gray, nil)
		case "png":
			hdr.Set("Content-Type", "image/png")
			err = png.Encode(w, gray)
		case "fits":
			hdr.Set("Content-Type", "image/fits")
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			err = ndfile.Encode(w, img, attrs)
		default:
			http.Error(w, "format must be one of png, jpg, fits", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
