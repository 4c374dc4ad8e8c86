package ndfile

import (
	"bytes"
	"io"
	"os"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"
	"github.com/snksoft/crc"
)

// Locations of the image and attributes in the original HDF5 layout, kept
// as the comments of the cards that carry them so readers can map one to the other
const (
	DataPath         = "/entry/instrument/detector/data"
	AcquireTimePath  = "/entry/instrument/NDAttributes/AcquireTime"
	NumExposuresPath = "/entry/instrument/NDAttributes/NumExposures"
)

// Image is an 8-bit image, Pix is row major and strided by Width
type Image struct {
	Pix    []uint8
	Width  int
	Height int
}

// Attributes are stored alongside the image
type Attributes struct {
	// ExposureTime is the exposure time of one frame in seconds
	ExposureTime float64

	// Exposures is the number of frames summed into the image
	Exposures int

	// RunID identifies the acquisition run that made the file
	RunID string

	// Checksum is the CRC-32 of the pixel bytes.  It is computed on write and
	// populated on read; the value passed to Create or Update is ignored.
	Checksum uint32
}

// Checksum computes the CRC-32 of the pixels
func Checksum(pix []uint8) uint32 {
	return uint32(crc.CalculateCRC(crc.CRC32, pix))
}

// Encode streams a fits file holding img to w
func Encode(w io.Writer, img Image, attrs Attributes) error {
	if len(img.Pix) != img.Width*img.Height {
		return errors.Errorf("ndfile: %d pixels do not fill %dx%d", len(img.Pix), img.Width, img.Height)
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	im := fitsio.NewImage(8, []int{img.Width, img.Height})
	defer im.Close()
	err = im.Header().Append(
		fitsio.Card{Name: "DATAPATH", Value: DataPath, Comment: "image dataset"},
		fitsio.Card{Name: "EXPTIME", Value: attrs.ExposureTime, Comment: AcquireTimePath},
		fitsio.Card{Name: "NEXPOSE", Value: attrs.Exposures, Comment: NumExposuresPath},
		fitsio.Card{Name: "IMGCRC", Value: int(Checksum(img.Pix)), Comment: "CRC-32 of pixel bytes"},
		fitsio.Card{Name: "RUNID", Value: attrs.RunID, Comment: "acquisition run"},
	)
	if err != nil {
		return err
	}
	err = im.Write(img.Pix)
	if err != nil {
		return err
	}
	err = fits.Write(im)
	if err != nil {
		return err
	}
	return fits.Close()
}

// Create writes a new file at path, truncating any file already there
func Create(path string, img Image, attrs Attributes) error {
	buf := &bytes.Buffer{}
	if err := Encode(buf, img, attrs); err != nil {
		return errors.Wrap(err, "encoding fits")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return errors.Wrap(ErrPathInvalid, err.Error())
	}
	_, err = f.Write(buf.Bytes())
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return f.Close()
}

// Update rewrites an existing file in place with a new image and attributes.
// It never creates a file.
func Update(path string, img Image, attrs Attributes) error {
	if path == "" {
		return errors.Wrap(ErrFileUnavailable, "no file has been created")
	}
	buf := &bytes.Buffer{}
	if err := Encode(buf, img, attrs); err != nil {
		return errors.Wrap(err, "encoding fits")
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrap(ErrFileUnavailable, err.Error())
	}
	_, err = f.WriteAt(buf.Bytes(), 0)
	if err == nil {
		err = f.Truncate(int64(buf.Len()))
	}
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "updating %s", path)
	}
	return f.Close()
}

// Read loads a file written by Create or Update
func Read(path string) (Image, Attributes, error) {
	var (
		img   Image
		attrs Attributes
	)
	f, err := os.Open(path)
	if err != nil {
		return img, attrs, errors.Wrap(ErrFileUnavailable, err.Error())
	}
	defer f.Close()
	fits, err := fitsio.Open(f)
	if err != nil {
		return img, attrs, err
	}
	defer fits.Close()
	hdu, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return img, attrs, errors.Errorf("ndfile: %s primary HDU is not an image", path)
	}
	hdr := hdu.Header()
	axes := hdr.Axes()
	if hdr.Bitpix() != 8 || len(axes) != 2 {
		return img, attrs, errors.Errorf("ndfile: %s is not a 2D 8-bit image", path)
	}
	img.Width, img.Height = axes[0], axes[1]
	img.Pix = make([]uint8, img.Width*img.Height)
	if err = hdu.Read(&img.Pix); err != nil {
		return img, attrs, err
	}
	if c := hdr.Get("EXPTIME"); c != nil {
		attrs.ExposureTime = cardFloat(c.Value)
	}
	if c := hdr.Get("NEXPOSE"); c != nil {
		attrs.Exposures = int(cardFloat(c.Value))
	}
	if c := hdr.Get("IMGCRC"); c != nil {
		attrs.Checksum = uint32(cardFloat(c.Value))
	}
	if c := hdr.Get("RUNID"); c != nil {
		attrs.RunID, _ = c.Value.(string)
	}
	return img, attrs, nil
}

func cardFloat(v interface{}) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	case float32:
		return float64(t)
	}
	return 0
}
