// Package ndfile writes detector images to numbered FITS files.
//
// Files are named from a directory, a base name, a running number and a
// printf template taking the name and the number, e.g. "%s_%04d.fits".
// Each file holds one 8-bit image and the acquisition attributes.
package ndfile

import (
	"fmt"
	"io/ioutil"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrPathInvalid is generated when a directory is unusable or a template does not render a file name
	ErrPathInvalid = errors.New("file path invalid")

	// ErrFileUnavailable is generated when a file to be updated does not exist
	ErrFileUnavailable = errors.New("file unavailable")
)

// DefaultTemplate is the areaDetector-like default template
const DefaultTemplate = "%s_%04d.fits"

// Descriptor holds everything needed to name a file
type Descriptor struct {
	// Dir is the directory files are written in
	Dir string

	// Name is the base name substituted into Template
	Name string

	// Number is the running number substituted into Template
	Number int

	// Template is a printf format taking Name then Number
	Template string

	// AutoIncrement advances Number after every new file
	AutoIncrement bool
}

// FileName renders the template
func (d Descriptor) FileName() (string, error) {
	if d.Template == "" {
		return "", errors.Wrap(ErrPathInvalid, "empty template")
	}
	fn := fmt.Sprintf(d.Template, d.Name, d.Number)
	if strings.Contains(fn, "%!") {
		return "", errors.Wrapf(ErrPathInvalid, "template %q does not take a name and a number", d.Template)
	}
	if fn == "" || strings.ContainsRune(fn, filepath.Separator) {
		return "", errors.Wrapf(ErrPathInvalid, "template %q renders %q", d.Template, fn)
	}
	return fn, nil
}

// Path joins Dir and FileName
func (d Descriptor) Path() (string, error) {
	fn, err := d.FileName()
	if err != nil {
		return "", err
	}
	return filepath.Join(d.Dir, fn), nil
}

// Next returns the descriptor for the following file.  Number only
// advances when AutoIncrement is set.
func (d Descriptor) Next() Descriptor {
	if d.AutoIncrement {
		d.Number++
	}
	return d
}

// marker is substituted for the number to locate it in a rendered name
const marker = math.MaxInt32

// NextNumber scans dir for files produced by template and name and returns
// one past the highest number found, or zero if there are none.
func NextNumber(dir, name, template string) (int, error) {
	rendered := fmt.Sprintf(template, name, marker)
	mark := strconv.Itoa(marker)
	idx := strings.Index(rendered, mark)
	if idx < 0 || strings.Contains(rendered, "%!") {
		return 0, errors.Wrapf(ErrPathInvalid, "template %q does not take a name and a number", template)
	}
	prefix, suffix := rendered[:idx], rendered[idx+len(mark):]

	files, err := ioutil.ReadDir(dir)
	if err != nil {
		return 0, errors.Wrap(ErrPathInvalid, err.Error())
	}
	next := 0
	for _, file := range files {
		// skip directories and anything the template could not have made
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if len(fn) <= len(prefix)+len(suffix) || !strings.HasPrefix(fn, prefix) || !strings.HasSuffix(fn, suffix) {
			continue
		}
		bit := strings.TrimSpace(fn[len(prefix) : len(fn)-len(suffix)])
		n, err := strconv.Atoi(bit)
		if err != nil || n < 0 {
			continue
		}
		if n+1 > next {
			next = n + 1
		}
	}
	return next, nil
}
