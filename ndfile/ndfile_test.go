package ndfile_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/mcdserver/ndfile"
)

func testImage(w, h int, seed uint8) ndfile.Image {
	pix := make([]uint8, w*h)
	for i := range pix {
		pix[i] = uint8(i) + seed
	}
	return ndfile.Image{Pix: pix, Width: w, Height: h}
}

func TestDescriptorPath(t *testing.T) {
	d := ndfile.Descriptor{Dir: "/data", Name: "scan", Number: 7, Template: ndfile.DefaultTemplate}
	p, err := d.Path()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "scan_0007.fits"), p)
}

func TestDescriptorBadTemplate(t *testing.T) {
	for _, tmpl := range []string{"", "%d_%s.fits", "%s/%d.fits", "%s_%d_%d.fits"} {
		d := ndfile.Descriptor{Dir: "/data", Name: "scan", Number: 7, Template: tmpl}
		_, err := d.Path()
		assert.True(t, errors.Is(err, ndfile.ErrPathInvalid), "template %q gave %v", tmpl, err)
	}
}

func TestDescriptorNext(t *testing.T) {
	d := ndfile.Descriptor{Number: 3}
	assert.Equal(t, 3, d.Next().Number)
	d.AutoIncrement = true
	assert.Equal(t, 4, d.Next().Number)
}

func TestNextNumberScansDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, fn := range []string{"scan_0002.fits", "scan_0011.fits", "other_0099.fits", "scan_notanumber.fits", "scan_0050.txt"} {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, fn), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "scan_0500.fits"), 0755))

	n, err := ndfile.NextNumber(dir, "scan", ndfile.DefaultTemplate)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = ndfile.NextNumber(dir, "fresh", ndfile.DefaultTemplate)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNextNumberMissingDirectory(t *testing.T) {
	_, err := ndfile.NextNumber(filepath.Join(t.TempDir(), "nope"), "scan", ndfile.DefaultTemplate)
	assert.True(t, errors.Is(err, ndfile.ErrPathInvalid))
}

func TestCreateReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.fits")
	img := testImage(7, 5, 3)
	attrs := ndfile.Attributes{ExposureTime: 1.12, Exposures: 1, RunID: "abc"}
	require.NoError(t, ndfile.Create(path, img, attrs))

	got, gotAttrs, err := ndfile.Read(path)
	require.NoError(t, err)
	if diff := cmp.Diff(img, got); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1.12, gotAttrs.ExposureTime)
	assert.Equal(t, 1, gotAttrs.Exposures)
	assert.Equal(t, "abc", gotAttrs.RunID)
	assert.Equal(t, ndfile.Checksum(img.Pix), gotAttrs.Checksum)
}

func TestUpdateOverwritesInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.fits")
	require.NoError(t, ndfile.Create(path, testImage(4, 4, 0), ndfile.Attributes{ExposureTime: 0.5, Exposures: 1}))

	latest := testImage(4, 4, 100)
	require.NoError(t, ndfile.Update(path, latest, ndfile.Attributes{ExposureTime: 0.5, Exposures: 2}))

	got, attrs, err := ndfile.Read(path)
	require.NoError(t, err)
	assert.Equal(t, latest.Pix, got.Pix)
	assert.Equal(t, 2, attrs.Exposures)
}

func TestUpdateWithUnchangedBufferIsByteIdentical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.fits")
	img := testImage(9, 3, 17)
	attrs := ndfile.Attributes{ExposureTime: 0.25, Exposures: 1}
	require.NoError(t, ndfile.Create(path, img, attrs))
	created, err := ioutil.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, ndfile.Update(path, img, attrs))
	updated, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, created, updated)

	got, _, err := ndfile.Read(path)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, got.Pix)
}

func TestUpdateNeverCreates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.fits")
	err := ndfile.Update(path, testImage(2, 2, 0), ndfile.Attributes{})
	assert.True(t, errors.Is(err, ndfile.ErrFileUnavailable), "got %v", err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	err = ndfile.Update("", testImage(2, 2, 0), ndfile.Attributes{})
	assert.True(t, errors.Is(err, ndfile.ErrFileUnavailable))
}

func TestCreateInMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "a.fits")
	err := ndfile.Create(path, testImage(2, 2, 0), ndfile.Attributes{})
	assert.True(t, errors.Is(err, ndfile.ErrPathInvalid), "got %v", err)
}

func TestEncodeRejectsShortBuffer(t *testing.T) {
	err := ndfile.Create(filepath.Join(t.TempDir(), "a.fits"), ndfile.Image{Pix: []uint8{1}, Width: 2, Height: 2}, ndfile.Attributes{})
	assert.Error(t, err)
}
