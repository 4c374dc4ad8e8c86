package mcd_test

import (
	"io/ioutil"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/mcdserver/camera"
	"github.com/nasa-jpl/mcdserver/hamamatsu"
	"github.com/nasa-jpl/mcdserver/mcd"
)

const (
	testW = 40
	testH = 24
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	return l
}

// fastSim is a simulated detector that does not sleep through exposures
func fastSim() *hamamatsu.MCD {
	d := hamamatsu.NewMCDSize(testW, testH)
	d.Sleep = func(time.Duration) {}
	return d
}

// gated blocks every frame until the test releases it, reporting the frame
// number on entered first
type gated struct {
	*hamamatsu.MCD
	entered chan int
	release chan struct{}
	n       int
}

func newGated() *gated {
	return &gated{MCD: fastSim(), entered: make(chan int), release: make(chan struct{})}
}

func (g *gated) GetFrame() (camera.Frame, error) {
	g.n++
	g.entered <- g.n
	<-g.release
	return g.MCD.GetFrame()
}

func (g *gated) step(t *testing.T, want int) {
	t.Helper()
	select {
	case n := <-g.entered:
		require.Equal(t, want, n)
	case <-time.After(5 * time.Second):
		t.Fatalf("frame %d never started", want)
	}
}

func options(dir string) mcd.Options {
	d := mcd.DefaultDefaults()
	d.ExposureTime = 0.01
	d.FileDirectory = dir
	d.FileName = "scan"
	d.AutoSave = false
	return mcd.Options{Defaults: d, Log: quietLog()}
}

func newController(t *testing.T, det camera.Detector, opts mcd.Options) *mcd.Controller {
	t.Helper()
	c, err := mcd.New(det, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// waitIdle waits for the run to end, failing the test if it takes too long
func waitIdle(t *testing.T, c *mcd.Controller) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
}

func mustInt(t *testing.T, c *mcd.Controller, name string) int {
	t.Helper()
	i, err := c.Registry().Int(name)
	require.NoError(t, err)
	return i
}

func mustText(t *testing.T, c *mcd.Controller, name string) string {
	t.Helper()
	s, err := c.Registry().Text(name)
	require.NoError(t, err)
	return s
}

// expectedSum sums the first n frames of a fresh simulator at the given
// binning, saturating at 255
func expectedSum(t *testing.T, n int, bin camera.Binning) camera.Frame {
	t.Helper()
	return expectedSumWith(t, n, bin, mcd.Saturate)
}

func expectedSumWith(t *testing.T, n int, bin camera.Binning, policy mcd.AccumulatePolicy) camera.Frame {
	t.Helper()
	d := fastSim()
	require.NoError(t, d.Initialize())
	require.NoError(t, d.SetBinning(bin))
	var sum camera.Frame
	for i := 0; i < n; i++ {
		f, err := d.GetFrame()
		require.NoError(t, err)
		if i == 0 {
			sum = f
			continue
		}
		for j := range sum.Pix {
			s := int(sum.Pix[j]) + int(f.Pix[j])
			switch {
			case policy == mcd.Wrap:
				s %= 256
			case s > 255:
				s = 255
			}
			sum.Pix[j] = uint8(s)
		}
	}
	return sum
}
