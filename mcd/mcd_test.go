package mcd_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/mcdserver/camera"
	"github.com/nasa-jpl/mcdserver/mcd"
	"github.com/nasa-jpl/mcdserver/ndfile"
	"github.com/nasa-jpl/mcdserver/registry"
	"github.com/nasa-jpl/mcdserver/runlog"
)

func TestInitialState(t *testing.T) {
	c := newController(t, fastSim(), options(t.TempDir()))
	assert.Equal(t, mcd.StatusIdle, mustInt(t, c, mcd.PVDetectorStatus))
	assert.Equal(t, 0, mustInt(t, c, mcd.PVStart))
	assert.Equal(t, 1, mustInt(t, c, mcd.PVArrayKind))
	assert.Equal(t, "%s_%04d.fits", mustText(t, c, mcd.PVFileTemplate))
	assert.Equal(t, 1, mustInt(t, c, mcd.PVAutoIncrement))

	snap, err := c.Registry().Read(mcd.PVPathValid)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Value)
	assert.Equal(t, registry.NoAlarm, snap.Severity)
}

func TestWriteThenReadReturnsValue(t *testing.T) {
	det := fastSim()
	c := newController(t, det, options(t.TempDir()))

	require.NoError(t, c.DispatchWrite(mcd.PVExposureTime, 0.5))
	f, err := c.Registry().Float(mcd.PVExposureTime)
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)
	texp, _ := det.GetExposureTime()
	assert.Equal(t, 500*time.Millisecond, texp)

	require.NoError(t, c.DispatchWrite(mcd.PVFileName, "dark"))
	assert.Equal(t, "dark", mustText(t, c, mcd.PVFileName))

	require.NoError(t, c.DispatchWrite(mcd.PVCycleCount, "7"))
	assert.Equal(t, 7, mustInt(t, c, mcd.PVCycleCount))
}

func TestRejectedWritesDoNotMutate(t *testing.T) {
	c := newController(t, fastSim(), options(t.TempDir()))

	err := c.DispatchWrite(mcd.PVCycleCounter, 3)
	assert.True(t, errors.Is(err, registry.ErrReadOnly), "got %v", err)
	assert.Equal(t, 0, mustInt(t, c, mcd.PVCycleCounter))

	err = c.DispatchWrite(mcd.PVStart, "Maybe")
	assert.True(t, errors.Is(err, registry.ErrTypeMismatch), "got %v", err)
	assert.Equal(t, 0, mustInt(t, c, mcd.PVStart))
	assert.False(t, c.Acquiring())

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	err = c.DispatchWrite(mcd.PVFileName, string(long))
	assert.True(t, errors.Is(err, registry.ErrCapacityExceeded), "got %v", err)
	assert.Equal(t, "scan", mustText(t, c, mcd.PVFileName))

	err = c.DispatchWrite("no-such-variable", 1)
	assert.True(t, errors.Is(err, registry.ErrUnknownVariable), "got %v", err)
}

func TestDetectorRejectionIsNotStored(t *testing.T) {
	c := newController(t, fastSim(), options(t.TempDir()))
	err := c.DispatchWrite(mcd.PVBinX, 0)
	assert.Error(t, err)
	assert.Equal(t, 1, mustInt(t, c, mcd.PVBinX))

	err = c.DispatchWrite(mcd.PVExposureTime, -1.)
	assert.Error(t, err)
	f, _ := c.Registry().Float(mcd.PVExposureTime)
	assert.Equal(t, 0.01, f)
}

func TestStartWhileActiveIsNoOp(t *testing.T) {
	det := newGated()
	opts := options(t.TempDir())
	opts.Defaults.Cycles = 2
	c := newController(t, det, opts)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	det.step(t, 1)
	id := c.RunID()
	require.NotEmpty(t, id)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, 1))
	assert.Equal(t, id, c.RunID())
	assert.Equal(t, 1, mustInt(t, c, mcd.PVStart))

	det.release <- struct{}{}
	det.step(t, 2)
	det.release <- struct{}{}
	waitIdle(t, c)
	assert.Equal(t, 2, mustInt(t, c, mcd.PVCycleCounter))
	assert.Equal(t, 2, det.n)
}

func TestRunWithoutAutoSave(t *testing.T) {
	dir := t.TempDir()
	opts := options(dir)
	opts.Defaults.Cycles = 3
	opts.Defaults.BinX = 2
	opts.Defaults.BinY = 4
	c := newController(t, fastSim(), opts)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	waitIdle(t, c)

	assert.Equal(t, 3, mustInt(t, c, mcd.PVCycleCounter))
	assert.Equal(t, 0, mustInt(t, c, mcd.PVStart))
	assert.Equal(t, mcd.StatusIdle, mustInt(t, c, mcd.PVDetectorStatus))
	assert.Equal(t, 2, mustInt(t, c, mcd.PVArrayDims))

	shape, err := c.Registry().Get(mcd.PVArrayShape)
	require.NoError(t, err)
	assert.Equal(t, []int{testW / 2, testH / 4}, shape)

	data, err := c.Registry().Get(mcd.PVArrayData)
	require.NoError(t, err)
	want := expectedSum(t, 3, camera.Binning{H: 2, V: 4})
	if diff := cmp.Diff(want.Pix, data.([]byte)); diff != "" {
		t.Errorf("accumulated image mismatch (-want +got):\n%s", diff)
	}

	files, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, "", mustText(t, c, mcd.PVFullFilePath))
}

func TestRunWithAutoSaveWritesOneFile(t *testing.T) {
	dir := t.TempDir()
	opts := options(dir)
	opts.Defaults.Cycles = 2
	opts.Defaults.AutoSave = true
	c := newController(t, fastSim(), opts)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	waitIdle(t, c)

	files, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	path := filepath.Join(dir, "scan_0000.fits")
	assert.Equal(t, path, mustText(t, c, mcd.PVFullFilePath))
	assert.Equal(t, 1, mustInt(t, c, mcd.PVFileNumber))
	assert.Equal(t, 0, mustInt(t, c, mcd.PVWriteStatus))

	img, attrs, err := ndfile.Read(path)
	require.NoError(t, err)
	data, _ := c.Registry().Get(mcd.PVArrayData)
	assert.Equal(t, data, img.Pix)
	assert.Equal(t, testW, img.Width)
	assert.Equal(t, testH, img.Height)
	assert.Equal(t, 2, attrs.Exposures)
	assert.Equal(t, 0.01, attrs.ExposureTime)
	assert.Equal(t, mustText(t, c, mcd.PVRunID), attrs.RunID)
}

func TestWrapPolicySumsModulo256(t *testing.T) {
	opts := options(t.TempDir())
	opts.Defaults.Cycles = 4
	opts.Accumulate = mcd.Wrap
	c := newController(t, fastSim(), opts)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	waitIdle(t, c)
	require.Equal(t, mcd.StatusIdle, mustInt(t, c, mcd.PVDetectorStatus))

	data, err := c.Registry().Get(mcd.PVArrayData)
	require.NoError(t, err)
	bin := camera.Binning{H: 1, V: 1}
	wrapped := expectedSumWith(t, 4, bin, mcd.Wrap)
	if diff := cmp.Diff(wrapped.Pix, data.([]byte)); diff != "" {
		t.Errorf("wrapped image mismatch (-want +got):\n%s", diff)
	}
	// four frames of up to 240 overflow somewhere, so the policies disagree
	assert.NotEqual(t, expectedSum(t, 4, bin).Pix, wrapped.Pix)
}

func TestAutoSaveKeepsCreationExposureTime(t *testing.T) {
	det := newGated()
	dir := t.TempDir()
	opts := options(dir)
	opts.Defaults.Cycles = 2
	opts.Defaults.AutoSave = true
	c := newController(t, det, opts)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	det.step(t, 1)
	det.release <- struct{}{}
	det.step(t, 2)
	require.NoError(t, c.DispatchWrite(mcd.PVExposureTime, 0.5))
	det.release <- struct{}{}
	waitIdle(t, c)

	require.Equal(t, 0, mustInt(t, c, mcd.PVWriteStatus))
	_, attrs, err := ndfile.Read(filepath.Join(dir, "scan_0000.fits"))
	require.NoError(t, err)
	assert.Equal(t, 2, attrs.Exposures)
	assert.Equal(t, 0.01, attrs.ExposureTime)
}

func TestAbortDuringSecondCycle(t *testing.T) {
	det := newGated()
	opts := options(t.TempDir())
	opts.Defaults.Cycles = 5
	c := newController(t, det, opts)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	det.step(t, 1)
	det.release <- struct{}{}
	det.step(t, 2)
	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Stop"))
	assert.Equal(t, 0, mustInt(t, c, mcd.PVStart))
	det.release <- struct{}{}
	waitIdle(t, c)

	assert.Equal(t, 2, mustInt(t, c, mcd.PVCycleCounter))
	assert.Equal(t, mcd.StatusIdle, mustInt(t, c, mcd.PVDetectorStatus))
	assert.Equal(t, 2, det.n)
}

func TestPathValidFollowsDirectory(t *testing.T) {
	c := newController(t, fastSim(), options(t.TempDir()))

	require.NoError(t, c.DispatchWrite(mcd.PVFileDirectory, filepath.Join(t.TempDir(), "missing")))
	snap, err := c.Registry().Read(mcd.PVPathValid)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Value)
	assert.Equal(t, registry.Major, snap.Severity)

	require.NoError(t, c.DispatchWrite(mcd.PVFileDirectory, t.TempDir()))
	snap, err = c.Registry().Read(mcd.PVPathValid)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Value)
	assert.Equal(t, registry.NoAlarm, snap.Severity)
}

func TestPathValidRejectsFiles(t *testing.T) {
	c := newController(t, fastSim(), options(t.TempDir()))
	fn := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, ioutil.WriteFile(fn, nil, 0644))
	require.NoError(t, c.DispatchWrite(mcd.PVFileDirectory, fn))
	assert.Equal(t, 0, mustInt(t, c, mcd.PVPathValid))
}

func TestAutoSaveIntoInvalidPathFailsRun(t *testing.T) {
	opts := options(filepath.Join(t.TempDir(), "missing"))
	opts.Defaults.Cycles = 3
	opts.Defaults.AutoSave = true
	c := newController(t, fastSim(), opts)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	waitIdle(t, c)

	assert.Equal(t, 1, mustInt(t, c, mcd.PVCycleCounter))
	assert.Equal(t, mcd.StatusError, mustInt(t, c, mcd.PVDetectorStatus))
	assert.Equal(t, 0, mustInt(t, c, mcd.PVStart))
	snap, err := c.Registry().Read(mcd.PVWriteStatus)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Value)
	assert.Equal(t, registry.Major, snap.Severity)
	assert.Contains(t, mustText(t, c, mcd.PVWriteMessage), "missing")
	assert.Equal(t, 0, mustInt(t, c, mcd.PVFileNumber))
}

func TestBinningChangeDuringRunFailsRun(t *testing.T) {
	det := newGated()
	opts := options(t.TempDir())
	opts.Defaults.Cycles = 3
	c := newController(t, det, opts)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	det.step(t, 1)
	det.release <- struct{}{}
	det.step(t, 2)
	require.NoError(t, c.DispatchWrite(mcd.PVBinX, 2))
	det.release <- struct{}{}
	waitIdle(t, c)

	assert.Equal(t, mcd.StatusError, mustInt(t, c, mcd.PVDetectorStatus))
	assert.Equal(t, 1, mustInt(t, c, mcd.PVCycleCounter))
	shape, _ := c.Registry().Get(mcd.PVArrayShape)
	assert.Equal(t, []int{testW, testH}, shape)

	// the next run starts over at the new size
	require.NoError(t, c.DispatchWrite(mcd.PVCycleCount, 1))
	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	det.step(t, 3)
	det.release <- struct{}{}
	waitIdle(t, c)
	assert.Equal(t, mcd.StatusIdle, mustInt(t, c, mcd.PVDetectorStatus))
	shape, _ = c.Registry().Get(mcd.PVArrayShape)
	assert.Equal(t, []int{testW / 2, testH}, shape)
}

func TestHistoryRecordsOutcome(t *testing.T) {
	store, err := runlog.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	det := newGated()
	opts := options(t.TempDir())
	opts.Defaults.Cycles = 4
	opts.History = store
	c := newController(t, det, opts)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	det.step(t, 1)
	id := c.RunID()
	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Stop"))
	det.release <- struct{}{}
	waitIdle(t, c)

	recs, err := store.Recent(5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].ID)
	assert.Equal(t, runlog.Aborted, recs[0].Outcome)
	assert.Equal(t, 4, recs[0].Requested)
	assert.Equal(t, 1, recs[0].Completed)
	assert.False(t, recs[0].Finished.IsZero())
}

func TestManualSave(t *testing.T) {
	dir := t.TempDir()
	c := newController(t, fastSim(), options(dir))

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	waitIdle(t, c)
	require.NoError(t, c.DispatchWrite(mcd.PVSaveTrigger, "Save"))
	require.NoError(t, c.DispatchWrite(mcd.PVSaveTrigger, "Save"))

	assert.Equal(t, 0, mustInt(t, c, mcd.PVSaveTrigger))
	assert.Equal(t, 0, mustInt(t, c, mcd.PVWriteStatus))
	assert.Equal(t, mcd.StatusIdle, mustInt(t, c, mcd.PVDetectorStatus))
	for _, fn := range []string{"scan_0000.fits", "scan_0001.fits"} {
		_, err := os.Stat(filepath.Join(dir, fn))
		assert.NoError(t, err)
	}
	assert.Equal(t, 2, mustInt(t, c, mcd.PVFileNumber))
}

func TestSaveTriggerBeforeAnyRunIsIgnored(t *testing.T) {
	dir := t.TempDir()
	c := newController(t, fastSim(), options(dir))

	require.NoError(t, c.DispatchWrite(mcd.PVSaveTrigger, "Save"))
	assert.Equal(t, 0, mustInt(t, c, mcd.PVSaveTrigger))
	snap, err := c.Registry().Read(mcd.PVWriteStatus)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Value)
	assert.Equal(t, registry.NoAlarm, snap.Severity)
	assert.Equal(t, "", mustText(t, c, mcd.PVWriteMessage))
	assert.Equal(t, mcd.StatusIdle, mustInt(t, c, mcd.PVDetectorStatus))
	assert.Equal(t, 0, mustInt(t, c, mcd.PVFileNumber))
	files, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestManualSaveOverwriteIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	opts := options(dir)
	opts.Defaults.AutoSave = true
	opts.ManualSave = mcd.Overwrite
	c := newController(t, fastSim(), opts)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	waitIdle(t, c)
	path := mustText(t, c, mcd.PVFullFilePath)
	before, err := ioutil.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, c.DispatchWrite(mcd.PVSaveTrigger, "Save"))
	after, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	files, _ := ioutil.ReadDir(dir)
	assert.Len(t, files, 1)
}

func TestManualSaveDuringRunIsRefused(t *testing.T) {
	det := newGated()
	c := newController(t, det, options(t.TempDir()))

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	det.step(t, 1)
	err := c.DispatchWrite(mcd.PVSaveTrigger, "Save")
	assert.True(t, errors.Is(err, mcd.ErrBusy), "got %v", err)
	det.release <- struct{}{}
	waitIdle(t, c)
}

func TestResumeNumbering(t *testing.T) {
	dir := t.TempDir()
	for _, fn := range []string{"scan_0003.fits", "scan_0009.fits"} {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, fn), nil, 0644))
	}
	opts := options(dir)
	opts.ResumeNumbering = true
	c := newController(t, fastSim(), opts)
	assert.Equal(t, 10, mustInt(t, c, mcd.PVFileNumber))
}

func TestStatsArePublished(t *testing.T) {
	c := newController(t, fastSim(), options(t.TempDir()))
	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	waitIdle(t, c)

	min, _ := c.Registry().Float(mcd.PVStatsMin)
	max, _ := c.Registry().Float(mcd.PVStatsMax)
	mean, _ := c.Registry().Float(mcd.PVStatsMean)
	sigma, _ := c.Registry().Float(mcd.PVStatsSigma)
	assert.True(t, min <= mean && mean <= max, "min %v mean %v max %v", min, mean, max)
	assert.True(t, max <= 240)
	assert.True(t, sigma > 0)
}

func TestCloseAbortsRun(t *testing.T) {
	det := newGated()
	opts := options(t.TempDir())
	opts.Defaults.Cycles = 10
	c, err := mcd.New(det, opts)
	require.NoError(t, err)

	require.NoError(t, c.DispatchWrite(mcd.PVStart, "Start"))
	det.step(t, 1)
	go func() { det.release <- struct{}{} }()
	require.NoError(t, c.Close())
	assert.False(t, c.Acquiring())
	assert.Equal(t, mcd.StatusUninitialized, mustInt(t, c, mcd.PVDetectorStatus))
}

func TestSensorTooLargeForArray(t *testing.T) {
	_, err := mcd.New(sized{fastSim()}, options(t.TempDir()))
	assert.Error(t, err)
}

type sized struct{ camera.Detector }

func (sized) GetRes() ([2]int, error) { return [2]int{1000, 1000}, nil }
