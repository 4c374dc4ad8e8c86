package mcd

import "github.com/nasa-jpl/mcdserver/registry"

// variable names
const (
	PVStart          = "start"
	PVDetectorStatus = "detector-status"
	PVExposureTime   = "exposure-time"
	PVCycleCount     = "cycle-count"
	PVCycleCounter   = "cycle-counter"
	PVBinX           = "bin-x"
	PVBinY           = "bin-y"

	PVArrayDims  = "array-dims"
	PVArrayShape = "array-shape"
	PVArraySizeX = "array-size-x"
	PVArraySizeY = "array-size-y"
	PVArraySizeZ = "array-size-z"
	PVArrayKind  = "array-kind"
	PVColorMode  = "color-mode"
	PVArrayData  = "array-data"

	PVSaveTrigger   = "save-trigger"
	PVFileDirectory = "file-directory"
	PVFileName      = "file-name"
	PVFileNumber    = "file-number"
	PVFileTemplate  = "file-template"
	PVAutoIncrement = "auto-increment"
	PVAutoSave      = "auto-save"
	PVFullFilePath  = "full-file-path"
	PVPathValid     = "path-valid"
	PVWriteStatus   = "write-status"
	PVWriteMessage  = "write-message"

	PVStatsMin   = "stats-min"
	PVStatsMax   = "stats-max"
	PVStatsMean  = "stats-mean"
	PVStatsSigma = "stats-sigma"
	PVRunID      = "run-id"
)

// detector-status values
const (
	StatusIdle = iota
	StatusAcquire
	StatusSaving
	StatusUninitialized
	StatusError
)

// ArrayCapacity is the largest image array-data can hold
const ArrayCapacity = 800000

// array-kind labels, UInt8 is the only one produced
var arrayKinds = []string{"Int8", "UInt8", "Int16", "UInt16", "Int32", "UInt32"}

const arrayKindUInt8 = 1

var noYes = []string{"No", "Yes"}

func yes(b bool) int {
	if b {
		return 1
	}
	return 0
}

func definitions(d Defaults) []registry.Definition {
	return []registry.Definition{
		{Name: PVStart, Kind: registry.Enum, Enums: []string{"Stop", "Start"}},
		{Name: PVDetectorStatus, Kind: registry.Enum, ReadOnly: true,
			Enums:  []string{"Idle", "Acquire", "Saving", "Un-initialized", "Error"},
			States: []registry.Severity{registry.NoAlarm, registry.Minor, registry.Minor, registry.Major, registry.Major},
			Value:  StatusUninitialized},
		{Name: PVExposureTime, Kind: registry.Float, Value: d.ExposureTime, Units: "s", Prec: 3},
		{Name: PVCycleCount, Kind: registry.Int, Value: d.Cycles},
		{Name: PVCycleCounter, Kind: registry.Int, ReadOnly: true},
		{Name: PVBinX, Kind: registry.Int, Value: d.BinX},
		{Name: PVBinY, Kind: registry.Int, Value: d.BinY},

		{Name: PVArrayDims, Kind: registry.Int, ReadOnly: true},
		{Name: PVArrayShape, Kind: registry.IntArray, Count: 3, ReadOnly: true},
		{Name: PVArraySizeX, Kind: registry.Int, ReadOnly: true},
		{Name: PVArraySizeY, Kind: registry.Int, ReadOnly: true},
		{Name: PVArraySizeZ, Kind: registry.Int, ReadOnly: true},
		{Name: PVArrayKind, Kind: registry.Enum, Enums: arrayKinds, ReadOnly: true, Value: arrayKindUInt8},
		{Name: PVColorMode, Kind: registry.Enum, Enums: []string{"Mono"}, ReadOnly: true},
		{Name: PVArrayData, Kind: registry.Char, Count: ArrayCapacity, ReadOnly: true},

		{Name: PVSaveTrigger, Kind: registry.Enum, Enums: []string{"None", "Save"}},
		{Name: PVFileDirectory, Kind: registry.String, Count: 256, Value: d.FileDirectory},
		{Name: PVFileName, Kind: registry.String, Count: 128, Value: d.FileName},
		{Name: PVFileNumber, Kind: registry.Int, Value: d.FileNumber},
		{Name: PVFileTemplate, Kind: registry.String, Count: 128, Value: d.FileTemplate},
		{Name: PVAutoIncrement, Kind: registry.Enum, Enums: noYes, Value: yes(d.AutoIncrement)},
		{Name: PVAutoSave, Kind: registry.Enum, Enums: noYes, Value: yes(d.AutoSave)},
		{Name: PVFullFilePath, Kind: registry.String, Count: 512, ReadOnly: true},
		{Name: PVPathValid, Kind: registry.Enum, Enums: noYes, ReadOnly: true,
			States: []registry.Severity{registry.Major, registry.NoAlarm}},
		{Name: PVWriteStatus, Kind: registry.Enum, Enums: []string{"Ok", "Error"}, ReadOnly: true,
			States: []registry.Severity{registry.NoAlarm, registry.Major}},
		{Name: PVWriteMessage, Kind: registry.String, Count: 256, ReadOnly: true},

		{Name: PVStatsMin, Kind: registry.Float, ReadOnly: true},
		{Name: PVStatsMax, Kind: registry.Float, ReadOnly: true},
		{Name: PVStatsMean, Kind: registry.Float, ReadOnly: true, Prec: 3},
		{Name: PVStatsSigma, Kind: registry.Float, ReadOnly: true, Prec: 3},
		{Name: PVRunID, Kind: registry.String, Count: 64, ReadOnly: true},
	}
}
