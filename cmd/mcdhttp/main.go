package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/mcdserver/generichttp"
	"github.com/nasa-jpl/mcdserver/hamamatsu"
	"github.com/nasa-jpl/mcdserver/mcd"
	"github.com/nasa-jpl/mcdserver/runlog"
	"github.com/nasa-jpl/mcdserver/server/middleware/locker"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "mcd-http.yml"

	// EnvPrefix prefixes environment variables which override the config file
	EnvPrefix = "MCD_"
	k         = koanf.New(".")
)

type detector struct {
	// HSize is the horizontal size of the simulated sensor
	HSize int `yaml:"HSize"`

	// VSize is the vertical size of the simulated sensor
	VSize int `yaml:"VSize"`
}

type config struct {
	Addr            string       `yaml:"Addr"`
	Root            string       `yaml:"Root"`
	LogLevel        string       `yaml:"LogLevel"`
	Detector        detector     `yaml:"Detector"`
	Defaults        mcd.Defaults `yaml:"Defaults"`
	Accumulate      string       `yaml:"Accumulate"`
	ManualSave      string       `yaml:"ManualSave"`
	ResumeNumbering bool         `yaml:"ResumeNumbering"`
	HistoryPath     string       `yaml:"HistoryPath"`
	MonitorArrayHz  float64      `yaml:"MonitorArrayHz"`
}

func setupconfig() {
	// a missing .env is normal
	godotenv.Load()

	k.Load(structs.Provider(config{
		Addr:           ":8000",
		Root:           "/mcd",
		LogLevel:       "info",
		Detector:       detector{HSize: hamamatsu.HSize, VSize: hamamatsu.VSize},
		Defaults:       mcd.DefaultDefaults(),
		Accumulate:     string(mcd.Saturate),
		ManualSave:     string(mcd.NewFile),
		HistoryPath:    "mcd-runs.db",
		MonitorArrayHz: 2,
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

// envKey maps MCD_DEFAULTS_EXPOSURETIME to the config key Defaults.ExposureTime
func envKey(s string) string {
	key := strings.Replace(strings.TrimPrefix(s, EnvPrefix), "_", ".", -1)
	for _, known := range k.Keys() {
		if strings.EqualFold(known, key) {
			return known
		}
	}
	return key
}

func root() {
	str := `mcd-http exposes control of a Hamamatsu MCD multichannel detector over HTTP
The detector is presented as a set of named variables which can be read,
written, and monitored over a websocket.

Usage:
	mcd-http <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `mcd-http is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated defaults when making
a config file.

Any key may be overridden by an environment variable prefixed with MCD_, with nested keys
separated by underscores, e.g. MCD_DEFAULTS_FILEDIRECTORY=/data.  A .env file in the working
directory is loaded first.

Accumulate is saturate or wrap, and decides what happens when summed pixels exceed 255.
ManualSave is new or overwrite; with overwrite, a save request outside of a run rewrites the
last file written instead of creating a new one.

ResumeNumbering scans Defaults.FileDirectory at startup and starts numbering after the
highest numbered file already there.

HistoryPath is a sqlite database holding one row per acquisition.  Leave it empty to
disable the history.

MonitorArrayHz limits how often the image is sent to each websocket monitor client.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("mcd-http version %v\n", Version)
}

func run() {
	cfg := config{}
	err := k.Unmarshal("", &cfg)
	if err != nil {
		log.Fatal(err)
	}
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	logger.SetLevel(lvl)

	opts := mcd.Options{
		Defaults:        cfg.Defaults,
		Accumulate:      mcd.AccumulatePolicy(cfg.Accumulate),
		ManualSave:      mcd.ManualSavePolicy(cfg.ManualSave),
		ResumeNumbering: cfg.ResumeNumbering,
		Log:             logger,
	}
	if cfg.HistoryPath != "" {
		store, err := runlog.Open(cfg.HistoryPath)
		if err != nil {
			log.Fatal(err)
		}
		defer store.Close()
		opts.History = store
	}

	det := hamamatsu.NewMCDSize(cfg.Detector.HSize, cfg.Detector.VSize)
	ctl, err := mcd.New(det, opts)
	if err != nil {
		log.Fatal(err)
	}
	w := mcd.NewHTTPWrapper(ctl, cfg.MonitorArrayHz)
	lock := locker.New()
	locker.Inject(w, lock)

	// clean up the submux string
	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	w.RT().Bind(mux)
	root.Mount(hndlrS, mux)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		logger.Info("shutting down")
		if err := ctl.Close(); err != nil {
			logger.WithError(err).Error("closing detector")
		}
		if s, ok := opts.History.(*runlog.Store); ok {
			s.Close()
		}
		os.Exit(0)
	}()

	addr := cfg.Addr + hndlrS
	logger.WithField("addr", addr).Info("now listening for requests")
	log.Fatal(http.ListenAndServe(cfg.Addr, root))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
