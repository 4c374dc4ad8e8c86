package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joho/godotenv"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/mcdserver/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// Addr is the base URL of mcd-http, overridden by MCD_URL
	Addr = "http://localhost:8000/mcd"

	client = &http.Client{Timeout: 10 * time.Second}
)

type variable struct {
	Name     string      `json:"name"`
	Value    interface{} `json:"value"`
	Label    string      `json:"label"`
	Severity string      `json:"severity"`
}

func root() {
	str := `mcdctl talks to mcd-http

Usage:
	mcdctl <command> [arguments]

Commands:
	get <variable>...
	put <variable> <value>
	acquire [cycles]
	version

The server is found at MCD_URL, default http://localhost:8000/mcd.`
	fmt.Println(str)
}

func get(name string) (variable, error) {
	v := variable{}
	resp, err := client.Get(Addr + "/pv/" + name)
	if err != nil {
		return v, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return v, statusError(resp)
	}
	err = json.NewDecoder(resp.Body).Decode(&v)
	return v, err
}

func put(name string, value interface{}) error {
	buf := &bytes.Buffer{}
	err := json.NewEncoder(buf).Encode(map[string]interface{}{"value": value})
	if err != nil {
		return err
	}
	resp, err := client.Post(Addr+"/pv/"+name, "application/json", buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func statusError(resp *http.Response) error {
	b, _ := ioutil.ReadAll(resp.Body)
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
}

// parseValue sends numbers as numbers and everything else as text
func parseValue(s string) interface{} {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func printVar(v variable) {
	val := fmt.Sprint(v.Value)
	switch {
	case v.Label != "":
		val = v.Label
	case isArray(v.Value):
		val = util.IntSliceToCSV(toInts(v.Value.([]interface{})))
	}
	if v.Severity != "" && v.Severity != "NO_ALARM" {
		fmt.Printf("%s\t%s\t%s\n", v.Name, val, v.Severity)
		return
	}
	fmt.Printf("%s\t%s\n", v.Name, val)
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

// toInts converts a decoded JSON array of numbers to ints
func toInts(a []interface{}) []int {
	out := make([]int, len(a))
	for i, v := range a {
		f, _ := v.(float64)
		out[i] = int(f)
	}
	return out
}

func acquire(args []string) {
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			log.Fatalf("cycles must be an integer, got %q", args[0])
		}
		if err = put("cycle-count", n); err != nil {
			log.Fatal(err)
		}
	}
	total, err := get("cycle-count")
	if err != nil {
		log.Fatal(err)
	}
	if err = put("start", "Start"); err != nil {
		log.Fatal(err)
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " acquiring",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()

	// poll until start drops back to Stop.  A failed request ends the poll
	// early, so it is kept aside and reported after Retry returns.
	var pollErr error
	op := func() error {
		start, err := get("start")
		if err != nil {
			pollErr = err
			return nil
		}
		counter, err := get("cycle-counter")
		if err == nil {
			spinner.Message(fmt.Sprintf("cycle %v of %v", counter.Value, total.Value))
		}
		if start.Label == "Start" {
			return fmt.Errorf("still acquiring")
		}
		return nil
	}
	backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          1.5,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock})
	if pollErr != nil {
		spinner.StopFailMessage(pollErr.Error())
		spinner.StopFail()
		os.Exit(1)
	}

	status, err := get("detector-status")
	if err != nil || status.Label == "Error" {
		msg, _ := get("write-message")
		spinner.StopFailMessage(fmt.Sprintf("acquisition failed %v", msg.Value))
		spinner.StopFail()
		os.Exit(1)
	}
	spinner.StopMessage("done")
	spinner.Stop()
	for _, name := range []string{"cycle-counter", "full-file-path", "stats-mean"} {
		if v, err := get(name); err == nil {
			printVar(v)
		}
	}
}

func main() {
	// a missing .env is normal
	godotenv.Load()
	if u := os.Getenv("MCD_URL"); u != "" {
		Addr = strings.TrimSuffix(u, "/")
	}
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd := strings.ToLower(args[1])
	args = args[2:]
	switch cmd {
	case "get":
		if len(args) == 0 {
			log.Fatal("get needs at least one variable name")
		}
		for _, name := range args {
			v, err := get(name)
			if err != nil {
				log.Fatal(err)
			}
			printVar(v)
		}
	case "put":
		if len(args) != 2 {
			log.Fatal("put needs a variable name and a value")
		}
		if err := put(args[0], parseValue(args[1])); err != nil {
			log.Fatal(err)
		}
	case "acquire":
		acquire(args)
	case "version":
		fmt.Printf("mcdctl version %v\n", Version)
	default:
		log.Fatal("unknown command")
	}
}
