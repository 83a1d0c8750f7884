package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// debugEnv enables full error traces and dumps every log field
const debugEnv = "XBUILD_DEBUG"

var levelColors = map[string]string{
	"trace": "[dark_gray]",
	"debug": "[blue]",
	"info":  "[green]",
	"warn":  "[yellow]",
	"error": "[red]",
	"fatal": "[red][bold]",
	"panic": "[red][bold]",
}

// fields rendered inline; everything else only shows up with XBUILD_DEBUG
var inlineFields = map[string]bool{
	"level":     true,
	"message":   true,
	"job":       true,
	"command":   true,
	"exit_code": true,
	"duration":  true,
	"error":     true,
}

// ConsoleWriter renders zerolog's JSON events as coloured lines prefixed with the job they belong to:
//
//	x86_64-pc-windows-gnu/release/udp_sender: Error: failed (exit code 101)
type ConsoleWriter struct {
	Out   io.Writer
	Debug bool

	buffer strings.Builder
	lock   sync.Mutex
}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{Out: out, Debug: os.Getenv(debugEnv) != ""}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	level, _ := evt["level"].(string)
	color, ok := levelColors[level]
	if !ok {
		color = "[green]"
	}

	w.buffer.Reset()
	w.buffer.WriteString(color)

	if job, ok := evt["job"]; ok {
		w.buffer.WriteString(fmt.Sprint(job) + ": ")
	}
	if level == "error" || level == "fatal" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)
	if isCommand, _ := evt["command"].(bool); isCommand {
		msg = "[reset][bold]$[reset] " + msg
	}
	w.buffer.WriteString(msg)

	if code, ok := evt["exit_code"].(json.Number); ok {
		w.buffer.WriteString(" (exit code " + code.String() + ")")
	}
	if duration, ok := durationField(evt["duration"]); ok {
		w.buffer.WriteString(" in " + duration.String())
	}

	if errorDetails, ok := evt["error"]; ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(fmt.Sprint(errorDetails))
	}

	if w.Debug {
		w.writeExtraFields(evt)
	}

	w.buffer.WriteString("[reset]\n")
	_, err = colorstring.Fprint(w.Out, w.buffer.String())
	return len(p), err
}

// writeExtraFields appends the fields that weren't rendered inline, sorted by name
func (w *ConsoleWriter) writeExtraFields(evt map[string]interface{}) {
	names := make([]string, 0, len(evt))
	for name := range evt {
		if !inlineFields[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		w.buffer.WriteString(fmt.Sprintf("\n  %s: %+v", name, evt[name]))
	}
}

// durationField converts zerolog's Dur() value back into a duration rounded for humans
func durationField(value interface{}) (time.Duration, bool) {
	number, ok := value.(json.Number)
	if !ok {
		return 0, false
	}

	amount, err := number.Float64()
	if err != nil {
		return 0, false
	}

	duration := time.Duration(amount * float64(zerolog.DurationFieldUnit))
	return duration.Round(time.Millisecond), true
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv(debugEnv) != "")
	}
}
