package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

var (
	SuccessColorFG = pterm.FgLightGreen
	SuccessStyleBG = pterm.NewStyle(pterm.BgLightGreen, pterm.FgBlack)
	WarnColorFG    = pterm.FgYellow
	WarnStyleBG    = pterm.NewStyle(pterm.BgYellow, pterm.FgBlack)
	ErrorColorFG   = pterm.FgRed
	ErrorStyleBG   = pterm.NewStyle(pterm.BgRed, pterm.FgWhite)
	InfoColorFG    = pterm.FgLightCyan
	InfoStyleBG    = pterm.NewStyle(pterm.BgLightCyan, pterm.FgBlack)
)

// Output receives every message. Standard output is reserved for IR.
var Output io.Writer = os.Stderr

// Debug enables timing messages.
var Debug = false

func display(style *pterm.Style, color pterm.Color, tag, msg string) {
	fmt.Fprintln(Output, style.Sprint(tag)+color.Sprint(" "+msg))
}

// PrintErrorMessage prints a standard Go error
func PrintErrorMessage(tag string, err error) {
	display(ErrorStyleBG, ErrorColorFG, tag, err.Error())
}

func PrintWarningMessage(tag, msg string) {
	display(WarnStyleBG, WarnColorFG, tag, msg)
}

func PrintInfoMessage(tag, msg string) {
	display(InfoStyleBG, InfoColorFG, tag, msg)
}

func PrintSuccessMessage(tag, msg string) {
	display(SuccessStyleBG, SuccessColorFG, tag, msg)
}

// PrintTiming reports how long a step took since start, in debug mode only.
func PrintTiming(step string, start time.Time) {
	if !Debug {
		return
	}

	elapsed := time.Since(start)
	if elapsed < time.Millisecond {
		PrintInfoMessage("time", fmt.Sprintf("%dus %s", elapsed.Microseconds(), step))
	} else {
		PrintInfoMessage("time", fmt.Sprintf("%dms %s", elapsed.Milliseconds(), step))
	}
}

// Writer adapts a tagged info stream, e.g. for pass traces.
type Writer struct {
	Tag string
}

func (w Writer) Write(p []byte) (int, error) {
	PrintInfoMessage(w.Tag, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
