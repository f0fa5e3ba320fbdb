package main

import (
	"os"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	faint  = color.New(color.Faint)
)

// success prints a confirmation line in green
func success(format string, a ...any) {
	green.Printf(format+"\n", a...)
}

// warning prints to stderr in yellow so piped page content stays clean
func warning(format string, a ...any) {
	yellow.Fprintf(os.Stderr, format+"\n", a...)
}

// warmStatus renders one prefetch result.
func warmStatus(fetched bool, err error) string {
	switch {
	case err != nil:
		return red.Sprint("failed: " + err.Error())
	case fetched:
		return green.Sprint("fetched")
	default:
		return faint.Sprint("fresh")
	}
}

func stampOrNone(stamp string) string {
	if stamp == "" {
		return faint.Sprint("(none)")
	}
	return stamp
}
