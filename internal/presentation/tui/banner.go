package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{"  _____              _      ____            _    ", "#34d399"},
	{" |_   _| __ __ _  __| | ___|  _ \\  ___  ___| | __", "#10b981"},
	{"   | || '__/ _` |/ _` |/ _ \\ | | |/ _ \\/ __| |/ /", "#14b8a6"},
	{"   | || | | (_| | (_| |  __/ |_| |  __/\\__ \\   < ", "#06b6d4"},
	{"   |_||_|  \\__,_|\\__,_|\\___|____/ \\___||___/_|\\_\\", "#0ea5e9"},
}

// PrintBanner writes the ASCII banner and the version to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	p := out.Profile

	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, out.String(l.text).Foreground(p.Color(l.color)))
	}
	if v := strings.TrimSpace(version); v != "" {
		fmt.Fprintln(w, out.String("   OpenAlgo trading assistant v"+v).Faint())
	}
	fmt.Fprintln(w)
}

// Label returns a colored "Role: " prefix for the chat transcript.
func Label(w io.Writer, role string) string {
	out := termenv.NewOutput(w)
	color := "#60a5fa"
	if role == "Assistant" {
		color = "#34d399"
	}
	return out.String(role + ": ").Foreground(out.Profile.Color(color)).Bold().String()
}
