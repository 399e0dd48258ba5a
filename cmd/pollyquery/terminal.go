package main

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// palette holds the trace styles. Outside a terminal every style is plain.
type palette struct {
	thought     termenv.Style
	action      termenv.Style
	observation termenv.Style
	query       termenv.Style
	answer      termenv.Style
	failure     termenv.Style
	dim         termenv.Style
}

func newPalette(out *termenv.Output) palette {
	if out.Profile == termenv.Ascii || out.HasDarkBackground() {
		return palette{
			thought:     out.String().Foreground(out.Color("244")).Italic(),
			action:      out.String().Foreground(out.Color("179")).Bold(),
			observation: out.String().Foreground(out.Color("65")),
			query:       out.String().Foreground(out.Color("32")),
			answer:      out.String().Foreground(out.Color("141")),
			failure:     out.String().Foreground(out.Color("124")),
			dim:         out.String().Faint(),
		}
	}
	return palette{
		thought:     out.String().Foreground(out.Color("240")).Italic(),
		action:      out.String().Foreground(out.Color("136")).Bold(),
		observation: out.String().Foreground(out.Color("28")),
		query:       out.String().Foreground(out.Color("26")),
		answer:      out.String().Foreground(out.Color("90")),
		failure:     out.String().Foreground(out.Color("160")),
		dim:         out.String().Foreground(out.Color("240")),
	}
}

// isTerminal checks if output is going to a terminal
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
