package ui

import "strings"

const (
	reset      = "\033[0m"
	bold       = "\033[1m"
	frost      = "\033[38;5;195m"
	signalRed  = "\033[38;5;203m"
	ember      = "\033[38;5;208m"
	amber      = "\033[38;5;214m"
	lime       = "\033[38;5;149m"
	mint       = "\033[38;5;121m"
	seafoam    = "\033[38;5;49m"
	cobalt     = "\033[38;5;33m"
	deepIndigo = "\033[38;5;61m"
	fuchsia    = "\033[38;5;177m"
)

var letters = map[rune][]string{
	'j': {"     ██╗", "     ██║", "     ██║", "██   ██║", "╚█████╔╝", " ╚════╝ "},
	'i': {"██╗", "██║", "██║", "██║", "██║", "╚═╝"},
	't': {"████████╗", "╚══██╔══╝", "   ██║   ", "   ██║   ", "   ██║   ", "   ╚═╝   "},
	'e': {"███████╗", "██╔════╝", "█████╗  ", "██╔══╝  ", "███████╗", "╚══════╝"},
	'r': {"██████╗ ", "██╔══██╗", "██████╔╝", "██╔══██╗", "██║  ██║", "╚═╝  ╚═╝"},
	'l': {"██╗     ", "██║     ", "██║     ", "██║     ", "███████╗", "╚══════╝"},
	'n': {"███╗   ██╗", "████╗  ██║", "██╔██╗ ██║", "██║╚██╗██║", "██║ ╚████║", "╚═╝  ╚═══╝"},
	's': {" ██████╗ ", "██╔════╝ ", "╚█████╗  ", " ╚═══██╗ ", "██████╔╝ ", "╚═════╝  "},
}

// Banner renders a colored jitterlens wordmark.
func Banner() string {
	var b strings.Builder

	gradient := []string{signalRed, ember, amber, lime, mint, seafoam, cobalt, deepIndigo, fuchsia, frost}
	rows := make([]string, 6)
	for i, r := range "jitterlens" {
		color := gradient[i%len(gradient)]
		for row, part := range letters[r] {
			rows[row] += color + part + " "
		}
	}
	for _, line := range rows {
		b.WriteString(bold + line + reset + "\n")
	}

	b.WriteString("\n")
	b.WriteString(bold + signalRed + "jitterlens" + reset + "  •  real-time latency under load\n\n")

	return b.String()
}
