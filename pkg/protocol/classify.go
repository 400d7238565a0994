package protocol

import (
	"strings"
)

// ClassifyServerLine sorts a relay line into one of the known shapes.
// Shapes are tried in order: list response, routed message, warning,
// colon delimited; anything else is plain status text.
func ClassifyServerLine(line string) ServerLine {
	line = strings.TrimRight(line, "\r\n")
	out := ServerLine{Kind: LineStatus, Raw: line}

	switch {
	case strings.HasPrefix(line, "Clients"):
		out.Kind = LineList

	case strings.Contains(line, RoutedMarker):
		prefix, ciphertext, _ := strings.Cut(line, RoutedMarker)
		out.Kind = LineRouted
		out.Prefix = prefix + RoutedMarker
		out.Ciphertext = strings.TrimSpace(ciphertext)

	case IsWarning(line):
		// warnings quote user input and may contain ": ", they are never encrypted

	case strings.Contains(line, ": "):
		prefix, ciphertext, _ := strings.Cut(line, ": ")
		out.Kind = LineDelimited
		out.Prefix = prefix + ": "
		out.Ciphertext = strings.TrimSpace(ciphertext)
	}

	return out
}
