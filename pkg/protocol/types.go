package protocol

// Command and marker strings of the wire grammar
const (
	// CommandList asks the relay for connected identities
	CommandList = "/list"

	// CommandExit ends a client session locally, it is never sent
	CommandExit = "exit"

	// Separator splits recipient identity from envelope
	Separator = ":"

	// RoutedMarker separates the sender prefix from the envelope in a routed message
	RoutedMarker = "-> Vous: "

	// ListPrefix starts every list response
	ListPrefix = "Clients connectés : "

	// WarningPrefix starts every warning line sent by the relay
	WarningPrefix = "⚠️ "

	// WelcomePrefix starts the welcome line, the identity follows
	WelcomePrefix = "Bienvenue sur le serveur de chat ! Votre ID est "

	// RejectedLine is sent before the relay closes a connection it has no room for
	RejectedLine = "Serveur plein. Connexion refusée."

	// LineTerminator ends every record on the wire
	LineTerminator = "\n"
)

// DefaultMaxLineLength bounds a single record, envelope included
const DefaultMaxLineLength = 4096

// RequestKind tells what a client line asks the relay to do
type RequestKind int

const (
	// RequestSend - deliver an envelope to another identity
	RequestSend RequestKind = iota

	// RequestList - list connected identities
	RequestList
)

// Request is a parsed client line
type Request struct {
	Kind       RequestKind
	Recipient  int
	Ciphertext string
}

// LineKind classifies a line received by a client
type LineKind int

const (
	// LineStatus - plain text from the relay, displayed verbatim
	LineStatus LineKind = iota

	// LineList - response to /list
	LineList

	// LineRouted - "Client <id> -> Vous: <envelope>"
	LineRouted

	// LineDelimited - "<prefix>: <envelope>" without the routed marker
	LineDelimited
)

func (k LineKind) String() string {
	switch k {
	case LineList:
		return "list"
	case LineRouted:
		return "routed"
	case LineDelimited:
		return "delimited"
	default:
		return "status"
	}
}

// ServerLine is a classified relay line.
// Ciphertext is only set for LineRouted and LineDelimited.
type ServerLine struct {
	Kind       LineKind
	Prefix     string
	Ciphertext string
	Raw        string
}

// HasCiphertext reports whether the line carries an envelope
func (l ServerLine) HasCiphertext() bool {
	return l.Kind == LineRouted || l.Kind == LineDelimited
}
