package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMissingSeparator = errors.New("missing ':' separator")
	ErrInvalidRecipient = errors.New("invalid recipient identity")
)

// ParseRequest parses a client line received by the relay.
// The line is trimmed first; anything else than /list must be "<id>:<envelope>".
func ParseRequest(line string) (Request, error) {
	line = strings.TrimSpace(line)

	if line == CommandList {
		return Request{Kind: RequestList}, nil
	}

	destText, ciphertext, found := strings.Cut(line, Separator)
	if !found {
		return Request{}, ErrMissingSeparator
	}

	dest, err := parseIdentity(destText)
	if err != nil {
		return Request{}, err
	}

	return Request{
		Kind:       RequestSend,
		Recipient:  dest,
		Ciphertext: strings.TrimSpace(ciphertext),
	}, nil
}

// ParseOutgoing validates user input "<numeric-id>: <text>" before anything is sent.
// It returns the recipient as typed (trimmed) and the trimmed text.
func ParseOutgoing(input string) (recipient string, text string, err error) {
	destText, text, found := strings.Cut(input, Separator)
	if !found {
		return "", "", ErrMissingSeparator
	}

	recipient = strings.TrimSpace(destText)
	if !isDigits(recipient) {
		return "", "", fmt.Errorf("%w: %q is not a number", ErrInvalidRecipient, recipient)
	}

	return recipient, strings.TrimSpace(text), nil
}

// FormatSend builds the client line carrying an envelope
func FormatSend(recipient string, ciphertext string) string {
	return recipient + Separator + ciphertext
}

// FormatWelcome builds the line greeting a newly registered client
func FormatWelcome(id int) string {
	return WelcomePrefix + strconv.Itoa(id)
}

// ParseWelcome extracts the identity from a welcome line
func ParseWelcome(line string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), WelcomePrefix)
	if !ok {
		return 0, false
	}

	id, err := parseIdentity(rest)
	if err != nil {
		return 0, false
	}
	return id, true
}

// FormatRejected builds the line sent when the relay is full
func FormatRejected() string {
	return RejectedLine
}

// FormatRouted builds the line forwarded to a recipient
func FormatRouted(sender int, ciphertext string) string {
	return fmt.Sprintf("Client %d %s%s", sender, RoutedMarker, ciphertext)
}

// FormatList builds the /list response, ids in the given order
func FormatList(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return ListPrefix + strings.Join(parts, ", ")
}

// ParseList extracts identities from a /list response
func ParseList(line string) ([]int, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), strings.TrimSpace(ListPrefix))
	if !ok {
		return nil, fmt.Errorf("not a list response: %q", line)
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return []int{}, nil
	}

	fields := strings.Split(rest, ",")
	ids := make([]int, 0, len(fields))
	for _, field := range fields {
		id, err := parseIdentity(field)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FormatNotFound warns a sender that the destination is not connected
func FormatNotFound(dest int) string {
	return fmt.Sprintf("%sClient %d introuvable.", WarningPrefix, dest)
}

// FormatInvalidFormat warns a sender that its line has no separator
func FormatInvalidFormat() string {
	return WarningPrefix + "Format de message invalide. Utilisez 'ID: message'"
}

// FormatParseError warns a sender that its line could not be parsed
func FormatParseError(err error) string {
	return fmt.Sprintf("%sErreur dans le message : %v", WarningPrefix, err)
}

// FormatTooLong warns a sender that a line exceeded the framing limit
func FormatTooLong(max int) string {
	return fmt.Sprintf("%sMessage trop long (max %d octets).", WarningPrefix, max)
}

// IsWarning reports whether line is a relay warning
func IsWarning(line string) bool {
	return strings.HasPrefix(line, WarningPrefix)
}

func parseIdentity(text string) (int, error) {
	text = strings.TrimSpace(text)
	if !isDigits(text) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRecipient, text)
	}

	id, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	return id, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
