// Package protocol implements the ZenTalk Lite addressing protocol.
//
// The protocol is line oriented: every record is a single UTF-8 line terminated
// by '\n'. Message bodies are opaque envelopes produced by pkg/crypto; the relay
// routes them without ever opening them.
//
// # Client to relay
//
//   - "<id>:<envelope>": deliver envelope to the client holding identity id
//   - "/list": ask for the identities currently connected
//
// # Relay to client
//
//   - Welcome (on connect): "Bienvenue sur le serveur de chat ! Votre ID est <id>"
//   - Rejection (on connect, relay full): "Serveur plein. Connexion refusée."
//   - Routed message: "Client <sender> -> Vous: <envelope>"
//   - List response: "Clients connectés : 1, 2, 5"
//   - Warnings: "⚠️ ..." lines, never encrypted
//
// # Client side classification
//
// Clients do not receive typed frames. ClassifyServerLine tries the known shapes
// in order (list response, routed marker, colon delimited) and falls back to
// plain status text, so an unknown line is always displayed verbatim.
//
// # Framing
//
// A non-blocking read may return half a line or several lines at once.
// LineFramer reassembles reads into complete lines and bounds the length of a
// line that never terminates.
package protocol
