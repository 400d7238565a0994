package protocol

import "testing"

func TestClassifyServerLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		kind       LineKind
		prefix     string
		ciphertext string
	}{
		{
			name: "list response",
			line: "Clients connectés : 1, 2",
			kind: LineList,
		},
		{
			name:       "routed message",
			line:       "Client 3 -> Vous: c2VjcmV0\n",
			kind:       LineRouted,
			prefix:     "Client 3 -> Vous: ",
			ciphertext: "c2VjcmV0",
		},
		{
			name: "not found warning",
			line: "⚠️ Client 9 introuvable.",
			kind: LineStatus,
		},
		{
			name: "parse warning quoting input",
			line: "⚠️ Erreur dans le message : invalid recipient identity: \"bob\"",
			kind: LineStatus,
		},
		{
			name:       "colon delimited",
			line:       "Serveur: YWJj",
			kind:       LineDelimited,
			prefix:     "Serveur: ",
			ciphertext: "YWJj",
		},
		{
			name: "welcome",
			line: FormatWelcome(1),
			kind: LineStatus,
		},
		{
			name: "rejection",
			line: FormatRejected(),
			kind: LineStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyServerLine(tt.line)
			if got.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Prefix != tt.prefix {
				t.Errorf("Prefix = %q, want %q", got.Prefix, tt.prefix)
			}
			if got.Ciphertext != tt.ciphertext {
				t.Errorf("Ciphertext = %q, want %q", got.Ciphertext, tt.ciphertext)
			}

			wantCipher := tt.kind == LineRouted || tt.kind == LineDelimited
			if got.HasCiphertext() != wantCipher {
				t.Errorf("HasCiphertext() = %v, want %v", got.HasCiphertext(), wantCipher)
			}
		})
	}
}
