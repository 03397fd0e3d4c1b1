package reconcile

import "strings"

// Key identifies a document across the books and the counterparty statement
type Key struct {
	Counterparty string
	Document     string
}

var separatorStripper = strings.NewReplacer("-", "", "/", "", " ", "", "\\", "")

// NormalizeDocument canonicalizes a document number: upper-cased, trimmed,
// separators removed, leading zeros stripped. An all-zero number becomes "0".
func NormalizeDocument(documentID string) string {
	doc := separatorStripper.Replace(strings.ToUpper(strings.TrimSpace(documentID)))
	trimmed := strings.TrimLeft(doc, "0")
	if trimmed == "" && doc != "" {
		return "0"
	}
	return trimmed
}

// NormalizeKey canonicalizes a (counterparty id, document id) pair so that
// formatting drift between books and statements does not defeat matching
func NormalizeKey(counterpartyID, documentID string) Key {
	return Key{
		Counterparty: strings.ToUpper(strings.TrimSpace(counterpartyID)),
		Document:     NormalizeDocument(documentID),
	}
}
