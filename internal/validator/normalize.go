package validator

import (
	"regexp"
	"strings"
)

// legalSuffixes lists entity suffixes to strip during supplier name
// normalization. Mexican forms first since most suppliers are local.
var legalSuffixes = []string{
	" SA DE CV", " S.A. DE C.V.", " S.A DE C.V", " SA. DE CV.",
	" S DE RL DE CV", " S. DE R.L. DE C.V.",
	" S DE RL", " S. DE R.L.",
	" SAPI DE CV", " S.A.P.I. DE C.V.",
	" SC", " S.C.",
	" SA", " S.A.",
	" LLC", " L.L.C.",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" CO", " CO.",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

var accentReplacer = strings.NewReplacer(
	"Á", "A", "É", "E", "Í", "I", "Ó", "O", "Ú", "U", "Ü", "U", "Ñ", "N",
)

// NormalizeSupplier standardizes a supplier name for matching by trimming,
// uppercasing, folding accents, removing legal suffixes, stripping
// punctuation, and collapsing whitespace.
func NormalizeSupplier(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = strings.ToUpper(name)
	name = accentReplacer.Replace(name)

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", " Y ",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// SuppliersMatch reports whether two supplier names refer to the same
// entity after normalization. Containment counts as a match: invoices
// often carry the full legal name while orders carry the trade name.
func SuppliersMatch(a, b string) bool {
	na, nb := NormalizeSupplier(a), NormalizeSupplier(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}
