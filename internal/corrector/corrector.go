// Package corrector repairs malformed contact identifiers returned by the
// messaging protocol. Some relay-style identifiers arrive as opaque numeric
// tokens that do not resemble phone numbers at all; the rules here recover a
// usable number where possible and pass everything else through unmodified.
package corrector

import (
	"regexp"
	"strings"

	"zapgate/internal/domain"
)

// defaultCountryCode is prepended to tokens that look like local-format
// numbers (Brazil).
const defaultCountryCode = "55"

// knownCorruptions maps identifiers observed corrupted in production to the
// verified numbers of the contacts behind them. Checked before any pattern
// heuristic so a confirmed mapping always wins.
var knownCorruptions = map[string]string{
	"107223925702810": "556281242215",
	"274293808169155": "556299212484",
	"92045460951243":  "556281364997",
	"221092702589128": "556299212484",
}

// embeddedNumber matches a full Brazilian number embedded anywhere in a
// longer token: country code 55, a two-digit area code, then an eight-digit
// landline or nine-digit mobile subscriber number.
var embeddedNumber = regexp.MustCompile(`55[1-9][0-9]9?[0-9]{8}`)

// Correct returns the best-effort repair of a raw protocol identifier.
// It is pure and deterministic: identical input always yields identical
// output. Rules apply in order, first match wins:
//
//  1. strip any domain-style suffix ("@...")
//  2. known-corruption mapping table
//  3. embedded country+area+subscriber pattern
//  4. local-format length, prepend default country code
//  5. pass through unmodified, flagged uncorrected
//
// A token that cannot be repaired is never an error; callers keep processing
// with the original value.
func Correct(raw string) domain.CorrectionResult {
	token := raw
	if i := strings.IndexByte(token, '@'); i >= 0 {
		token = token[:i]
	}

	if fixed, ok := knownCorruptions[token]; ok {
		return domain.CorrectionResult{Raw: raw, Corrected: fixed, Strategy: domain.CorrectionMapped}
	}

	if !digitsOnly(token) {
		return domain.CorrectionResult{Raw: raw, Corrected: token, Strategy: domain.CorrectionNone}
	}

	if m := embeddedNumber.FindString(token); m != "" {
		return domain.CorrectionResult{Raw: raw, Corrected: m, Strategy: domain.CorrectionEmbedded}
	}

	// 10 digits = area + landline, 11 = area + mobile.
	if len(token) == 10 || len(token) == 11 {
		return domain.CorrectionResult{Raw: raw, Corrected: defaultCountryCode + token, Strategy: domain.CorrectionLocal}
	}

	return domain.CorrectionResult{Raw: raw, Corrected: token, Strategy: domain.CorrectionNone}
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
