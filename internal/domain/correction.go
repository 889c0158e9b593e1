package domain

// CorrectionStrategy records which rule produced a corrected identifier.
type CorrectionStrategy string

const (
	// CorrectionMapped means the token matched the known-corruption table.
	CorrectionMapped CorrectionStrategy = "mapped"
	// CorrectionEmbedded means a valid number was found embedded in the token.
	CorrectionEmbedded CorrectionStrategy = "embedded"
	// CorrectionLocal means a local-format number got the default country code.
	CorrectionLocal CorrectionStrategy = "local"
	// CorrectionNone means the token could not be repaired and is passed
	// through unmodified for offline analysis.
	CorrectionNone CorrectionStrategy = "uncorrected"
)

// CorrectionResult pairs a raw protocol identifier with its best-effort
// repair. Both values are kept so consumers can reconcile later.
type CorrectionResult struct {
	Raw       string             `json:"raw"`
	Corrected string             `json:"corrected"`
	Strategy  CorrectionStrategy `json:"strategy"`
}

// Repaired reports whether any correction rule actually fired.
func (r CorrectionResult) Repaired() bool {
	return r.Strategy != CorrectionNone
}
