package constants

// Phase is the canonical pipeline phase recorded in a batch checkpoint.
type Phase string

// Stable values (stored verbatim in checkpoint files).
const (
	PhaseSegmenting    Phase = "SEGMENTING"     // slicing rendered pages into cards
	PhaseExtracting    Phase = "EXTRACTING"     // first-pass OCR + parse per card
	PhaseDetectMissing Phase = "DETECT_MISSING" // selecting records with missing age/gender
	PhaseEnhancing     Phase = "ENHANCING"      // second-pass OCR on image variants
	PhaseFinalizing    Phase = "FINALIZING"     // export, cleanup, notify
)

// Next returns the phase that follows p in the fixed pipeline order.
func (p Phase) Next() Phase {
	switch p {
	case PhaseSegmenting:
		return PhaseExtracting
	case PhaseExtracting:
		return PhaseDetectMissing
	case PhaseDetectMissing:
		return PhaseEnhancing
	case PhaseEnhancing:
		return PhaseFinalizing
	default:
		return PhaseFinalizing
	}
}
