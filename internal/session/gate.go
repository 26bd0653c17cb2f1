package session

// Decision is the confirmation gate verdict for one recognized result.
type Decision int

const (
	// DecisionReject: transcript is displayed but never auto-executed.
	DecisionReject Decision = iota
	// DecisionConfirm: execution requires an explicit user confirm.
	DecisionConfirm
	// DecisionAccept: forwarded to the executor immediately.
	DecisionAccept
)

// Gate applies the confidence policy that stands between recognized
// transcripts and the command executor.
type Gate struct {
	autoAccept float64
	confirm    float64
}

func NewGate(autoAccept, confirm float64) Gate {
	if autoAccept <= 0 || autoAccept > 1 {
		autoAccept = 0.8
	}
	if confirm < 0 || confirm > autoAccept {
		confirm = 0.5
	}
	return Gate{autoAccept: autoAccept, confirm: confirm}
}

func (g Gate) Decide(confidence float64) Decision {
	switch {
	case confidence >= g.autoAccept:
		return DecisionAccept
	case confidence >= g.confirm:
		return DecisionConfirm
	default:
		return DecisionReject
	}
}
