package payment

// Outcome is the classification of a raw gateway confirmation.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailed
)

// hardFailureCodes are response codes that mean permanent rejection. Anything
// else that is not an approved "00" is soft and worth polling again.
var hardFailureCodes = map[string]bool{
	"12": true,
	"96": true,
	"99": true,
}

var codeMessages = map[string]string{
	"09": "Request in progress.",
	"12": "No matching transaction found.",
	"68": "Transaction timed out.",
	"96": "Invalid order state.",
	"99": "System error.",
}

// Classify maps a gateway response code plus the transaction-status flag onto
// the state machine. One table serves every call site (order checkout and
// store-credit top-up use identical policy).
func Classify(code string, approved bool) Outcome {
	switch {
	case code == "00" && approved:
		return OutcomeSuccess
	case code == "" || code == "09" || code == "68":
		return OutcomePending
	case hardFailureCodes[code]:
		return OutcomeFailed
	default:
		// Unknown non-success codes are treated as soft: the client may poll
		// again, and a later hard code will finalize the attempt.
		return OutcomePending
	}
}

// CodeMessage returns the human-readable message for a response code.
func CodeMessage(code string) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return "NETS payment failed."
}
