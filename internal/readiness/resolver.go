package readiness

// Choice is a decision the user makes at a readiness decision point.
type Choice int

const (
	ChoiceAbort Choice = iota
	ChoiceRetry
	ChoiceReconfigure
	ChoiceUnlock
	ChoiceTryAgain
)

func (c Choice) String() string {
	switch c {
	case ChoiceRetry:
		return "retry"
	case ChoiceReconfigure:
		return "reconfigure"
	case ChoiceUnlock:
		return "unlock"
	case ChoiceTryAgain:
		return "try again"
	default:
		return "abort"
	}
}

// Resolver answers the questions a probe cannot decide on its own. It is
// implemented by the user interface; the probe never reads input itself.
type Resolver interface {
	// Unsynced is asked when the daemon is reachable but still catching up.
	// Valid answers: ChoiceRetry, ChoiceAbort.
	Unsynced(symbol string) Choice

	// ConnectFailed is asked when the daemon cannot be reached.
	// Valid answers: ChoiceRetry, ChoiceReconfigure, ChoiceAbort.
	ConnectFailed(symbol, endpoint string, err error) Choice

	// WalletLocked is asked when the sending wallet is encrypted and locked.
	// Valid answers: ChoiceUnlock, ChoiceTryAgain, ChoiceAbort.
	WalletLocked(symbol string, sending bool) Choice

	// Passphrase asks for the wallet passphrase. retry is true after a
	// rejected attempt. Returning ok=false cancels back to WalletLocked.
	Passphrase(symbol string, retry bool) (passphrase string, ok bool)
}
