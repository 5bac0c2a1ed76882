package agent

// RequiresConfirmation is the pure confirmation policy for action
// admission. Video generation always requires a human gate — cost
// and latency make an unwanted run expensive — regardless of the
// caller-supplied flag; every other kind defaults to the flag.
func RequiresConfirmation(kind ActionKind, callerFlag bool) bool {
	if kind == KindGenerateVideo {
		return true
	}
	return callerFlag
}
