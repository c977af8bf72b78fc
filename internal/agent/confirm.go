package agent

import (
	"regexp"
	"strings"
)

// Confirmation verdicts for a message arriving while a plan awaits approval.
const (
	confirmAffirm = "affirm"
	confirmReject = "reject"
	confirmOther  = "other"
)

var (
	affirmativeRe = regexp.MustCompile(`(?i)^(да|ага|угу|yes|yep|yeah|y|подтверждаю|подтвердить|confirm|confirmed|ok|okay|ок|давай|делай|sure|go ahead|proceed|do it)$`)
	negativeRe    = regexp.MustCompile(`(?i)^(нет|не надо|не нужно|no|nope|n|отмена|отменить|отмени|cancel|stop|стоп|abort|don'?t|do not)$`)
)

// classifyConfirmation decides whether message answers a pending
// confirmation question. Anything that is neither a clear yes nor a clear
// no counts as a new request and abandons the pending plan.
func classifyConfirmation(message string) string {
	trimmed := strings.ToLower(strings.TrimSpace(message))
	trimmed = strings.Trim(trimmed, ".!?…")
	trimmed = strings.TrimSpace(trimmed)
	switch {
	case affirmativeRe.MatchString(trimmed):
		return confirmAffirm
	case negativeRe.MatchString(trimmed):
		return confirmReject
	default:
		return confirmOther
	}
}
