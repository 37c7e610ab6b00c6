package notify

import "fmt"

// Preference is a user's stored notification preference. One row per user,
// created lazily with DefaultPreference on first access.
type Preference struct {
	UserID       string
	EmailEnabled bool
	Digest       Cadence
}

// DefaultPreference is what a user gets before they ever touch settings.
func DefaultPreference(userID string) Preference {
	return Preference{UserID: userID, EmailEnabled: true, Digest: CadenceDaily}
}

// PolicyViolationError is the one error class surfaced verbatim to end
// users. Everything else in this subsystem stays in logs and job state.
type PolicyViolationError struct {
	Msg string
}

func (e *PolicyViolationError) Error() string { return e.Msg }

// ResolveMode merges a stored preference (possibly absent) with role
// constraints and returns the effective delivery cadence.
//
// Regulatory roles can never resolve to "none": a stored "none" is rejected
// at write time by ValidateUpdate, and re-coerced to weekly here in case a
// bad row was ever persisted through another path.
func ResolveMode(stored *Preference, roles []Role) Cadence {
	mode := CadenceDaily
	if stored != nil && stored.Digest.Valid() {
		mode = stored.Digest
	}
	if mode == CadenceNone && AnyRegulatory(roles) {
		mode = CadenceWeekly
	}
	return mode
}

// ValidateUpdate checks a preference update against role policy. It is
// pure; the caller persists on nil error.
func ValidateUpdate(p Preference, roles []Role) error {
	if !p.Digest.Valid() {
		return &PolicyViolationError{Msg: fmt.Sprintf("unknown digest preference %q", p.Digest)}
	}
	if p.Digest == CadenceNone && AnyRegulatory(roles) {
		return &PolicyViolationError{
			Msg: "your role requires recurring digest notifications; choose immediate, daily, or weekly",
		}
	}
	return nil
}
