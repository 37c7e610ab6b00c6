package notify

// Role is one of the closed set of platform roles this subsystem cares
// about. Roles arrive from the permission layer as strings; ParseRole maps
// them into the enum so policy checks are set lookups, never raw string
// comparisons scattered around call sites.
type Role string

const (
	RoleChiefAuditExecutive    Role = "chief-audit-executive"
	RoleChiefComplianceOfficer Role = "chief-compliance-officer"
	RoleAuditCommittee         Role = "audit-committee"
	RoleAuditor                Role = "auditor"
	RoleControlOwner           Role = "control-owner"
	RoleViewer                 Role = "viewer"
)

var knownRoles = map[Role]struct{}{
	RoleChiefAuditExecutive:    {},
	RoleChiefComplianceOfficer: {},
	RoleAuditCommittee:         {},
	RoleAuditor:                {},
	RoleControlOwner:           {},
	RoleViewer:                 {},
}

// regulatoryRoles may never fully disable recurring digests.
var regulatoryRoles = map[Role]struct{}{
	RoleChiefAuditExecutive:    {},
	RoleChiefComplianceOfficer: {},
	RoleAuditCommittee:         {},
}

// ParseRole maps a raw role string to the enum. Unknown strings map to
// ("", false) so callers can drop them instead of guessing.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := knownRoles[r]
	return r, ok
}

// Regulatory reports whether the role is subject to the non-overridable
// minimum digest cadence.
func (r Role) Regulatory() bool {
	_, ok := regulatoryRoles[r]
	return ok
}

// AnyRegulatory reports whether any held role is regulatory.
func AnyRegulatory(roles []Role) bool {
	for _, r := range roles {
		if r.Regulatory() {
			return true
		}
	}
	return false
}
