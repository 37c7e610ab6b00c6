package notify

// EventKind identifies one class of notifiable activity.
type EventKind string

const (
	KindFindingCreated      EventKind = "finding-created"
	KindDeadlineApproaching EventKind = "deadline-approaching"
	KindEvidenceUploaded    EventKind = "evidence-uploaded"
	KindRoleChanged         EventKind = "role-changed"
	KindBulkImport          EventKind = "bulk-import"
	KindReportReady         EventKind = "report-ready"
)

// kindPriority orders digest sections: lower ranks render first.
// Deadline and finding kinds are actionable and go on top; informational
// kinds (uploads, role changes, imports) follow.
var kindPriority = map[EventKind]int{
	KindDeadlineApproaching: 0,
	KindFindingCreated:      1,
	KindRoleChanged:         2,
	KindEvidenceUploaded:    3,
	KindBulkImport:          4,
	KindReportReady:         5,
}

// Priority returns the rendering rank of the kind. Unknown kinds sort last.
func (k EventKind) Priority() int {
	if p, ok := kindPriority[k]; ok {
		return p
	}
	return len(kindPriority)
}

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	_, ok := kindPriority[k]
	return ok
}

// Title is the human heading used for a digest section of this kind.
func (k EventKind) Title() string {
	switch k {
	case KindFindingCreated:
		return "New findings"
	case KindDeadlineApproaching:
		return "Approaching deadlines"
	case KindEvidenceUploaded:
		return "Evidence uploaded"
	case KindRoleChanged:
		return "Role changes"
	case KindBulkImport:
		return "Imported findings"
	case KindReportReady:
		return "Reports ready"
	default:
		return string(k)
	}
}

// Cadence is the digest frequency class an event or preference belongs to.
type Cadence string

const (
	CadenceImmediate Cadence = "immediate"
	CadenceDaily     Cadence = "daily"
	CadenceWeekly    Cadence = "weekly"
	CadenceNone      Cadence = "none"
)

// Valid reports whether c is a recognized cadence value.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceImmediate, CadenceDaily, CadenceWeekly, CadenceNone:
		return true
	}
	return false
}
