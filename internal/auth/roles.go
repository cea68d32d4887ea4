package auth

// Role is an account role.
type Role string

const (
	RoleStudent    Role = "student"
	RoleClassRep   Role = "class_rep"
	RoleCourseRep  Role = "course_rep"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleClassRep, RoleCourseRep, RoleSuperAdmin:
		return true
	}
	return false
}

// IsRep reports whether r is one of the representative roles.
func (r Role) IsRep() bool { return r == RoleClassRep || r == RoleCourseRep }

// IsAdmin reports whether r is the super admin role.
func (r Role) IsAdmin() bool { return r == RoleSuperAdmin }

// Capability names one permission checked at the edge.
type Capability string

const (
	CapMarkSelf           Capability = "mark-self"
	CapViewActiveSession  Capability = "view-active-session"
	CapViewHistory        Capability = "view-history"
	CapListSessions       Capability = "list-sessions"
	CapOverrideAttendance Capability = "override-attendance"
	CapExportAttendance   Capability = "export-attendance"
	CapViewAttendees      Capability = "view-attendees"
	CapManageOwnSession   Capability = "manage-own-session"
	CapUploadPartial      Capability = "upload-partial-roster"
	CapManageAnySession   Capability = "manage-any-session"
	CapUploadRoster       Capability = "upload-roster"
	CapManageDirectory    Capability = "manage-directory"
	CapAssignRep          Capability = "assign-rep"
	CapViewAnalytics      Capability = "view-analytics"
)

var (
	everyone  = []Role{RoleStudent, RoleClassRep, RoleCourseRep, RoleSuperAdmin}
	repsAdmin = []Role{RoleClassRep, RoleCourseRep, RoleSuperAdmin}
	repsOnly  = []Role{RoleClassRep, RoleCourseRep}
	adminOnly = []Role{RoleSuperAdmin}
)

// capabilities is the static permission table. Super admins count as students
// so they can mark their own attendance.
var capabilities = map[Capability][]Role{
	CapMarkSelf:           everyone,
	CapViewActiveSession:  everyone,
	CapViewHistory:        everyone,
	CapListSessions:       repsAdmin,
	CapOverrideAttendance: repsAdmin,
	CapExportAttendance:   repsAdmin,
	CapViewAttendees:      repsAdmin,
	CapManageOwnSession:   repsOnly,
	CapUploadPartial:      repsOnly,
	CapManageAnySession:   adminOnly,
	CapUploadRoster:       adminOnly,
	CapManageDirectory:    adminOnly,
	CapAssignRep:          adminOnly,
	CapViewAnalytics:      adminOnly,
}

// Can reports whether role holds capability.
func Can(role Role, capability Capability) bool {
	for _, r := range capabilities[capability] {
		if r == role {
			return true
		}
	}
	return false
}
