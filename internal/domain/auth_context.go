package domain

// AuthContext is what the HTTP middleware layer hands to the core: the
// authenticated caller identity plus enough
// scoping information for org-isolation checks. Ingest requests carry
// ProjectID/OrganisationID from the project api-key; admin requests carry
// AdminUserID/Permissions from the JWT or admin api-key.
type AuthContext struct {
	OrganisationID  string
	ProjectID       string
	IsAPIKeyAuth    bool
	AdminUserID     string
	AdminEmail      string
	Permissions     []string
	IsAdmin         bool
}

// HasPermission reports whether the caller holds perm, or is an
// unrestricted admin.
func (a AuthContext) HasPermission(perm string) bool {
	if a.IsAdmin && len(a.Permissions) == 0 {
		return true
	}
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
