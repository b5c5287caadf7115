package auth

// Role constants gate the API surface.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleAuditor  = "auditor"
)

// Principal is any entity making a request.
type Principal interface {
	GetID() string
	GetName() string
	GetRoles() []string
	HasRole(role string) bool
}

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID    string
	Name  string
	Roles []string
}

func (b *BasePrincipal) GetID() string { return b.ID }

func (b *BasePrincipal) GetName() string { return b.Name }

func (b *BasePrincipal) GetRoles() []string { return b.Roles }

// HasRole reports role membership; admins have every role.
func (b *BasePrincipal) HasRole(role string) bool {
	for _, r := range b.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}
