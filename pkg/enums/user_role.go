package enums

// UserRole is the platform-wide role carried in access tokens.
type UserRole string

const (
	UserRoleStudent     UserRole = "student"
	UserRoleCoordinator UserRole = "coordinator"
	UserRoleAdmin       UserRole = "admin"
)

var userRoles = set[UserRole]{UserRoleStudent, UserRoleCoordinator, UserRoleAdmin}

func (r UserRole) IsValid() bool { return userRoles.has(r) }

