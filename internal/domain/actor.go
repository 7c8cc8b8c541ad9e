package domain

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

// Actor is the authenticated principal an operation runs on behalf of.
type Actor struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func SystemActor() Actor {
	return Actor{Role: RoleSystem}
}

// Staff reports whether the actor may act on any resource.
func (a Actor) Staff() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}
