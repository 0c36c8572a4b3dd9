package models

type Role string

const (
	RoleCustomer Role = "user"
	RoleRider    Role = "rider"
)

func (r Role) IsValid() bool {
	return r == RoleCustomer || r == RoleRider
}

// Room is the push channel room an identity listens on, e.g. rider_42.
func (r Role) Room(userID string) string {
	return string(r) + "_" + userID
}
