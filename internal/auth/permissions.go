package auth

// Permission is a pre-allocated bitmap index. Codes are grouped in gapped
// decades per resource; gaps are allowed and codes are never reused with a
// different meaning.
type Permission int

const (
	PermReadProject   Permission = 10
	PermCreateProject Permission = 11
	PermUpdateProject Permission = 12
	PermDeleteProject Permission = 13

	PermReadCustomer   Permission = 20
	PermCreateCustomer Permission = 21
	PermUpdateCustomer Permission = 22
	PermDeleteCustomer Permission = 23

	PermReadUser   Permission = 30
	PermUpdateUser Permission = 31
	PermCreateUser Permission = 32

	PermReadRole   Permission = 40
	PermCreateRole Permission = 41
	PermUpdateRole Permission = 42
	PermDeleteRole Permission = 43

	PermReadActivity   Permission = 50
	PermCreateActivity Permission = 51
	PermUpdateActivity Permission = 52
	PermDeleteActivity Permission = 53

	PermReadBooking   Permission = 60
	PermCreateBooking Permission = 61
	PermUpdateBooking Permission = 62
	PermDeleteBooking Permission = 63

	PermReadTeam   Permission = 70
	PermCreateTeam Permission = 71
	PermUpdateTeam Permission = 72
	PermDeleteTeam Permission = 73
)

// Valid reports whether the code fits inside the bitmap.
func (p Permission) Valid() bool {
	return p >= 0 && int(p) < BitmapCapacity
}
