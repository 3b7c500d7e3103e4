package domain

import "time"

type User struct {
	ID          string
	Username    string
	DisplayName string
	Role        string // role name; resolved through the policy table
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
