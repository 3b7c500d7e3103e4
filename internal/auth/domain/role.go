package domain

import "time"

type Role struct {
	ID        string
	Name      string
	Scopes    []string // capabilities granted to holders of the role
	CreatedAt time.Time
	UpdatedAt time.Time
}
