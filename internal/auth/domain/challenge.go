package domain

type CeremonyKind string

const (
	CeremonyRegister     CeremonyKind = "register"
	CeremonyAuthenticate CeremonyKind = "authenticate"
)
