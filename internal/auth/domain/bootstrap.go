package domain

// BootstrapData seeds an empty store: roles, an admin user and the first
// client owned by that admin.
type BootstrapData struct {
	AdminUsername    string           `yaml:"admin_username"`
	AdminDisplayName string           `yaml:"admin_display_name"`
	AdminRole        string           `yaml:"admin_role"`
	ClientName       string           `yaml:"client_name"`
	ClientScopes     []string         `yaml:"client_scopes"`
	Roles            []RoleDefinition `yaml:"roles"`
}

type RoleDefinition struct {
	Name   string   `yaml:"name"`
	Scopes []string `yaml:"scopes"`
}
