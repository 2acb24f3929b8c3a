package entity

// User is a platform user as served by the directory collaborator. The
// directory is the source of truth for conversation display metadata.
type User struct {
	ID      string `json:"auth0Id"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	Role    string `json:"role"`
	Email   string `json:"email,omitempty"`
}
