package session

const (
	RoleAdmin   = "admin"
	RoleFaculty = "faculty"
)

type User struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Username   string `json:"username,omitempty"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department,omitempty"`
	Role       string `json:"role"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Record is the credential record for the active session against the
// inventory API. At most one record is active process-wide, held in
// exactly one of the two storage locations. Timestamps are unix millis,
// matching the expires_at values sent by the API.
type Record struct {
	Token         string `json:"token"`
	User          *User  `json:"user,omitempty"`
	ExpiresAt     int64  `json:"tokenExpiry"`
	LastCheckedAt int64  `json:"lastTokenCheck"`
}

func (r Record) Empty() bool {
	return r.Token == ""
}

// Persistence tells which storage location holds the record: the
// persistent one survives restarts ("remember me"), the ephemeral one
// dies with the process.
type Persistence int

const (
	Ephemeral Persistence = iota
	Persistent
)

func (p Persistence) String() string {
	if p == Persistent {
		return "persistent"
	}
	return "ephemeral"
}
