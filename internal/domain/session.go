package domain

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Session is the authenticated identity and role context for the running
// client. Exactly one Session is active per client instance; a nil Session
// means "not authenticated".
type Session struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Role  Role   `json:"role"`
}

func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// Profile is the backend-side record keyed by identity id. It is upserted
// on registration and merged into the Session on load.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Role  Role   `json:"role"`
}

// ProfileFromRow maps a backend row into the canonical Profile shape.
func ProfileFromRow(r Row) Profile {
	return Profile{
		ID:    r.str("id"),
		Email: r.str("email"),
		Name:  r.str("name"),
		Phone: r.str("phone"),
		Role:  Role(r.str("role")),
	}
}

// MergeSession builds a Session from the auth identity plus an optional
// profile record. Profile fields win; auth metadata fills the gaps, so a
// Session can still be produced when the profile fetch fails.
func MergeSession(id, email, metaName, metaPhone string, profile *Profile) *Session {
	if id == "" {
		return nil
	}
	s := &Session{ID: id, Email: email, Name: metaName, Phone: metaPhone, Role: RoleUser}
	if profile != nil {
		if profile.Name != "" {
			s.Name = profile.Name
		}
		if profile.Phone != "" {
			s.Phone = profile.Phone
		}
		if profile.Role != "" {
			s.Role = profile.Role
		}
	}
	return s
}
