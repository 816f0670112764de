package domain

// AnonymousUID marks writes made without a session.
const AnonymousUID = "anonymous"

// Identity is the author stamped onto annotations and remote writes.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Anonymous returns the identity used when no session exists.
func Anonymous() Identity {
	return Identity{UID: AnonymousUID, DisplayName: "Anonymous"}
}

// IsAnonymous reports whether the identity carries no authenticated user.
func (i Identity) IsAnonymous() bool {
	return i.UID == "" || i.UID == AnonymousUID
}

// Label is the human-readable author name.
func (i Identity) Label() string {
	switch {
	case i.DisplayName != "":
		return i.DisplayName
	case i.Email != "":
		return i.Email
	case i.UID != "":
		return i.UID
	default:
		return "Anonymous"
	}
}
