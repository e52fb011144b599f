package stdio

import (
	"os/user"
)

// UserProvider names the local peer of a stdio connection. Stdio carries no
// credentials; the name only labels the connection in logs.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// OSUserProvider reports the operating system's current user, preferring the
// username over the numeric uid.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username != "" {
		return u.Username, nil
	}
	return u.Uid, nil
}

// StaticUser is a UserProvider returning a fixed name.
type StaticUser string

func (s StaticUser) CurrentUserID() (string, error) { return string(s), nil }
