package domain

import "strings"

// Identity is either an authenticated user id or an anonymous (session, name, email, IP) tuple.
type Identity struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// Anonymous reports whether the identity has no authenticated user.
func (i Identity) Anonymous() bool {
	return i.UserID == ""
}

// Normalize trims every component and lower-cases the email.
func (i Identity) Normalize() Identity {
	return Identity{
		UserID:    strings.TrimSpace(i.UserID),
		SessionID: strings.TrimSpace(i.SessionID),
		Name:      strings.TrimSpace(i.Name),
		Email:     strings.ToLower(strings.TrimSpace(i.Email)),
		IP:        strings.TrimSpace(i.IP),
	}
}

// Key scopes the single in-progress attempt per quiz. Anonymous actors prefer the
// client session id and fall back to the source IP.
func (i Identity) Key() string {
	switch {
	case i.UserID != "":
		return "user:" + i.UserID
	case i.SessionID != "":
		return "session:" + i.SessionID
	case i.IP != "":
		return "ip:" + i.IP
	}
	return ""
}

// Matches reports whether other resolves to the same actor.
func (i Identity) Matches(other Identity) bool {
	k := i.Key()
	return k != "" && k == other.Key()
}

// BucketKind names the column attempts are counted by.
type BucketKind string

const (
	BucketUser    BucketKind = "user"
	BucketEmail   BucketKind = "email"
	BucketIP      BucketKind = "ip"
	BucketSession BucketKind = "session"
)

// AttemptBucket selects the prior attempts that count toward a limit.
type AttemptBucket struct {
	Kind  BucketKind
	Value string
}

// Bucket returns the attempt-limit bucket: user id, else email, else IP, else
// session. Actors without an IP never share the empty IP bucket.
func (i Identity) Bucket() AttemptBucket {
	switch {
	case i.UserID != "":
		return AttemptBucket{Kind: BucketUser, Value: i.UserID}
	case i.Email != "":
		return AttemptBucket{Kind: BucketEmail, Value: i.Email}
	case i.IP != "":
		return AttemptBucket{Kind: BucketIP, Value: i.IP}
	}
	return AttemptBucket{Kind: BucketSession, Value: i.SessionID}
}

// Counts reports whether an attempt made by a falls into bucket b.
func (b AttemptBucket) Counts(a Identity) bool {
	switch b.Kind {
	case BucketUser:
		return a.UserID == b.Value
	case BucketEmail:
		return a.UserID == "" && a.Email == b.Value
	case BucketIP:
		return a.UserID == "" && a.IP == b.Value
	case BucketSession:
		return a.UserID == "" && a.SessionID == b.Value
	}
	return false
}
