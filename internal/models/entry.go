// Package models defines the domain types for timedline.
package models

import "fmt"

// DateLayout is the layout of Entry.Date.
const DateLayout = "2006-01-02"

// LocalUserID is the identity reported by the local driver.
const LocalUserID = "local"

// Entry is one user-authored vault record. Timestamp is its identity.
type Entry struct {
	Timestamp  int64       `json:"timestamp"`
	Date       string      `json:"date"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"file"`
}

// AttachmentName returns the attachment file name or "".
func (e Entry) AttachmentName() string {
	if e.Attachment == nil {
		return ""
	}
	return e.Attachment.Name
}

// Attachment locates a file associated with an entry.
// Empty strings mean the field is absent for the active driver.
type Attachment struct {
	StorageKey  string `json:"path,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"type,omitempty"`
	URL         string `json:"url,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// Clone returns a copy of a, or nil.
func (a *Attachment) Clone() *Attachment {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// ActivityKind classifies an activity item.
type ActivityKind string

// Activity kinds.
const (
	KindTab      ActivityKind = "tab"
	KindDuration ActivityKind = "duration"
	KindSave     ActivityKind = "save"
	KindSearch   ActivityKind = "search"
	KindOpen     ActivityKind = "open"
	KindExport   ActivityKind = "export"
	KindSession  ActivityKind = "session"
	KindMisc     ActivityKind = "misc"
)

var activityKinds = map[ActivityKind]struct{}{
	KindTab: {}, KindDuration: {}, KindSave: {}, KindSearch: {},
	KindOpen: {}, KindExport: {}, KindSession: {}, KindMisc: {},
}

// ParseActivityKind validates s. An empty string maps to KindMisc.
func ParseActivityKind(s string) (ActivityKind, error) {
	if s == "" {
		return KindMisc, nil
	}
	k := ActivityKind(s)
	if _, ok := activityKinds[k]; !ok {
		return "", fmt.Errorf("unknown activity kind %q", s)
	}
	return k, nil
}

// ActivityItem is one recorded user action.
type ActivityItem struct {
	Timestamp int64        `json:"timestamp"`
	Kind      ActivityKind `json:"kind"`
	Text      string       `json:"text"`
}

// User is the identity a driver acts on behalf of.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// IsLocal reports whether u is the local sentinel identity.
func (u *User) IsLocal() bool {
	return u != nil && u.ID == LocalUserID
}
