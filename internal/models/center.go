package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// LockStatus is the editing state of a center.
type LockStatus string

const (
	LockStatusFree    LockStatus = "free"
	LockStatusEditing LockStatus = "editing"
)

// Center is a meditation center row. At most one editor holds it at a time.
type Center struct {
	Name          string             `db:"center_name" json:"name"`
	Timezone      string             `db:"timezone" json:"timezone"`
	Location      string             `db:"location" json:"location"`
	OtherCourse   types.JSONText     `db:"other_course" json:"-"`
	Status        LockStatus         `db:"status" json:"status"`
	CurrentEditor *string            `db:"current_editor" json:"current_editor,omitempty"`
	StatusStart   *time.Time         `db:"status_start" json:"status_start,omitempty"`
	DraftPlan     types.NullJSONText `db:"json_save" json:"-"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}

// Editor returns the current editor or an empty string.
func (c *Center) Editor() string {
	if c == nil || c.CurrentEditor == nil {
		return ""
	}
	return *c.CurrentEditor
}

// LockedBy reports whether user currently holds the editing lock.
func (c *Center) LockedBy(user string) bool {
	return c != nil && c.Status == LockStatusEditing && user != "" && c.Editor() == user
}

// TimeLocation returns the center's IANA zone, falling back to UTC.
func (c *Center) TimeLocation() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LockState is the observable lock state of a center.
type LockState struct {
	Center           string     `json:"center"`
	Status           LockStatus `json:"status"`
	Editor           string     `json:"editor,omitempty"`
	Timezone         string     `json:"timezone"`
	StatusStart      *time.Time `json:"status_start,omitempty"`
	RemainingSeconds int        `json:"remaining_seconds,omitempty"`
}

// LockResult is returned by a claim. A refused claim is not an error: it
// tells the caller who holds the center and when changes get installed.
type LockResult struct {
	Acquired         bool       `json:"acquired"`
	State            LockState  `json:"state"`
	Message          string     `json:"message,omitempty"`
	NextInstallation *time.Time `json:"next_installation,omitempty"`
	StreamTicket     string     `json:"stream_ticket,omitempty"`
}
