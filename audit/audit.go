// Package audit records security events and mirrors them to relying-party telemetry sinks.
package audit

import (
	"context"
	"time"
)

type Object string

const (
	ObjectLogin         Object = "login"
	ObjectRegistration  Object = "registration"
	ObjectChange        Object = "change"
	ObjectAuthenticator Object = "authenticator"
	ObjectSession       Object = "session"
	ObjectPage          Object = "page"
)

type Action string

const (
	ActionPassword     Action = "password"
	ActionEmail        Action = "email"
	ActionAdd          Action = "add"
	ActionRemove       Action = "remove"
	ActionLogin        Action = "login"
	ActionLogout       Action = "logout"
	ActionClean        Action = "clean"
	ActionReport       Action = "report"
	ActionRequest      Action = "request"
	ActionRegistration Action = "registration"
)

// Entry is an immutable audit row. Page is only carried to sinks, never stored.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user,omitempty"`
	IP        string    `json:"ip"`
	Country   string    `json:"country,omitempty"`
	Object    Object    `json:"object"`
	Action    Action    `json:"action"`
	Attribute string    `json:"attribute,omitempty"`
	Page      string    `json:"page,omitempty"`
	Created   time.Time `json:"created"`
}

// Event is what callers hand to Logger.Add.
type Event struct {
	UserID    string
	IP        string
	Object    Object
	Action    Action
	Attribute string
	Page      string
}

type Repo interface {
	// Add stores the entry, assigning an ID when empty.
	Add(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	// ListByUser returns entries newest first.
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]*Entry, error)
}

// CountryResolver maps an IP to an ISO country code, or "" when unknown.
type CountryResolver interface {
	Country(ip string) string
}

type CountryResolverFunc func(ip string) string

func (f CountryResolverFunc) Country(ip string) string { return f(ip) }

var noCountry = CountryResolverFunc(func(string) string { return "" })

// Sink receives a copy of audit entries it accepts, plus periodic heartbeats.
type Sink interface {
	Name() string
	Accepts(entry *Entry) bool
	Send(ctx context.Context, entry *Entry) error
	Heartbeat(ctx context.Context) error
}
