// Package model defines the domain types used across the application.
package model

import (
	"sort"
	"time"
)

// Domain identifies one integration whose items are reconciled.
type Domain string

// Supported domains.
const (
	DomainForms Domain = "forms"
	DomainMail  Domain = "mail"
	DomainCards Domain = "cards"
)

// ParseDomain maps user input to a Domain.
func ParseDomain(s string) (Domain, bool) {
	switch Domain(s) {
	case DomainForms, DomainMail, DomainCards:
		return Domain(s), true
	}
	return "", false
}

// SiteStatus is the reachability state of a monitored site.
type SiteStatus string

// Site states. Checking only lasts for the duration of one check.
const (
	StatusUnknown  SiteStatus = "unknown"
	StatusChecking SiteStatus = "checking"
	StatusOnline   SiteStatus = "online"
	StatusOffline  SiteStatus = "offline"
)

// MonitoredSite is a self-hosted WordPress site seeded from the dashboard file.
type MonitoredSite struct {
	ID              string
	Name            string
	URL             string
	Secret          string
	Status          SiteStatus
	LastChecked     time.Time
	LatencyMS       int64
	OnlineUsers     int
	MonthlyVisitors int
}

// SiteStats is the structured payload returned by a site's stats endpoint.
type SiteStats struct {
	Online  int
	Monthly int
}

// Record is a single inbox item: a form submission, a mail message or a board card.
type Record struct {
	ID         string
	Domain     Domain
	Origin     string
	OriginName string
	Sender     string
	Subject    string
	Body       string
	Link       string
	Timestamp  time.Time
	Read       bool
	Deleted    bool
}

// Valid reports whether the record carries the minimum fields to be shown.
func (r Record) Valid() bool {
	return r.ID != "" && !r.Timestamp.IsZero()
}

// IDSet is a set of opaque item ids.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set. A nil set is empty.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

// Clone returns an independent copy.
func (s IDSet) Clone() IDSet {
	c := make(IDSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Slice returns the ids in sorted order.
func (s IDSet) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// WeatherSnapshot holds current conditions at the configured location.
type WeatherSnapshot struct {
	TemperatureC float64
	WindKPH      float64
	Code         int
	Summary      string
	ObservedAt   time.Time
}

// NewsItem is a headline from a configured news feed.
type NewsItem struct {
	GUID        string
	Source      string
	Title       string
	Description string
	Link        string
	Published   time.Time
}

// Board is a Trello board.
type Board struct {
	ID   string
	Name string
}

// BoardList is a list on a Trello board.
type BoardList struct {
	ID      string
	BoardID string
	Name    string
}

// TrelloConfig holds the stored Trello credentials and list selection.
type TrelloConfig struct {
	Key     string   `json:"key"`
	Token   string   `json:"token"`
	BoardID string   `json:"board_id"`
	ListIDs []string `json:"list_ids"`
}

// Authorized reports whether key and token are both present.
func (c TrelloConfig) Authorized() bool {
	return c.Key != "" && c.Token != ""
}

// Permission is the user's consent to receive notifications.
type Permission string

// Permission states. The zero value means permission was never requested.
const (
	PermissionDefault Permission = ""
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// RuleKind defines the type of a news topic rule.
type RuleKind string

// Supported rule kinds.
const (
	RuleInclude   RuleKind = "include"
	RuleExclude   RuleKind = "exclude"
	RuleIncludeRe RuleKind = "include_re"
	RuleExcludeRe RuleKind = "exclude_re"
)

// RuleScope defines which part of a news item a rule matches against.
type RuleScope string

// Supported rule scopes.
const (
	ScopeTitle   RuleScope = "title"
	ScopeContent RuleScope = "content"
	ScopeAll     RuleScope = "all"
)

// TopicRule is a single news filtering rule.
type TopicRule struct {
	Kind  RuleKind  `yaml:"kind"`
	Scope RuleScope `yaml:"scope"`
	Value string    `yaml:"value"`
}
