package domain

import (
	"crypto/md5"
	"encoding/hex"
	"slices"
)

// PlaceAll addresses every subordinate of a node.
const PlaceAll = "All"

type Role string

const (
	RoleRecruiter Role = "recruiter"
	RoleCommander Role = "commander"
	RoleLeader    Role = "leader"
	RoleSoldier   Role = "soldier"
)

type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Trigger describes when an assignment fires. A zero Timer means the
// assignment carries no periodic trigger and starts no emitter.
type Trigger struct {
	Timer float64 `json:"timer,omitempty" minimum:"0" doc:"period in seconds"`
}

type Requirement struct {
	Values  []string `json:"values"`
	Trigger Trigger  `json:"trigger,omitempty"`
}

// Assignment is a unit of directed work. It is called a Campaign on a
// commander, a Mission on a leader and an Order on a soldier.
type Assignment struct {
	Author      string      `json:"author,omitempty"`
	Requirement Requirement `json:"requirement"`
	Trigger     Trigger     `json:"trigger,omitempty"`
	Place       string      `json:"place"`
	Purpose     string      `json:"purpose"`
	Destination string      `json:"destination,omitempty"`
}

type (
	Campaign = Assignment
	Mission  = Assignment
	Order    = Assignment
)

// ID is the content-derived identity of an assignment: the hex md5 of
// purpose followed by place.
func (a Assignment) ID() string {
	return AssignmentID(a.Purpose, a.Place)
}

func AssignmentID(purpose, place string) string {
	sum := md5.Sum([]byte(purpose + place))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two assignments carry the same content.
func (a Assignment) Equal(b Assignment) bool {
	return a.Author == b.Author &&
		a.Place == b.Place &&
		a.Purpose == b.Purpose &&
		a.Destination == b.Destination &&
		a.Trigger == b.Trigger &&
		a.Requirement.Trigger == b.Requirement.Trigger &&
		slices.Equal(a.Requirement.Values, b.Requirement.Values)
}

// Values returns the capability names an order asks for.
func (a Assignment) Values() []string {
	return a.Requirement.Values
}

type Value struct {
	Type   string  `json:"type"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
	Time   string  `json:"time,omitempty" format:"date-time"`
	Author string  `json:"author,omitempty"`
}

// Work is what a soldier sends to its leader.
type Work struct {
	Time    string  `json:"time" format:"date-time"`
	Purpose string  `json:"purpose"`
	Values  []Value `json:"values"`
}

// Report is what a leader sends to its commander.
type Report struct {
	Time    string  `json:"time" format:"date-time"`
	Place   string  `json:"place,omitempty"`
	Purpose string  `json:"purpose"`
	Values  []Value `json:"values"`
}

// SubordinateInfo is a superior's snapshot of one subordinate.
type SubordinateInfo struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Endpoint    string       `json:"endpoint,omitempty"`
	Place       string       `json:"place,omitempty"`
	Weapons     []string     `json:"weapons,omitempty"`
	Assignments []Assignment `json:"assignments,omitempty"`
}

// NodeInfo is an actor's own public info.
type NodeInfo struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Endpoint     string       `json:"endpoint,omitempty"`
	Place        string       `json:"place,omitempty"`
	Role         Role         `json:"role" enum:"commander,leader,soldier"`
	Subordinates []string     `json:"subordinates,omitempty"`
	Weapons      []string     `json:"weapons,omitempty"`
	Assignments  []Assignment `json:"assignments,omitempty"`
}

// Subordinate converts a node's own info into the shape its superior stores.
func (n NodeInfo) Subordinate() SubordinateInfo {
	return SubordinateInfo{
		ID:       n.ID,
		Name:     n.Name,
		Endpoint: n.Endpoint,
		Place:    n.Place,
		Weapons:  n.Weapons,
	}
}

// Member is a directory entry: a static membership record plus the live
// endpoint once the instance has registered.
type Member struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Place    string `json:"place,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

type ResponseStatus struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

// Intersect keeps the values of want that are also in have, in want's order.
func Intersect(want, have []string) []string {
	out := make([]string, 0, len(want))
	for _, w := range want {
		if slices.Contains(have, w) && !slices.Contains(out, w) {
			out = append(out, w)
		}
	}
	return out
}
