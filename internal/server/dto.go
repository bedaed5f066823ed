package server

import "troops/internal/domain"

// Envelope is embedded in every response body.
type Envelope struct {
	Status domain.ResponseStatus `json:"_status"`
}

const statusOK = "status is ok"

func okEnvelope() Envelope {
	return Envelope{Status: domain.ResponseStatus{Success: true, Msg: statusOK}}
}

type StatusResponse struct {
	Envelope
}

type InfoResponse struct {
	Envelope
	Info domain.NodeInfo `json:"info"`
}

type SubordinateResponse struct {
	Envelope
	Info domain.SubordinateInfo `json:"info"`
}

type SubordinatesResponse struct {
	Envelope
	Subordinates []domain.SubordinateInfo `json:"subordinates"`
}

type AcceptedSubordinateResponse struct {
	Envelope
	Accepted domain.SubordinateInfo `json:"accepted"`
}

type AcceptedAssignmentResponse struct {
	Envelope
	Accepted domain.Assignment `json:"accepted"`
}

type AcceptedReportResponse struct {
	Envelope
	Accepted domain.Report `json:"accepted"`
}

type AcceptedWorkResponse struct {
	Envelope
	Accepted domain.Work `json:"accepted"`
}

type CampaignsResponse struct {
	Envelope
	Campaigns []domain.Campaign `json:"campaigns"`
}

type MissionsResponse struct {
	Envelope
	Missions []domain.Mission `json:"missions"`
}

type OrdersResponse struct {
	Envelope
	Orders []domain.Order `json:"orders"`
}

type CommandersResponse struct {
	Envelope
	Commanders []string `json:"commanders"`
}

type LeadersResponse struct {
	Envelope
	Leaders []string `json:"leaders"`
}

// CommanderResponse carries an empty object when the commander is a member
// that has not registered yet.
type CommanderResponse struct {
	Envelope
	Commander any `json:"commander" doc:"registered commander info, empty object while offline"`
}

type LeaderResponse struct {
	Envelope
	Leader any `json:"leader" doc:"registered leader info, empty object while offline"`
}

type SquadLeaderResponse struct {
	Envelope
	Leader domain.Member `json:"leader"`
	Place  string        `json:"place"`
}

type TroopCommanderResponse struct {
	Envelope
	Commander domain.Member `json:"commander"`
	Place     string        `json:"place"`
}

type SquadResponse struct {
	Envelope
	Soldiers []domain.Member `json:"soldiers"`
}

type TroopResponse struct {
	Envelope
	Leaders []domain.Member `json:"leaders"`
}

// MemberRequest is the body of PUT /commanders/{id} and PUT /leaders/{id}.
type MemberRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Place    string `json:"place,omitempty"`
	Endpoint string `json:"endpoint" minLength:"1"`
}

func (m MemberRequest) member() domain.Member {
	return domain.Member{ID: m.ID, Name: m.Name, Place: m.Place, Endpoint: m.Endpoint}
}
