package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/conditional"

	"troops/internal/domain"
	"troops/internal/engine"
	"troops/internal/sink"
)

// nodeRoutes names the role-specific parts of a superior's API.
type nodeRoutes struct {
	role     domain.Role
	artifact string
}

var (
	commanderRoutes = nodeRoutes{role: domain.RoleCommander, artifact: "report"}
	leaderRoutes    = nodeRoutes{role: domain.RoleLeader, artifact: "work"}
)

type subordinateGetInput struct {
	conditional.Params
	ID        string `path:"id"`
	Heartbeat bool   `query:"heartbeat" doc:"mark the request as a liveness signal from the subordinate"`
}

type subordinateGetOutput struct {
	ETag string `header:"ETag"`
	Body SubordinateResponse
}

func registerNode(api huma.API, n *engine.Node, r nodeRoutes) {
	tag := string(r.role)

	huma.Register(api, huma.Operation{
		OperationID: tag + "-info",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Get the " + tag + "'s own info",
		Tags:        []string{tag},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body InfoResponse `json:"body"`
	}, error) {
		return &struct {
			Body InfoResponse `json:"body"`
		}{Body: InfoResponse{Envelope: okEnvelope(), Info: n.Info()}}, nil
	})

	if r.role == domain.RoleCommander {
		registerCampaigns(api, n)
	} else {
		registerMissions(api, n)
	}

	huma.Register(api, huma.Operation{
		OperationID: tag + "-list-subordinates",
		Method:      http.MethodGet,
		Path:        "/subordinates",
		Summary:     "List subordinates",
		Tags:        []string{tag},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SubordinatesResponse `json:"body"`
	}, error) {
		return &struct {
			Body SubordinatesResponse `json:"body"`
		}{Body: SubordinatesResponse{Envelope: okEnvelope(), Subordinates: n.Subordinates()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   tag + "-join",
		Method:        http.MethodPost,
		Path:          "/subordinates",
		Summary:       "Join as a new subordinate",
		Tags:          []string{tag},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body domain.SubordinateInfo
	}) (*struct {
		Body AcceptedSubordinateResponse `json:"body"`
	}, error) {
		info, err := n.AcceptSubordinate(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptedSubordinateResponse `json:"body"`
		}{Body: AcceptedSubordinateResponse{Envelope: okEnvelope(), Accepted: info}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: tag + "-get-subordinate",
		Method:      http.MethodGet,
		Path:        "/subordinates/{id}",
		Summary:     "Get a subordinate snapshot",
		Description: "Supports If-None-Match. With heartbeat=true the request also refreshes the subordinate's liveness window.",
		Tags:        []string{tag},
	}, func(ctx context.Context, input *subordinateGetInput) (*subordinateGetOutput, error) {
		if input.Heartbeat {
			n.Heartbeat(input.ID)
		}
		info, etag, err := n.Subordinate(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.HasConditionalParams() {
			if err := input.PreconditionFailed(etag, time.Time{}); err != nil {
				return nil, err
			}
		}
		return &subordinateGetOutput{
			ETag: `"` + etag + `"`,
			Body: SubordinateResponse{Envelope: okEnvelope(), Info: info},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: tag + "-reannounce",
		Method:      http.MethodPut,
		Path:        "/subordinates/{id}",
		Summary:     "Replace a subordinate's announced info",
		Tags:        []string{tag},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body domain.SubordinateInfo
	}) (*struct {
		Body AcceptedSubordinateResponse `json:"body"`
	}, error) {
		if input.Body.ID != input.ID {
			return nil, newAPIError(http.StatusBadRequest, fmt.Sprintf("invalid subordinate: id %q does not match %q", input.Body.ID, input.ID))
		}
		info, err := n.UpdateSubordinate(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptedSubordinateResponse `json:"body"`
		}{Body: AcceptedSubordinateResponse{Envelope: okEnvelope(), Accepted: info}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: tag + "-leave",
		Method:      http.MethodDelete,
		Path:        "/subordinates/{id}",
		Summary:     "Remove a subordinate",
		Tags:        []string{tag},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if !n.RemoveSubordinate(input.ID) {
			return nil, newAPIError(http.StatusNotFound, "The subordinate is not found")
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{Envelope: okEnvelope()}}, nil
	})

	if r.artifact == "report" {
		huma.Register(api, huma.Operation{
			OperationID:   tag + "-report",
			Method:        http.MethodPost,
			Path:          "/subordinates/{id}/report",
			Summary:       "Accept a bundled report from a leader",
			Tags:          []string{tag},
			DefaultStatus: http.StatusCreated,
		}, func(ctx context.Context, input *struct {
			ID   string `path:"id"`
			Body domain.Report
		}) (*struct {
			Body AcceptedReportResponse `json:"body"`
		}, error) {
			if err := n.AcceptArtifact(input.ID, input.Body); err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body AcceptedReportResponse `json:"body"`
			}{Body: AcceptedReportResponse{Envelope: okEnvelope(), Accepted: input.Body}}, nil
		})
		return
	}

	huma.Register(api, huma.Operation{
		OperationID:   tag + "-work",
		Method:        http.MethodPost,
		Path:          "/subordinates/{id}/work",
		Summary:       "Accept readings from a soldier",
		Tags:          []string{tag},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body domain.Work
	}) (*struct {
		Body AcceptedWorkResponse `json:"body"`
	}, error) {
		w := input.Body
		if err := n.AcceptArtifact(input.ID, domain.Report{Time: w.Time, Purpose: w.Purpose, Values: w.Values}); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptedWorkResponse `json:"body"`
		}{Body: AcceptedWorkResponse{Envelope: okEnvelope(), Accepted: w}}, nil
	})
}

func registerCampaigns(api huma.API, n *engine.Node) {
	huma.Register(api, huma.Operation{
		OperationID: "commander-list-campaigns",
		Method:      http.MethodGet,
		Path:        "/campaigns",
		Summary:     "List campaigns",
		Tags:        []string{"commander"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CampaignsResponse `json:"body"`
	}, error) {
		return &struct {
			Body CampaignsResponse `json:"body"`
		}{Body: CampaignsResponse{Envelope: okEnvelope(), Campaigns: n.Assignments()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "commander-post-campaign",
		Method:        http.MethodPost,
		Path:          "/campaigns",
		Summary:       "Start or replace a campaign",
		Tags:          []string{"commander"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body domain.Campaign
	}) (*struct {
		Body AcceptedAssignmentResponse `json:"body"`
	}, error) {
		if err := sink.Validate(input.Body.Destination); err != nil {
			return nil, handleError(err)
		}
		a, err := n.AcceptAssignment(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptedAssignmentResponse `json:"body"`
		}{Body: AcceptedAssignmentResponse{Envelope: okEnvelope(), Accepted: a}}, nil
	})
}

func registerMissions(api huma.API, n *engine.Node) {
	huma.Register(api, huma.Operation{
		OperationID: "leader-list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
		Tags:        []string{"leader"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MissionsResponse `json:"body"`
	}, error) {
		return &struct {
			Body MissionsResponse `json:"body"`
		}{Body: MissionsResponse{Envelope: okEnvelope(), Missions: n.Assignments()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "leader-post-mission",
		Method:        http.MethodPost,
		Path:          "/missions",
		Summary:       "Accept a mission from the commander",
		Tags:          []string{"leader"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body domain.Mission
	}) (*struct {
		Body AcceptedAssignmentResponse `json:"body"`
	}, error) {
		a, err := n.AcceptAssignment(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptedAssignmentResponse `json:"body"`
		}{Body: AcceptedAssignmentResponse{Envelope: okEnvelope(), Accepted: a}}, nil
	})
}

func registerSoldier(api huma.API, s *engine.Soldier) {
	huma.Register(api, huma.Operation{
		OperationID: "soldier-info",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Get the soldier's own info",
		Tags:        []string{"soldier"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body InfoResponse `json:"body"`
	}, error) {
		return &struct {
			Body InfoResponse `json:"body"`
		}{Body: InfoResponse{Envelope: okEnvelope(), Info: s.Info()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "soldier-list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List orders",
		Tags:        []string{"soldier"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body OrdersResponse `json:"body"`
	}, error) {
		return &struct {
			Body OrdersResponse `json:"body"`
		}{Body: OrdersResponse{Envelope: okEnvelope(), Orders: s.Orders()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "soldier-post-order",
		Method:        http.MethodPost,
		Path:          "/orders",
		Summary:       "Accept an order from the leader",
		Tags:          []string{"soldier"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body domain.Order
	}) (*struct {
		Body AcceptedAssignmentResponse `json:"body"`
	}, error) {
		o, err := s.AcceptOrder(input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptedAssignmentResponse `json:"body"`
		}{Body: AcceptedAssignmentResponse{Envelope: okEnvelope(), Accepted: o}}, nil
	})
}
