package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"troops/internal/directory"
	"troops/internal/domain"
)

type idPath struct {
	ID string `path:"id"`
}

type memberInput struct {
	ID   string `path:"id"`
	Body MemberRequest
}

func registerRecruiter(api huma.API, dir *directory.Directory) {
	huma.Register(api, huma.Operation{
		OperationID: "list-commanders",
		Method:      http.MethodGet,
		Path:        "/commanders",
		Summary:     "List commander ids of the membership",
		Tags:        []string{"recruiter"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CommandersResponse `json:"body"`
	}, error) {
		return &struct {
			Body CommandersResponse `json:"body"`
		}{Body: CommandersResponse{Envelope: okEnvelope(), Commanders: dir.Members(domain.RoleCommander)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-commander",
		Method:      http.MethodGet,
		Path:        "/commanders/{id}",
		Summary:     "Get the registered info of a commander",
		Tags:        []string{"recruiter"},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body CommanderResponse `json:"body"`
	}, error) {
		m, err := liveMember(dir, domain.RoleCommander, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommanderResponse `json:"body"`
		}{Body: CommanderResponse{Envelope: okEnvelope(), Commander: m}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "register-commander",
		Method:      http.MethodPut,
		Path:        "/commanders/{id}",
		Summary:     "Register the live endpoint of a commander",
		Tags:        []string{"recruiter"},
	}, func(ctx context.Context, input *memberInput) (*struct {
		Body CommanderResponse `json:"body"`
	}, error) {
		m, err := dir.Register(domain.RoleCommander, input.ID, input.Body.member())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommanderResponse `json:"body"`
		}{Body: CommanderResponse{Envelope: okEnvelope(), Commander: m}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unregister-commander",
		Method:      http.MethodDelete,
		Path:        "/commanders/{id}",
		Summary:     "Forget the live endpoint of a commander",
		Tags:        []string{"recruiter"},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if !dir.Unregister(domain.RoleCommander, input.ID) {
			return nil, newAPIError(http.StatusNotFound, "Commander is not registered")
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{Envelope: okEnvelope()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leaders",
		Method:      http.MethodGet,
		Path:        "/leaders",
		Summary:     "List leader ids of the membership",
		Tags:        []string{"recruiter"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body LeadersResponse `json:"body"`
	}, error) {
		return &struct {
			Body LeadersResponse `json:"body"`
		}{Body: LeadersResponse{Envelope: okEnvelope(), Leaders: dir.Members(domain.RoleLeader)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-leader",
		Method:      http.MethodGet,
		Path:        "/leaders/{id}",
		Summary:     "Get the registered info of a leader",
		Tags:        []string{"recruiter"},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body LeaderResponse `json:"body"`
	}, error) {
		m, err := liveMember(dir, domain.RoleLeader, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LeaderResponse `json:"body"`
		}{Body: LeaderResponse{Envelope: okEnvelope(), Leader: m}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "register-leader",
		Method:      http.MethodPut,
		Path:        "/leaders/{id}",
		Summary:     "Register the live endpoint of a leader",
		Tags:        []string{"recruiter"},
	}, func(ctx context.Context, input *memberInput) (*struct {
		Body LeaderResponse `json:"body"`
	}, error) {
		m, err := dir.Register(domain.RoleLeader, input.ID, input.Body.member())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LeaderResponse `json:"body"`
		}{Body: LeaderResponse{Envelope: okEnvelope(), Leader: m}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unregister-leader",
		Method:      http.MethodDelete,
		Path:        "/leaders/{id}",
		Summary:     "Forget the live endpoint of a leader",
		Tags:        []string{"recruiter"},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if !dir.Unregister(domain.RoleLeader, input.ID) {
			return nil, newAPIError(http.StatusNotFound, "Leader is not registered")
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{Envelope: okEnvelope()}}, nil
	})

	registerDepartment(api, dir)
}

// liveMember returns the registered record of a member, or an empty object
// when the member exists but is offline.
func liveMember(dir *directory.Directory, role domain.Role, id string) (any, error) {
	m, err := dir.Lookup(role, id)
	if errors.Is(err, directory.ErrOffline) {
		return struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func registerDepartment(api huma.API, dir *directory.Directory) {
	huma.Register(api, huma.Operation{
		OperationID: "squad-leader",
		Method:      http.MethodGet,
		Path:        "/department/squad/leader",
		Summary:     "Resolve the leader of a soldier",
		Tags:        []string{"department"},
	}, func(ctx context.Context, input *struct {
		SoldierID string `query:"soldier_id"`
	}) (*struct {
		Body SquadLeaderResponse `json:"body"`
	}, error) {
		if input.SoldierID == "" {
			return nil, newAPIError(http.StatusBadRequest, "Query param: soldier_id is required")
		}
		m, place, err := dir.SquadLeader(input.SoldierID)
		switch {
		case errors.Is(err, directory.ErrNotFound):
			return nil, newAPIError(http.StatusNotFound, "Specified soldier does not exist on database")
		case errors.Is(err, directory.ErrOffline):
			return nil, newAPIError(http.StatusServiceUnavailable, "LeaderID was found, but the instance was not resolved")
		case err != nil:
			return nil, handleError(err)
		}
		return &struct {
			Body SquadLeaderResponse `json:"body"`
		}{Body: SquadLeaderResponse{Envelope: okEnvelope(), Leader: m, Place: place}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "troop-commander",
		Method:      http.MethodGet,
		Path:        "/department/troop/commander",
		Summary:     "Resolve the commander of a leader",
		Tags:        []string{"department"},
	}, func(ctx context.Context, input *struct {
		LeaderID string `query:"leader_id"`
	}) (*struct {
		Body TroopCommanderResponse `json:"body"`
	}, error) {
		if input.LeaderID == "" {
			return nil, newAPIError(http.StatusBadRequest, "Query-param leader_id is required")
		}
		m, place, err := dir.TroopCommander(input.LeaderID)
		switch {
		case errors.Is(err, directory.ErrNotFound):
			return nil, newAPIError(http.StatusNotFound, "Specified leader does not exist on database")
		case errors.Is(err, directory.ErrOffline):
			return nil, newAPIError(http.StatusServiceUnavailable, "Commander is found, but the instance is not registered")
		case err != nil:
			return nil, handleError(err)
		}
		return &struct {
			Body TroopCommanderResponse `json:"body"`
		}{Body: TroopCommanderResponse{Envelope: okEnvelope(), Commander: m, Place: place}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "squad-soldiers",
		Method:      http.MethodGet,
		Path:        "/department/squad/soldiers",
		Summary:     "List the soldiers of a leader",
		Tags:        []string{"department"},
	}, func(ctx context.Context, input *struct {
		LeaderID string `query:"leader_id"`
	}) (*struct {
		Body SquadResponse `json:"body"`
	}, error) {
		if input.LeaderID == "" {
			return nil, newAPIError(http.StatusBadRequest, "Query-param leader_id is required")
		}
		soldiers, err := dir.Squad(input.LeaderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SquadResponse `json:"body"`
		}{Body: SquadResponse{Envelope: okEnvelope(), Soldiers: soldiers}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "troop-leaders",
		Method:      http.MethodGet,
		Path:        "/department/troop/leaders",
		Summary:     "List the leaders of a commander",
		Tags:        []string{"department"},
	}, func(ctx context.Context, input *struct {
		CommanderID string `query:"commander_id"`
	}) (*struct {
		Body TroopResponse `json:"body"`
	}, error) {
		if input.CommanderID == "" {
			return nil, newAPIError(http.StatusBadRequest, "Query-param commander_id is required")
		}
		leaders, err := dir.Troop(input.CommanderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TroopResponse `json:"body"`
		}{Body: TroopResponse{Envelope: okEnvelope(), Leaders: leaders}}, nil
	})
}
