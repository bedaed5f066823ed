package troopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"troops/internal/domain"
)

// ErrNotModified is returned by GetSubordinate when the validator matched.
var ErrNotModified = errors.New("not modified")

// ErrNotRegistered is returned when the recruiter knows an id but no
// instance has registered under it.
var ErrNotRegistered = errors.New("member known but not registered")

// Client talks to one actor. BaseURL includes the role prefix, for example
// http://10.0.0.5:5000/leader.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, Timeout: 10 * time.Second}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Msg        string
	Body       string
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("api error: status=%d msg=%s", e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == code
}

type envelope struct {
	Status domain.ResponseStatus `json:"_status"`
}

// Recruiter ------------------------------------------------------------------

// Commanders lists the commander ids of the membership.
func (c *Client) Commanders(ctx context.Context) ([]string, error) {
	var resp struct {
		Commanders []string `json:"commanders"`
	}
	_, err := c.do(ctx, http.MethodGet, "commanders", nil, nil, &resp)
	return resp.Commanders, err
}

// Commander returns the registered info of a commander, or ErrNotRegistered.
func (c *Client) Commander(ctx context.Context, id string) (domain.Member, error) {
	var resp struct {
		Commander domain.Member `json:"commander"`
	}
	if _, err := c.do(ctx, http.MethodGet, "commanders/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return domain.Member{}, err
	}
	if resp.Commander.ID == "" {
		return domain.Member{}, ErrNotRegistered
	}
	return resp.Commander, nil
}

// RegisterCommander publishes a commander's endpoint to the recruiter.
func (c *Client) RegisterCommander(ctx context.Context, info domain.Member) (domain.Member, error) {
	var resp struct {
		Commander domain.Member `json:"commander"`
	}
	_, err := c.do(ctx, http.MethodPut, "commanders/"+url.PathEscape(info.ID), nil, info, &resp)
	return resp.Commander, err
}

func (c *Client) UnregisterCommander(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "commanders/"+url.PathEscape(id), nil, nil, nil)
	return err
}

// Leaders lists the leader ids of the membership.
func (c *Client) Leaders(ctx context.Context) ([]string, error) {
	var resp struct {
		Leaders []string `json:"leaders"`
	}
	_, err := c.do(ctx, http.MethodGet, "leaders", nil, nil, &resp)
	return resp.Leaders, err
}

// Leader returns the registered info of a leader, or ErrNotRegistered.
func (c *Client) Leader(ctx context.Context, id string) (domain.Member, error) {
	var resp struct {
		Leader domain.Member `json:"leader"`
	}
	if _, err := c.do(ctx, http.MethodGet, "leaders/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return domain.Member{}, err
	}
	if resp.Leader.ID == "" {
		return domain.Member{}, ErrNotRegistered
	}
	return resp.Leader, nil
}

// RegisterLeader publishes a leader's endpoint to the recruiter.
func (c *Client) RegisterLeader(ctx context.Context, info domain.Member) (domain.Member, error) {
	var resp struct {
		Leader domain.Member `json:"leader"`
	}
	_, err := c.do(ctx, http.MethodPut, "leaders/"+url.PathEscape(info.ID), nil, info, &resp)
	return resp.Leader, err
}

func (c *Client) UnregisterLeader(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "leaders/"+url.PathEscape(id), nil, nil, nil)
	return err
}

// SquadLeader resolves the leader of a soldier and the soldier's place.
func (c *Client) SquadLeader(ctx context.Context, soldierID string) (domain.Member, string, error) {
	var resp struct {
		Leader domain.Member `json:"leader"`
		Place  string        `json:"place"`
	}
	_, err := c.do(ctx, http.MethodGet, "department/squad/leader?soldier_id="+url.QueryEscape(soldierID), nil, nil, &resp)
	return resp.Leader, resp.Place, err
}

// TroopCommander resolves the commander of a leader and the leader's place.
func (c *Client) TroopCommander(ctx context.Context, leaderID string) (domain.Member, string, error) {
	var resp struct {
		Commander domain.Member `json:"commander"`
		Place     string        `json:"place"`
	}
	_, err := c.do(ctx, http.MethodGet, "department/troop/commander?leader_id="+url.QueryEscape(leaderID), nil, nil, &resp)
	return resp.Commander, resp.Place, err
}

// Squad lists the configured soldiers of a leader.
func (c *Client) Squad(ctx context.Context, leaderID string) ([]domain.Member, error) {
	var resp struct {
		Soldiers []domain.Member `json:"soldiers"`
	}
	_, err := c.do(ctx, http.MethodGet, "department/squad/soldiers?leader_id="+url.QueryEscape(leaderID), nil, nil, &resp)
	return resp.Soldiers, err
}

// Troop lists the configured leaders of a commander.
func (c *Client) Troop(ctx context.Context, commanderID string) ([]domain.Member, error) {
	var resp struct {
		Leaders []domain.Member `json:"leaders"`
	}
	_, err := c.do(ctx, http.MethodGet, "department/troop/leaders?commander_id="+url.QueryEscape(commanderID), nil, nil, &resp)
	return resp.Leaders, err
}

// Commander, leader and soldier ----------------------------------------------

// Info returns the actor's own public info.
func (c *Client) Info(ctx context.Context) (domain.NodeInfo, error) {
	var resp struct {
		Info domain.NodeInfo `json:"info"`
	}
	_, err := c.do(ctx, http.MethodGet, "/", nil, nil, &resp)
	return resp.Info, err
}

func (c *Client) Campaigns(ctx context.Context) ([]domain.Campaign, error) {
	return c.listAssignments(ctx, "campaigns")
}

func (c *Client) PostCampaign(ctx context.Context, a domain.Campaign) (domain.Campaign, error) {
	return c.postAssignment(ctx, "campaigns", a)
}

func (c *Client) Missions(ctx context.Context) ([]domain.Mission, error) {
	return c.listAssignments(ctx, "missions")
}

func (c *Client) PostMission(ctx context.Context, a domain.Mission) (domain.Mission, error) {
	return c.postAssignment(ctx, "missions", a)
}

func (c *Client) Orders(ctx context.Context) ([]domain.Order, error) {
	return c.listAssignments(ctx, "orders")
}

func (c *Client) PostOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	return c.postAssignment(ctx, "orders", o)
}

func (c *Client) listAssignments(ctx context.Context, noun string) ([]domain.Assignment, error) {
	var resp map[string]json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, noun, nil, nil, &resp); err != nil {
		return nil, err
	}
	var out []domain.Assignment
	if raw, ok := resp[noun]; ok {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Client) postAssignment(ctx context.Context, noun string, a domain.Assignment) (domain.Assignment, error) {
	var resp struct {
		Accepted domain.Assignment `json:"accepted"`
	}
	_, err := c.do(ctx, http.MethodPost, noun, nil, a, &resp)
	return resp.Accepted, err
}

// Subordinates lists the registered subordinates.
func (c *Client) Subordinates(ctx context.Context) ([]domain.SubordinateInfo, error) {
	var resp struct {
		Subordinates []domain.SubordinateInfo `json:"subordinates"`
	}
	_, err := c.do(ctx, http.MethodGet, "subordinates", nil, nil, &resp)
	return resp.Subordinates, err
}

// Join registers info as a new subordinate.
func (c *Client) Join(ctx context.Context, info domain.SubordinateInfo) (domain.SubordinateInfo, error) {
	var resp struct {
		Accepted domain.SubordinateInfo `json:"accepted"`
	}
	_, err := c.do(ctx, http.MethodPost, "subordinates", nil, info, &resp)
	return resp.Accepted, err
}

// Reannounce replaces the public info of an already registered subordinate.
func (c *Client) Reannounce(ctx context.Context, info domain.SubordinateInfo) (domain.SubordinateInfo, error) {
	var resp struct {
		Accepted domain.SubordinateInfo `json:"accepted"`
	}
	_, err := c.do(ctx, http.MethodPut, "subordinates/"+url.PathEscape(info.ID), nil, info, &resp)
	return resp.Accepted, err
}

// Leave removes a subordinate.
func (c *Client) Leave(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "subordinates/"+url.PathEscape(id), nil, nil, nil)
	return err
}

// GetSubordinate fetches a subordinate snapshot. A non-empty etag makes the
// request conditional; ErrNotModified means it still matches. heartbeat
// marks the request as a liveness signal from the subordinate itself.
func (c *Client) GetSubordinate(ctx context.Context, id, etag string, heartbeat bool) (domain.SubordinateInfo, string, error) {
	endpoint := "subordinates/" + url.PathEscape(id)
	if heartbeat {
		endpoint += "?heartbeat=true"
	}
	header := http.Header{}
	if etag != "" {
		header.Set("If-None-Match", etag)
	}
	var resp struct {
		Info domain.SubordinateInfo `json:"info"`
	}
	h, err := c.do(ctx, http.MethodGet, endpoint, header, nil, &resp)
	if err != nil {
		return domain.SubordinateInfo{}, etag, err
	}
	return resp.Info, h.Get("ETag"), nil
}

// Report posts a leader's bundled report to its commander.
func (c *Client) Report(ctx context.Context, leaderID string, r domain.Report) error {
	_, err := c.do(ctx, http.MethodPost, "subordinates/"+url.PathEscape(leaderID)+"/report", nil, r, nil)
	return err
}

// Work posts a soldier's readings to its leader.
func (c *Client) Work(ctx context.Context, soldierID string, w domain.Work) error {
	_, err := c.do(ctx, http.MethodPost, "subordinates/"+url.PathEscape(soldierID)+"/work", nil, w, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, header http.Header, body any, out any) (http.Header, error) {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	target := c.base()
	if endpoint != "" {
		target += "/" + strings.TrimLeft(endpoint, "/")
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotModified {
		return resp.Header, ErrNotModified
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		var env envelope
		_ = json.Unmarshal(b, &env)
		return resp.Header, &APIError{StatusCode: resp.StatusCode, Msg: env.Status.Msg, Body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.Header, err
		}
	}
	return resp.Header, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
