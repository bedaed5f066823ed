package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"troops/internal/app"
	"troops/internal/capability"
	"troops/internal/config"
	"troops/internal/directory"
	"troops/internal/domain"
	"troops/internal/engine"
	"troops/internal/server"
	troopssdk "troops/sdk/go"
)

var fast = config.Timing{
	HeartbeatWindow: 5 * time.Second,
	PollInterval:    50 * time.Millisecond,
	RequestTimeout:  2 * time.Second,
	AwakeRetries:    40,
	AwakeInterval:   50 * time.Millisecond,
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func serve(t *testing.T, ln net.Listener, cfg server.Config) {
	t.Helper()
	handler, err := server.New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type sinkRecorder struct {
	mu      sync.Mutex
	reports []domain.Report
}

func (s *sinkRecorder) Forward(_ context.Context, _ domain.Assignment, r domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func (s *sinkRecorder) all() []domain.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Report(nil), s.reports...)
}

func TestHierarchyEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	membership, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	recLn := listen(t)
	serve(t, recLn, server.Config{Directory: directory.New(membership)})
	recruiterURL := "http://" + recLn.Addr().String() + "/recruiter"

	// commander
	comLn := listen(t)
	comOpts := &app.Options{
		ID: "commander-1", Name: "commander",
		Endpoint:  "http://" + comLn.Addr().String() + "/commander",
		Recruiter: troopssdk.New(recruiterURL),
		Timing:    fast,
	}
	me, err := app.RegisterCommander(ctx, comOpts)
	if err != nil {
		t.Fatalf("register commander: %v", err)
	}
	if me.Place != "headquarters" {
		t.Fatalf("commander place = %q", me.Place)
	}
	sink := &sinkRecorder{}
	commander := engine.NewNode(engine.Config{
		Info:            domain.NodeInfo{ID: "commander-1", Name: "commander", Place: me.Place, Endpoint: comOpts.Endpoint, Role: domain.RoleCommander},
		HeartbeatWindow: fast.HeartbeatWindow,
		Pusher:          app.MissionPusher(comOpts),
		Forwarder:       sink,
	})
	t.Cleanup(commander.Shutdown)
	serve(t, comLn, server.Config{Commander: commander})

	// leader
	leadLn := listen(t)
	leadOpts := &app.Options{
		ID: "leader-1", Name: "leader",
		Endpoint:  "http://" + leadLn.Addr().String() + "/leader",
		Recruiter: troopssdk.New(recruiterURL),
		Timing:    fast,
	}
	leadSup := &app.Superior{}
	leadAtt := &app.Attachment{Options: leadOpts, Role: domain.RoleLeader, Superior: leadSup}
	_, place, err := leadAtt.Resolve(ctx)
	if err != nil {
		t.Fatalf("resolve commander: %v", err)
	}
	var leader *engine.Node
	leader = engine.NewNode(engine.Config{
		Info:            domain.NodeInfo{ID: "leader-1", Name: "leader", Place: place, Endpoint: leadOpts.Endpoint, Role: domain.RoleLeader},
		HeartbeatWindow: fast.HeartbeatWindow,
		Pusher:          app.OrderPusher(leadOpts),
		Forwarder:       app.ReportForwarder(leadSup, "leader-1"),
		OnSubordinatesChanged: app.Reannouncer(leadOpts, leadSup, func() domain.SubordinateInfo {
			return leader.Info().Subordinate()
		}),
	})
	t.Cleanup(leader.Shutdown)
	serve(t, leadLn, server.Config{Leader: leader})
	leadAtt.Self = func() domain.SubordinateInfo { return leader.Info().Subordinate() }
	leadAtt.Apply = leader.ApplyAssignments
	leadAtt.OnJoined = func(ctx context.Context) error {
		_, err := leadOpts.Recruiter.RegisterLeader(ctx, domain.Member{ID: "leader-1", Name: "leader", Endpoint: leadOpts.Endpoint})
		return err
	}
	go leadAtt.Run(ctx)

	// soldier, polling only
	solOpts := &app.Options{ID: "soldier-1", Name: "soldier", Recruiter: troopssdk.New(recruiterURL), Timing: fast}
	solSup := &app.Superior{}
	soldier := engine.NewSoldier(engine.SoldierConfig{
		Info:         domain.NodeInfo{ID: "soldier-1", Name: "soldier", Place: "S101"},
		Capabilities: capability.Builtins(),
		Sender:       app.WorkSender(solSup, "soldier-1"),
	})
	t.Cleanup(soldier.Shutdown)
	solAtt := &app.Attachment{
		Options:  solOpts,
		Role:     domain.RoleSoldier,
		Superior: solSup,
		Self:     func() domain.SubordinateInfo { return soldier.Info().Subordinate() },
		Apply:    soldier.ApplyOrders,
	}
	go solAtt.Run(ctx)

	waitFor(t, "leader to advertise the soldier's weapons", func() bool {
		for _, s := range commander.Subordinates() {
			if s.ID == "leader-1" && slices.Contains(s.Weapons, "zero") {
				return true
			}
		}
		return false
	})

	_, err = troopssdk.New(comOpts.Endpoint).PostCampaign(ctx, domain.Campaign{
		Requirement: domain.Requirement{
			Values:  []string{"zero", "thermal"},
			Trigger: domain.Trigger{Timer: 0.1},
		},
		Trigger: domain.Trigger{Timer: 0.1},
		Place:   domain.PlaceAll,
		Purpose: "survey",
	})
	if err != nil {
		t.Fatalf("post campaign: %v", err)
	}

	waitFor(t, "soldier to run its order", func() bool { return len(soldier.Orders()) == 1 })
	order := soldier.Orders()[0]
	if !slices.Equal(order.Values(), []string{"zero"}) {
		t.Fatalf("order values = %v", order.Values())
	}

	waitFor(t, "a report to reach the commander's sink", func() bool { return len(sink.all()) > 0 })
	rep := sink.all()[0]
	if rep.Purpose != "survey" || rep.Place != "headquarters" {
		t.Fatalf("report = %+v", rep)
	}
	for _, v := range rep.Values {
		if v.Type != "zero" || v.Author != "soldier-1" {
			t.Fatalf("unexpected value %+v", v)
		}
	}

	dir := troopssdk.New(recruiterURL)
	found, _, err := dir.SquadLeader(ctx, "soldier-1")
	if err != nil || found.Endpoint != leadOpts.Endpoint {
		t.Fatalf("squad leader = %+v, %v", found, err)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := app.Retry(context.Background(), fast, nil, "lookup", func(context.Context) error {
		calls++
		return &troopssdk.APIError{StatusCode: http.StatusNotFound}
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestRetryGivesUpAfterConfiguredAttempts(t *testing.T) {
	timing := fast
	timing.AwakeRetries = 3
	timing.AwakeInterval = time.Millisecond
	calls := 0
	boom := errors.New("unreachable")
	err := app.Retry(context.Background(), timing, nil, "lookup", func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 3 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestRetrySucceedsAfterOffline(t *testing.T) {
	calls := 0
	err := app.Retry(context.Background(), fast, nil, "lookup", func(context.Context) error {
		calls++
		if calls < 3 {
			return &troopssdk.APIError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestMissionPusherConcurrentFirstUse(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/leader/missions" {
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusTeapot)
			return
		}
		var m domain.Mission
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		seen[m.Purpose]++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"_status":  map[string]any{"success": true, "msg": "status is ok"},
			"accepted": m,
		})
	}))
	defer ts.Close()

	// No HTTPClient: every pusher call races to build the shared one.
	o := &app.Options{ID: "commander-1", Timing: fast}
	push := app.MissionPusher(o)
	leader := domain.SubordinateInfo{ID: "leader-1", Endpoint: ts.URL + "/leader"}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := domain.Mission{Purpose: fmt.Sprintf("campaign-%d", i), Place: domain.PlaceAll,
				Requirement: domain.Requirement{Values: []string{"zero"}}}
			errs <- push.Push(context.Background(), leader, m)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if len(seen) != n {
		t.Fatalf("leader saw %d distinct missions, want %d", len(seen), n)
	}
	if o.HTTPClient == nil || o.HTTPClient.Timeout != fast.RequestTimeout {
		t.Fatalf("shared client not built from timing: %+v", o.HTTPClient)
	}
}
