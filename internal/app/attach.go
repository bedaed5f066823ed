package app

import (
	"context"
	"fmt"
	"net/http"

	"troops/internal/domain"
	"troops/internal/heartbeat"
	troopssdk "troops/sdk/go"
)

// Attachment keeps a leader or soldier joined to its superior: resolve the
// superior through the recruiter, join it, then poll it. When polling gives
// up the superior is resolved again.
type Attachment struct {
	Options  *Options
	Role     domain.Role
	Superior *Superior
	// Self returns the info announced on join.
	Self  func() domain.SubordinateInfo
	Apply func(ctx context.Context, assignments []domain.Assignment)
	// OnJoined runs after every successful join.
	OnJoined func(ctx context.Context) error
}

// Resolve asks the recruiter for the superior, waiting while it is offline,
// and returns it together with this actor's configured place.
func (a *Attachment) Resolve(ctx context.Context) (domain.Member, string, error) {
	o := a.Options
	if a.Role != domain.RoleLeader && a.Role != domain.RoleSoldier {
		return domain.Member{}, "", fmt.Errorf("%s has no superior", a.Role)
	}
	var (
		sup   domain.Member
		place string
	)
	err := Retry(ctx, o.Timing, o.logger(), "resolve superior", func(ctx context.Context) error {
		var err error
		if a.Role == domain.RoleLeader {
			sup, place, err = o.Recruiter.TroopCommander(ctx, o.ID)
		} else {
			sup, place, err = o.Recruiter.SquadLeader(ctx, o.ID)
		}
		return err
	})
	if err != nil {
		return domain.Member{}, "", err
	}
	a.Superior.Set(o.client(sup.Endpoint))
	o.logger().Info("superior resolved", "superior", sup.ID, "endpoint", sup.Endpoint, "place", place)
	return sup, place, nil
}

// Join announces this actor to its superior, retrying per the awake policy.
func (a *Attachment) Join(ctx context.Context) error {
	o := a.Options
	return Retry(ctx, o.Timing, o.logger(), "join superior", a.join)
}

func (a *Attachment) join(ctx context.Context) error {
	c := a.Superior.Client()
	if c == nil {
		return errNoSuperior
	}
	self := a.Self()
	info, err := c.Join(ctx, self)
	if troopssdk.IsStatus(err, http.StatusConflict) {
		// still known from a previous run
		info, err = c.Reannounce(ctx, self)
	}
	if err != nil {
		return err
	}
	a.Options.logger().Info("joined superior", "assignments", len(info.Assignments))
	if a.Apply != nil {
		a.Apply(ctx, info.Assignments)
	}
	if a.OnJoined != nil {
		return a.OnJoined(ctx)
	}
	return nil
}

// Run joins and polls until ctx ends. A superior set by an earlier Resolve
// is used for the first round.
func (a *Attachment) Run(ctx context.Context) error {
	o := a.Options
	log := o.logger()
	for {
		if a.Superior.Client() == nil {
			if _, _, err := a.Resolve(ctx); err != nil {
				return err
			}
		}
		if err := a.Join(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if permanent(err) {
				return err
			}
			log.Warn("giving up on superior, resolving again", "err", err)
			a.Superior.Set(nil)
			continue
		}
		p := &heartbeat.Poller{
			Fetch:       Fetch(o, a.Superior),
			Apply:       a.Apply,
			Rejoin:      a.join,
			Interval:    o.Timing.PollInterval,
			Timeout:     o.Timing.RequestTimeout,
			MaxFailures: o.Timing.MaxPollFailures,
			Logger:      log,
		}
		task := p.Start(ctx)
		select {
		case <-ctx.Done():
			task.Stop()
			<-task.Done()
			return nil
		case <-task.Done():
		}
		log.Warn("lost superior, resolving again")
		a.Superior.Set(nil)
	}
}

// Leave removes this actor from its superior.
func (a *Attachment) Leave(ctx context.Context) error {
	c := a.Superior.Client()
	if c == nil {
		return nil
	}
	return c.Leave(ctx, a.Options.ID)
}
