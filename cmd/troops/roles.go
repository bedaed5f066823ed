package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"troops/internal/app"
	"troops/internal/capability"
	"troops/internal/config"
	"troops/internal/directory"
	"troops/internal/domain"
	"troops/internal/engine"
	"troops/internal/metrics"
	"troops/internal/server"
	"troops/internal/sink"
)

func recruiterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recruiter",
		Short: "Serve the membership directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.FromFile(viper.GetString("membership"))
			if err != nil {
				return err
			}
			log := slog.Default().With("role", "recruiter")
			handler, err := server.New(server.Config{
				Directory: directory.New(m),
				Metrics:   metrics.New("recruiter", "recruiter"),
				Logger:    log,
			})
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", viper.GetString("addr"))
			if err != nil {
				return err
			}
			log.Info("membership loaded", "commanders", len(m.Troops))
			return serve(cmd.Context(), ln, handler, log)
		},
	}
	cmd.Flags().String("addr", "0.0.0.0:5000", "listen address")
	cmd.Flags().String("membership", config.DefaultMembershipFile, "membership YAML file")
	return cmd
}

func commanderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commander",
		Short: "Run a commander",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			addr := viper.GetString("addr")
			o, err := nodeOptions("commander", addr)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			me, err := app.RegisterCommander(ctx, o)
			if err != nil {
				ln.Close()
				return err
			}
			sinks := sink.NewRouter(o.Logger)
			defer sinks.Close()
			node := engine.NewNode(engine.Config{
				Info:            domain.NodeInfo{ID: o.ID, Name: o.Name, Place: me.Place, Endpoint: o.Endpoint, Role: domain.RoleCommander},
				HeartbeatWindow: o.Timing.HeartbeatWindow,
				RequestTimeout:  o.Timing.RequestTimeout,
				Pusher:          app.MissionPusher(o),
				Forwarder:       sinks,
				Metrics:         o.Metrics,
				Logger:          o.Logger,
			})
			defer node.Shutdown()
			handler, err := server.New(server.Config{Commander: node, Metrics: o.Metrics, Logger: o.Logger})
			if err != nil {
				ln.Close()
				return err
			}
			err = serve(ctx, ln, handler, o.Logger)
			goodbye(o, func(ctx context.Context) error { return o.Recruiter.UnregisterCommander(ctx, o.ID) })
			return err
		},
	}
	cmd.Flags().String("addr", "0.0.0.0:5001", "listen address")
	addNodeFlags(cmd, "commander")
	return cmd
}

func leaderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leader",
		Short: "Run a leader",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			addr := viper.GetString("addr")
			o, err := nodeOptions("leader", addr)
			if err != nil {
				return err
			}
			sup := &app.Superior{}
			att := &app.Attachment{Options: o, Role: domain.RoleLeader, Superior: sup}
			_, place, err := att.Resolve(ctx)
			if err != nil {
				return err
			}
			var node *engine.Node
			node = engine.NewNode(engine.Config{
				Info:            domain.NodeInfo{ID: o.ID, Name: o.Name, Place: place, Endpoint: o.Endpoint, Role: domain.RoleLeader},
				HeartbeatWindow: o.Timing.HeartbeatWindow,
				RequestTimeout:  o.Timing.RequestTimeout,
				Pusher:          app.OrderPusher(o),
				Forwarder:       app.ReportForwarder(sup, o.ID),
				Metrics:         o.Metrics,
				Logger:          o.Logger,
				OnSubordinatesChanged: app.Reannouncer(o, sup, func() domain.SubordinateInfo {
					return node.Info().Subordinate()
				}),
			})
			defer node.Shutdown()
			att.Self = func() domain.SubordinateInfo { return node.Info().Subordinate() }
			att.Apply = node.ApplyAssignments
			att.OnJoined = func(ctx context.Context) error {
				_, err := o.Recruiter.RegisterLeader(ctx, domain.Member{ID: o.ID, Name: o.Name, Endpoint: o.Endpoint})
				return err
			}
			handler, err := server.New(server.Config{Leader: node, Metrics: o.Metrics, Logger: o.Logger})
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return serve(gctx, ln, handler, o.Logger) })
			g.Go(func() error { return att.Run(gctx) })
			err = g.Wait()
			goodbye(o, att.Leave, func(ctx context.Context) error { return o.Recruiter.UnregisterLeader(ctx, o.ID) })
			return err
		},
	}
	cmd.Flags().String("addr", "0.0.0.0:5002", "listen address")
	addNodeFlags(cmd, "leader")
	return cmd
}

func soldierCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "soldier",
		Short: "Run a soldier",
		Long: `Run a soldier. Without --addr the soldier only polls its leader for orders;
with --addr it also serves /soldier so the leader can push orders directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			addr := viper.GetString("addr")
			caps, unknown := capability.Select(viper.GetStringSlice("capabilities"))
			if len(unknown) > 0 {
				return fmt.Errorf("unknown capabilities %s (available: %s)",
					strings.Join(unknown, ", "), strings.Join(capability.Builtins().Names(), ", "))
			}
			o, err := nodeOptions("soldier", addr)
			if err != nil {
				return err
			}
			sup := &app.Superior{}
			att := &app.Attachment{Options: o, Role: domain.RoleSoldier, Superior: sup}
			_, place, err := att.Resolve(ctx)
			if err != nil {
				return err
			}
			soldier := engine.NewSoldier(engine.SoldierConfig{
				Info:           domain.NodeInfo{ID: o.ID, Name: o.Name, Place: place, Endpoint: o.Endpoint},
				Capabilities:   caps,
				Sender:         app.WorkSender(sup, o.ID),
				RequestTimeout: o.Timing.RequestTimeout,
				Metrics:        o.Metrics,
				Logger:         o.Logger,
			})
			defer soldier.Shutdown()
			att.Self = func() domain.SubordinateInfo { return soldier.Info().Subordinate() }
			att.Apply = soldier.ApplyOrders

			g, gctx := errgroup.WithContext(ctx)
			if addr != "" {
				handler, err := server.New(server.Config{Soldier: soldier, Metrics: o.Metrics, Logger: o.Logger})
				if err != nil {
					return err
				}
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return err
				}
				g.Go(func() error { return serve(gctx, ln, handler, o.Logger) })
			}
			g.Go(func() error { return att.Run(gctx) })
			err = g.Wait()
			goodbye(o, att.Leave)
			return err
		},
	}
	cmd.Flags().String("addr", "", "optional listen address for the soldier API")
	cmd.Flags().StringSlice("capabilities", capability.Builtins().Names(), "capabilities this soldier offers")
	addNodeFlags(cmd, "soldier")
	return cmd
}

// goodbye runs the deregistration steps of a stopping actor with a fresh
// context; the command context is already cancelled at this point.
func goodbye(o *app.Options, steps ...func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, step := range steps {
		if err := step(ctx); err != nil {
			o.Logger.Debug("deregistration step failed", "err", err)
		}
	}
}
