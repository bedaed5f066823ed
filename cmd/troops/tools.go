package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"troops/internal/config"
	"troops/internal/directory"
	"troops/internal/domain"
	"troops/internal/engine"
	"troops/internal/server"
	troopssdk "troops/sdk/go"
)

func campaignCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "campaign", Short: "Manage campaigns on a commander"}
	cmd.PersistentFlags().String("commander", "", "commander base URL, for example http://127.0.0.1:5001/commander")
	cmd.PersistentFlags().String("commander-id", "", "resolve the commander endpoint through the recruiter")
	cmd.AddCommand(campaignListCmd())
	cmd.AddCommand(campaignPostCmd())
	return cmd
}

func commanderClient(ctx context.Context) (*troopssdk.Client, error) {
	if u := viper.GetString("commander"); u != "" {
		return troopssdk.New(u), nil
	}
	id := viper.GetString("commander-id")
	if id == "" {
		return nil, fmt.Errorf("--commander or --commander-id required")
	}
	m, err := troopssdk.New(viper.GetString("recruiter")).Commander(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve commander %s: %w", id, err)
	}
	return troopssdk.New(m.Endpoint), nil
}

func campaignListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := commanderClient(cmd.Context())
			if err != nil {
				return err
			}
			items, err := c.Campaigns(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Purpose", "Place", "Values", "Timer", "Destination"})
			for _, a := range items {
				tw.AppendRow(table.Row{a.ID(), a.Purpose, a.Place, strings.Join(a.Values(), ","), a.Trigger.Timer, a.Destination})
			}
			tw.Render()
			return nil
		},
	}
}

func campaignPostCmd() *cobra.Command {
	var a domain.Campaign
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Start or replace a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.Purpose == "" {
				return fmt.Errorf("--purpose required")
			}
			a.Requirement.Values = viper.GetStringSlice("values")
			a.Trigger.Timer = viper.GetFloat64("timer")
			a.Requirement.Trigger.Timer = viper.GetFloat64("sample-timer")
			if a.Requirement.Trigger.Timer == 0 {
				a.Requirement.Trigger.Timer = a.Trigger.Timer
			}
			c, err := commanderClient(cmd.Context())
			if err != nil {
				return err
			}
			accepted, err := c.PostCampaign(cmd.Context(), a)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(accepted)
			}
			fmt.Printf("%s campaign %s (%s @ %s)\n", color.GreenString("accepted"), accepted.ID(), accepted.Purpose, accepted.Place)
			return nil
		},
	}
	cmd.Flags().StringVar(&a.Purpose, "purpose", "", "campaign purpose")
	cmd.Flags().StringVar(&a.Place, "place", domain.PlaceAll, "target place, or All")
	cmd.Flags().StringVar(&a.Destination, "destination", "", "report sink: log:, sqlite:///path.db or kafka://broker/topic")
	cmd.Flags().StringSlice("values", []string{"zero"}, "capabilities to read")
	cmd.Flags().Float64("timer", 10, "seconds between reports forwarded to the sink")
	cmd.Flags().Float64("sample-timer", 0, "seconds between soldier readings (default: --timer)")
	return cmd
}

type treeRow struct {
	Depth    int    `json:"depth"`
	Role     string `json:"role"`
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Place    string `json:"place,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Status   string `json:"status"`
}

func treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show the hierarchy and who is online",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := walkTree(cmd.Context(), troopssdk.New(viper.GetString("recruiter")))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(rows)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Role", "ID", "Name", "Place", "Endpoint", "Status"})
			for _, r := range rows {
				tw.AppendRow(table.Row{roleColor(r.Role), strings.Repeat("  ", r.Depth) + r.ID, r.Name, r.Place, r.Endpoint, statusColor(r.Status)})
			}
			tw.Render()
			return nil
		},
	}
}

func walkTree(ctx context.Context, rc *troopssdk.Client) ([]treeRow, error) {
	commanders, err := rc.Commanders(ctx)
	if err != nil {
		return nil, err
	}
	var rows []treeRow
	for _, cid := range commanders {
		row := treeRow{Role: "commander", ID: cid, Status: "offline"}
		m, err := rc.Commander(ctx, cid)
		switch {
		case err == nil:
			row.Name, row.Place, row.Endpoint, row.Status = m.Name, m.Place, m.Endpoint, "online"
		case !errors.Is(err, troopssdk.ErrNotRegistered):
			return nil, err
		}
		rows = append(rows, row)
		leaders, err := rc.Troop(ctx, cid)
		if err != nil {
			return nil, err
		}
		for _, l := range leaders {
			status := "offline"
			joined := map[string]bool{}
			if l.Endpoint != "" {
				status = "online"
				subs, err := troopssdk.New(l.Endpoint).Subordinates(ctx)
				if err != nil {
					status = "unreachable"
				}
				for _, s := range subs {
					joined[s.ID] = true
				}
			}
			rows = append(rows, treeRow{Depth: 1, Role: "leader", ID: l.ID, Name: l.Name, Place: l.Place, Endpoint: l.Endpoint, Status: status})
			soldiers, err := rc.Squad(ctx, l.ID)
			if err != nil {
				return nil, err
			}
			for _, s := range soldiers {
				st := "unknown"
				if status == "online" {
					st = "offline"
					if joined[s.ID] {
						st = "online"
					}
				}
				rows = append(rows, treeRow{Depth: 2, Role: "soldier", ID: s.ID, Name: s.Name, Place: s.Place, Status: st})
			}
		}
	}
	return rows, nil
}

func roleColor(role string) string {
	switch role {
	case "commander":
		return color.MagentaString(role)
	case "leader":
		return color.CyanString(role)
	default:
		return role
	}
}

func statusColor(status string) string {
	switch status {
	case "online":
		return color.GreenString(status)
	case "offline", "unreachable":
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}

func membershipCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "membership", Short: "Inspect membership files"}
	cmd.PersistentFlags().String("membership", config.DefaultMembershipFile, "membership YAML file")
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the hierarchy of a membership file",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.FromFile(viper.GetString("membership"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(m)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Commander", "Leader", "Soldier", "Place"})
			for _, tr := range m.Troops {
				tw.AppendRow(table.Row{tr.ID, "", "", tr.Place})
				for _, sq := range tr.Leaders {
					tw.AppendRow(table.Row{"", sq.ID, "", sq.Place})
					for _, s := range sq.Soldiers {
						tw.AppendRow(table.Row{"", "", s.ID, s.Place})
					}
				}
			}
			tw.Render()
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate a membership file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("membership")
			m, err := config.FromFile(path)
			if err != nil {
				return err
			}
			dir := directory.New(m)
			fmt.Printf("%s %s: %d commanders, %d leaders, %d soldiers\n", color.GreenString("ok"), path,
				len(dir.Members(domain.RoleCommander)), len(dir.Members(domain.RoleLeader)), len(dir.Members(domain.RoleSoldier)))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "template",
		Short: "Print a starter membership file",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault())
			return nil
		},
	})
	return cmd
}

func specCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spec",
		Short: "Print the OpenAPI document of every role",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.FromYAML([]byte(config.GenerateDefault()))
			if err != nil {
				return err
			}
			commander := engine.NewNode(engine.Config{Info: domain.NodeInfo{Role: domain.RoleCommander}})
			defer commander.Shutdown()
			leader := engine.NewNode(engine.Config{Info: domain.NodeInfo{Role: domain.RoleLeader}})
			defer leader.Shutdown()
			soldier := engine.NewSoldier(engine.SoldierConfig{})
			defer soldier.Shutdown()
			handler, err := server.New(server.Config{
				Directory: directory.New(m),
				Commander: commander,
				Leader:    leader,
				Soldier:   soldier,
			})
			if err != nil {
				return err
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
			if rec.Code != http.StatusOK {
				return fmt.Errorf("render openapi: status %d", rec.Code)
			}
			_, err = os.Stdout.Write(append(rec.Body.Bytes(), '\n'))
			return err
		},
	}
}
