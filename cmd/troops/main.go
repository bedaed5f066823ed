package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"troops/internal/app"
	"troops/internal/config"
	"troops/internal/metrics"
	troopssdk "troops/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "troops",
	Short: "Troops hierarchy CLI",
	Long: `Troops coordinates sensing agents in a four-level hierarchy.
- Recruiter: serves the static membership and resolves who reports to whom.
- Commander: accepts campaigns and fans them out to its leaders as missions.
- Leader: turns missions into orders for the soldiers of its squad and bundles their work into reports.
- Soldier: runs orders by reading its capabilities on a timer and posting the values upward.
Subordinates poll their superior with If-None-Match; the poll doubles as the heartbeat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		logger, err := newLogger(viper.GetString("log-format"), viper.GetString("log-level"))
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TROOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, color.YellowString("warning:"), "read config:", err)
		}
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("config", "", "YAML file with node settings (keys match flag names)")
	rootCmd.PersistentFlags().String("recruiter", "http://127.0.0.1:5000/recruiter", "recruiter base URL")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("recruiter", rootCmd.PersistentFlags().Lookup("recruiter"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(recruiterCmd())
	rootCmd.AddCommand(commanderCmd())
	rootCmd.AddCommand(leaderCmd())
	rootCmd.AddCommand(soldierCmd())
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(treeCmd())
	rootCmd.AddCommand(membershipCmd())
	rootCmd.AddCommand(specCmd())
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

// addNodeFlags registers the flags shared by the commander, leader and
// soldier commands. Defaults follow the role's timing.
func addNodeFlags(cmd *cobra.Command, role string) {
	t := config.DefaultTiming(role)
	cmd.Flags().String("id", "", "actor id as listed in the membership (default: random uuid)")
	cmd.Flags().String("name", "", "display name (default: role)")
	cmd.Flags().String("advertise", "", "public base URL other actors use to reach this one (default: http://<addr>)")
	cmd.Flags().Duration("heartbeat-window", t.HeartbeatWindow, "evict a subordinate after this long without a poll")
	cmd.Flags().Duration("poll-interval", t.PollInterval, "interval between polls of the superior")
	cmd.Flags().Duration("request-timeout", t.RequestTimeout, "timeout of outbound requests")
	cmd.Flags().Int("awake-retries", t.AwakeRetries, "attempts to register or resolve the superior before giving up")
	cmd.Flags().Duration("awake-interval", t.AwakeInterval, "first wait between awake attempts, doubled after each failure")
	cmd.Flags().Int("max-poll-failures", t.MaxPollFailures, "consecutive failed polls before resolving the superior again (0 = never)")
}

// nodeOptions reads the bound flags into app.Options.
func nodeOptions(role, addr string) (*app.Options, error) {
	var t config.Timing
	if err := viper.Unmarshal(&t); err != nil {
		return nil, fmt.Errorf("read timing: %w", err)
	}
	t = t.Normalize(role)
	id := viper.GetString("id")
	if id == "" {
		id = uuid.NewString()
		slog.Warn("no --id given, generated one; it must be listed in the membership", "id", id)
	}
	name := viper.GetString("name")
	if name == "" {
		name = role
	}
	o := &app.Options{
		ID:        id,
		Name:      name,
		Recruiter: troopssdk.New(viper.GetString("recruiter")),
		Timing:    t,
		Metrics:   metrics.New(role, id),
		Logger:    slog.Default().With("role", role, "id", id),
	}
	// One client for every outbound call; the pushers share it across
	// concurrent deliveries.
	o.HTTPClient = &http.Client{Timeout: t.RequestTimeout}
	o.Recruiter.HTTPClient = o.HTTPClient
	o.Recruiter.Timeout = t.RequestTimeout
	if addr != "" {
		o.Endpoint = advertised(addr) + "/" + role
	}
	return o, nil
}

func advertised(addr string) string {
	if a := viper.GetString("advertise"); a != "" {
		return strings.TrimRight(a, "/")
	}
	host, port, err := net.SplitHostPort(addr)
	if err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		addr = net.JoinHostPort("127.0.0.1", port)
	}
	return "http://" + addr
}

// serve runs handler on ln until ctx ends.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	log.Info("serving", "addr", ln.Addr().String(), "openapi", "/openapi.json", "docs", "/docs")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
