package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/workorder-orchestrator/internal/agent"
	"github.com/hochfrequenz/workorder-orchestrator/internal/config"
	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	"github.com/hochfrequenz/workorder-orchestrator/internal/engine"
	"github.com/hochfrequenz/workorder-orchestrator/internal/eventbus"
	"github.com/hochfrequenz/workorder-orchestrator/internal/janitor"
	"github.com/hochfrequenz/workorder-orchestrator/internal/notify"
	"github.com/hochfrequenz/workorder-orchestrator/internal/orderstore"
	"github.com/hochfrequenz/workorder-orchestrator/internal/sandbox"
	"github.com/hochfrequenz/workorder-orchestrator/internal/templates"
	"github.com/hochfrequenz/workorder-orchestrator/web/api"
)

var listStatus string

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	rootCmd.AddCommand(listCmd)

	showCmd := &cobra.Command{
		Use:   "show ORDER",
		Short: "Show one work order and its step history",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	rootCmd.AddCommand(showCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*orderstore.Store, error) {
	if dir := filepath.Dir(cfg.General.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return orderstore.New(cfg.General.DatabasePath)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Repositories) == 0 {
		return fmt.Errorf("no repositories configured")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	repos := make([]sandbox.Repo, len(cfg.Repositories))
	for i, r := range cfg.Repositories {
		repos[i] = sandbox.Repo{ID: r.ID, GitDir: r.GitDir, DefaultBranch: r.DefaultBranch}
	}
	sandboxes := sandbox.NewManager(repos, &sandbox.CLI{})

	var overrides []string
	if cfg.General.TemplateDir != "" {
		overrides = append(overrides, cfg.General.TemplateDir)
	}
	registry := templates.NewRegistry(overrides...)

	bus := eventbus.New()
	runner := &agent.CLIRunner{Executable: cfg.Agent.Executable, Model: cfg.Agent.Model}
	executor := engine.NewStepExecutor(registry, runner, bus, cfg.StepTimeout())
	dispatcher := engine.NewDispatcher(store, sandboxes, engine.NewRunner(store, executor, bus), bus, cfg.General.MaxParallelOrders)

	sweeper, err := janitor.New(store, sandboxes, bus, cfg.Janitor.Schedule, cfg.StaleReviewAge())
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := api.NewServer(store, dispatcher, sandboxes, bus, addr)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher.Start(ctx)
	if err := resubmitPending(store, dispatcher); err != nil {
		return err
	}

	notifier := notify.NewMultiNotifier(
		notify.NewDesktopNotifier(cfg.Notifications.Desktop),
		notify.NewSlackNotifier(cfg.Notifications.SlackWebhook),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error { return notify.NewForwarder(bus, notifier).Run(ctx) })
	if len(overrides) > 0 {
		watcher, err := templates.NewWatcher(registry)
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(ctx) })
	}

	log.Printf("workorderd listening on %s", addr)
	err = g.Wait()
	dispatcher.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resubmitPending requeues orders that were accepted but never finished
// before the last shutdown. Orders parked in review stay parked; their
// sandbox state did not survive the restart, so resuming them re-acquires
// one on demand.
func resubmitPending(store *orderstore.Store, dispatcher *engine.Dispatcher) error {
	status := domain.StatusTodo
	pending, err := store.ListOrders(orderstore.ListOptions{Status: &status})
	if err != nil {
		return err
	}
	for _, order := range pending {
		if err := dispatcher.Submit(order.ID); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		log.Printf("resubmitted %d pending work orders", len(pending))
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var opts orderstore.ListOptions
	if listStatus != "" {
		status := domain.Status(listStatus)
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		opts.Status = &status
	}

	orders, err := store.ListOrders(opts)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREPO\tSTATUS\tPHASE\tREQUEST")
	for _, o := range orders {
		phase := "-"
		if o.CurrentPhase != nil {
			phase = string(*o.CurrentPhase)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(o.ID), o.RepositoryID, o.Status, phase, truncate(o.UserRequest, 48))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	order, err := store.GetOrder(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Order:      %s\n", order.ID)
	fmt.Printf("Repository: %s\n", order.RepositoryID)
	fmt.Printf("Status:     %s\n", order.Status)
	if order.CurrentPhase != nil {
		fmt.Printf("Phase:      %s\n", *order.CurrentPhase)
	}
	if order.GitBranchName != "" {
		fmt.Printf("Branch:     %s\n", order.GitBranchName)
	}
	if order.PullRequestURL != "" {
		fmt.Printf("PR:         %s\n", order.PullRequestURL)
	}
	if order.ErrorMessage != "" {
		fmt.Printf("Error:      %s\n", order.ErrorMessage)
	}
	fmt.Printf("Request:    %s\n", order.UserRequest)

	history, err := store.StepHistory(order.ID)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	fmt.Println("\nSteps:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tAGENT\tOK\tDURATION")
	for _, h := range history {
		ok := "yes"
		if !h.Success {
			ok = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1fs\n", h.Step, h.AgentName, ok, h.DurationSeconds)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
