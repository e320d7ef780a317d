package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/briefops/internal/config"
	"github.com/stellarlinkco/briefops/internal/deliver"
	"github.com/stellarlinkco/briefops/internal/deliverable"
	"github.com/stellarlinkco/briefops/internal/flywheel"
	"github.com/stellarlinkco/briefops/internal/intent"
	"github.com/stellarlinkco/briefops/internal/llm"
	"github.com/stellarlinkco/briefops/internal/pipeline"
	"github.com/stellarlinkco/briefops/internal/queue"
	"github.com/stellarlinkco/briefops/internal/scheduler"
	"github.com/stellarlinkco/briefops/internal/scope"
	sigengine "github.com/stellarlinkco/briefops/internal/signal"
	"github.com/stellarlinkco/briefops/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "briefops",
	Short: "briefops - adaptive deliverable pipeline",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, worker pool and flywheel",
	RunE:  runServe,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show briefops status",
	RunE:  runStatus,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a deliverable from a JSON spec file",
	RunE:  runCreate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List deliverables",
	RunE:  runList,
}

var runNowCmd = &cobra.Command{
	Use:   "run <deliverable-id>",
	Short: "Trigger a deliverable run now",
	Args:  cobra.ExactArgs(1),
	RunE:  runNow,
}

var ticketCmd = &cobra.Command{
	Use:   "ticket <ticket-id>",
	Short: "Poll a work ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runTicket,
}

var approveCmd = &cobra.Command{
	Use:   "approve <version-id>",
	Short: "Approve a staged version, optionally with an edited file",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <version-id>",
	Short: "Reject a staged version",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "Show what the system has learned",
	RunE:  runMemories,
}

var detectCmd = &cobra.Command{
	Use:   "detect <utterance>",
	Short: "Resolve an utterance to a skill",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDetect,
}

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Process external signals from a JSON file",
	RunE:  runSignal,
}

var (
	userFlag  string
	fileFlag  string
	notesFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "default", "user id")
	createCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "path to deliverable JSON")
	approveCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "path to edited content")
	approveCmd.Flags().StringVar(&notesFlag, "notes", "", "feedback notes")
	rejectCmd.Flags().StringVar(&notesFlag, "notes", "", "feedback notes")
	signalCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "path to signals JSON")
	rootCmd.AddCommand(serveCmd, onboardCmd, statusCmd, createCmd, listCmd,
		runNowCmd, ticketCmd, approveCmd, rejectCmd, memoriesCmd, detectCmd, signalCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app wires the full pipeline from config.
type app struct {
	cfg        *config.Config
	store      *store.Engine
	dispatcher *queue.Dispatcher
	review     *pipeline.ReviewService
	flywheel   *flywheel.Service
	scheduler  *scheduler.Scheduler
	detector   *intent.Detector
	signals    *sigengine.Engine
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	st, err := store.NewEngine(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	completer := llm.NewClient(cfg)
	embedder := llm.NewEmbedder(cfg)

	router := deliver.NewRouter()
	router.Register(deliverable.DestWebhook, &deliver.WebhookSender{})
	if cfg.Delivery.Telegram.Enabled {
		sender, err := deliver.NewTelegramSender(cfg.Delivery.Telegram.Token)
		if err != nil {
			return nil, fmt.Errorf("telegram sender: %w", err)
		}
		router.Register(deliverable.DestTelegram, sender)
	}

	fw := flywheel.NewService(st)
	runner := pipeline.NewRunner(st, scope.NewEngine(st), completer)

	jobTimeout, err := time.ParseDuration(cfg.Queue.JobTimeout)
	if err != nil {
		jobTimeout = 5 * time.Minute
	}
	dispatcher := queue.NewDispatcher(st, runner, cfg.Queue.Workers, jobTimeout, cfg.Queue.MaxRetries)

	tickInterval, err := time.ParseDuration(cfg.Scheduler.TickInterval)
	if err != nil {
		tickInterval = 2 * time.Minute
	}
	sched := scheduler.New(st, dispatcher, fw, scheduler.SystemClock(), tickInterval, jobTimeout, cfg.Scheduler.FlywheelHourUTC)

	catalog, err := intent.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("load skill catalog: %w", err)
	}

	return &app{
		cfg:        cfg,
		store:      st,
		dispatcher: dispatcher,
		review:     pipeline.NewReviewService(st, fw, router),
		flywheel:   fw,
		scheduler:  sched,
		detector:   intent.NewDetector(catalog, embedder, cfg.Intent.Threshold),
		signals:    sigengine.NewEngine(st, completer, dispatcher),
	}, nil
}

func (a *app) close() {
	_ = a.store.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'briefops onboard' or set BRIEFOPS_API_KEY / OPENAI_API_KEY")
	}

	a.flywheel.Start()
	a.dispatcher.Start()
	if err := a.scheduler.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	a.scheduler.Stop()
	a.dispatcher.Stop()
	a.flywheel.Stop()
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Workspace, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	st, err := store.NewEngine(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	_ = st.Close()

	fmt.Printf("Workspace ready: %s\n", cfg.Workspace)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set BRIEFOPS_API_KEY environment variable")
	fmt.Println("  3. Run 'briefops create -f deliverable.json' to add your first deliverable")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Workspace)
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		fmt.Printf("API Key: %s...%s\n", cfg.Provider.APIKey[:4], cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:])
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Delivery.Telegram.Enabled)

	st, err := store.NewEngine(cfg.Store.DBPath)
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	ds, err := st.ListDeliverables(userFlag, false)
	if err != nil {
		return err
	}
	fmt.Printf("Deliverables: %d\n", len(ds))
	staged := 0
	for _, d := range ds {
		v, err := st.LatestVersion(userFlag, d.ID)
		if err != nil {
			continue
		}
		if v.Status == deliverable.VersionStaged || v.Status == deliverable.VersionReviewing {
			staged++
			fmt.Printf("  awaiting review: %s (version %d of %q)\n", v.ID, v.VersionNumber, d.Title)
		}
	}
	if staged == 0 {
		fmt.Println("Nothing awaiting review")
	}
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	if fileFlag == "" {
		return fmt.Errorf("--file is required")
	}
	data, err := os.ReadFile(fileFlag)
	if err != nil {
		return fmt.Errorf("read spec file: %w", err)
	}

	var spec struct {
		Title            string                  `json:"title"`
		Type             string                  `json:"type"`
		Schedule         deliverable.Schedule    `json:"schedule"`
		Sources          []deliverable.Source    `json:"sources"`
		Destination      deliverable.Destination `json:"destination"`
		RecipientContext string                  `json:"recipientContext"`
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("parse spec file: %w", err)
	}

	dType, err := deliverable.ParseType(spec.Type)
	if err != nil {
		return err
	}
	d := &deliverable.Deliverable{
		UserID:           userFlag,
		Title:            spec.Title,
		Type:             dType,
		Schedule:         spec.Schedule,
		Sources:          spec.Sources,
		Destination:      spec.Destination,
		RecipientContext: spec.RecipientContext,
	}
	if err := d.Validate(); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.CreateDeliverable(d); err != nil {
		return err
	}
	next := d.Schedule.NextRun(time.Now().UTC())
	if err := a.store.SetNextRun(userFlag, d.ID, next); err != nil {
		return err
	}
	fmt.Printf("Created %s (%s), next run %s\n", d.ID, d.Title, next.Format(time.RFC3339))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ds, err := a.store.ListDeliverables(userFlag, true)
	if err != nil {
		return err
	}
	if len(ds) == 0 {
		fmt.Println("No deliverables")
		return nil
	}
	for _, d := range ds {
		next := "-"
		if !d.NextRunAt.IsZero() {
			next = d.NextRunAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-14s %-9s next=%s  %s\n", d.ID, d.Type, d.Status, next, d.Title)
	}
	return nil
}

func runNow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	// Without `serve` running there is no worker pool; Submit falls back to
	// synchronous execution and this call blocks until the run finishes.
	ticket, err := a.dispatcher.Submit(userFlag, args[0])
	if err != nil {
		return err
	}
	printTicket(ticket)
	return nil
}

func runTicket(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ticket, err := a.dispatcher.Status(userFlag, args[0])
	if err != nil {
		return err
	}
	printTicket(ticket)
	return nil
}

func printTicket(t *store.WorkTicket) {
	fmt.Printf("ticket %s: %s", t.ID, t.Status)
	if t.ExecutionMode != "" {
		fmt.Printf(" (%s)", t.ExecutionMode)
	}
	if t.FallbackReason != "" {
		fmt.Printf(" fallback=%q", t.FallbackReason)
	}
	fmt.Println()
	if t.ProgressStage != "" {
		fmt.Printf("progress: %s %d%% %s\n", t.ProgressStage, t.ProgressPercent, t.ProgressMessage)
	}
	if t.OutputVersionID != "" {
		fmt.Printf("version: %s\n", t.OutputVersionID)
	}
	if t.LastError != "" {
		fmt.Printf("error: %s\n", t.LastError)
	}
}

func runApprove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	a.flywheel.Start()
	defer a.flywheel.Stop()

	final := ""
	if fileFlag != "" {
		data, err := os.ReadFile(fileFlag)
		if err != nil {
			return fmt.Errorf("read edited content: %w", err)
		}
		final = string(data)
	}
	if err := a.review.Approve(context.Background(), userFlag, args[0], final, notesFlag); err != nil {
		return err
	}
	fmt.Println("Approved and delivered")
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.review.Reject(userFlag, args[0], notesFlag); err != nil {
		return err
	}
	fmt.Println("Rejected")
	return nil
}

func runMemories(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	memories, err := a.store.ListMemories(userFlag, 50)
	if err != nil {
		return err
	}
	if len(memories) == 0 {
		fmt.Println("Nothing learned yet")
		return nil
	}
	for _, m := range memories {
		fmt.Printf("[%s %.2f] %s: %s\n", m.Source, m.Confidence, m.Key, m.Value)
	}
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	utterance := strings.Join(args, " ")
	detection := a.detector.Detect(context.Background(), utterance)
	if detection.SkillID == "" {
		fmt.Println("No skill detected")
		return nil
	}
	fmt.Printf("skill=%s method=%s confidence=%.2f\n", detection.SkillID, detection.Method, detection.Confidence)
	return nil
}

func runSignal(cmd *cobra.Command, args []string) error {
	if fileFlag == "" {
		return fmt.Errorf("--file is required")
	}
	data, err := os.ReadFile(fileFlag)
	if err != nil {
		return fmt.Errorf("read signals file: %w", err)
	}

	var specs []struct {
		ID       string    `json:"id"`
		Kind     string    `json:"kind"`
		Title    string    `json:"title"`
		Body     string    `json:"body"`
		OccursAt time.Time `json:"occursAt"`
	}
	if err := json.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("parse signals file: %w", err)
	}

	signals := make([]sigengine.Signal, 0, len(specs))
	for _, s := range specs {
		signals = append(signals, sigengine.Signal{
			ID:       s.ID,
			Kind:     s.Kind,
			Title:    s.Title,
			Body:     s.Body,
			OccursAt: s.OccursAt,
		})
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	decisions, err := a.signals.Process(context.Background(), userFlag, signals)
	if err != nil {
		return err
	}
	for _, d := range decisions {
		fmt.Printf("%s: %s", d.SignalID, d.Action)
		if d.DeliverableID != "" {
			fmt.Printf(" -> %s", d.DeliverableID)
		}
		if d.Reason != "" {
			fmt.Printf(" (%s)", d.Reason)
		}
		fmt.Println()
	}
	return nil
}
