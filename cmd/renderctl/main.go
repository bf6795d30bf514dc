package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vibeway/renderfarm/pkg/config"
	"github.com/vibeway/renderfarm/pkg/jobrunner"
	"github.com/vibeway/renderfarm/pkg/logging"
	"github.com/vibeway/renderfarm/pkg/nodepool"
	"github.com/vibeway/renderfarm/pkg/orchestrator"
	"github.com/vibeway/renderfarm/pkg/provider"
	"github.com/vibeway/renderfarm/pkg/runlog"
	"github.com/vibeway/renderfarm/pkg/telemetry"
)

// jobFile is the YAML document describing one render run.
type jobFile struct {
	Name       string   `yaml:"name"`
	Image      string   `yaml:"image"`
	CloudType  string   `yaml:"cloud_type"`
	GPUTypes   []string `yaml:"gpu_types"`
	GPUCount   int      `yaml:"gpu_count"`
	MinMemGB   int      `yaml:"min_memory_gb"`
	MinVCPU    int      `yaml:"min_vcpu"`
	DiskGB     int      `yaml:"disk_gb"`
	Country    string   `yaml:"country"`
	MaxRetries int      `yaml:"max_retries"`
	RetryDelay string   `yaml:"retry_delay"`
	TemplateID string   `yaml:"template_id"`

	Graph      string `yaml:"graph"`
	Prompt     string `yaml:"prompt"`
	PromptNode string `yaml:"prompt_node"`
	Seed       int64  `yaml:"seed"`
	SeedNode   string `yaml:"seed_node"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	SizeNode   string `yaml:"size_node"`
	Prefix     string `yaml:"prefix"`
	PrefixNode string `yaml:"prefix_node"`

	Pattern           string   `yaml:"pattern"`
	Extensions        []string `yaml:"extensions"`
	Destinations      []string `yaml:"destinations"`
	CompletionTimeout string   `yaml:"completion_timeout"`
	DiscoverTimeout   string   `yaml:"discover_timeout"`
	Terminate         bool     `yaml:"terminate"`
}

func main() {
	log := logging.New("renderctl")

	root := &cobra.Command{
		Use:           "renderctl",
		Short:         "Provision a GPU node, run a render job, tear it down",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCommand(log))
	root.AddCommand(sweepCommand(log))

	if err := root.Execute(); err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func runCommand(log logging.Logger) *cobra.Command {
	var jobPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one render job end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			job, err := loadJobFile(jobPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown := telemetry.InitTracer(ctx, "renderctl")
			defer func() { _ = shutdown(context.Background()) }()

			graph, err := jobrunner.LoadGraph(job.Graph)
			if err != nil {
				return err
			}
			if err := mutateGraph(graph, job); err != nil {
				return err
			}

			ledger, closeLedger, err := openLedger(cfg, log)
			if err != nil {
				return err
			}
			defer closeLedger()

			api := provider.NewClient(cfg.ProviderURL, cfg.ProviderAPIKey)
			pool := nodepool.NewManager(api, nodepool.Options{
				PollDelay:   cfg.PollDelay,
				ProxyDomain: cfg.ProxyDomain,
			}, log)
			orch := orchestrator.New(pool, ledger, log)

			outcome := orch.Run(ctx, orchestrator.Request{
				Spec:          recruitmentSpec(job, cfg),
				ServicePort:   cfg.ServicePort,
				ReadyAttempts: cfg.ReadyAttempts,
				Graph:         graph,
				Params: jobrunner.ProcessParams{
					OutputDir:         cfg.OutputDir,
					Pattern:           job.Pattern,
					Extensions:        job.Extensions,
					Destinations:      job.Destinations,
					CompletionTimeout: durationOr(job.CompletionTimeout, 20*time.Minute),
					DiscoverTimeout:   durationOr(job.DiscoverTimeout, 2*time.Minute),
				},
				Terminate: job.Terminate,
			})

			if outcome.ReleaseWarning != "" {
				log.Warn("node release failed", "nodeID", outcome.NodeID, "warning", outcome.ReleaseWarning)
			}
			if !outcome.Success {
				return fmt.Errorf("run %s failed: %s", outcome.RunID, outcome.Reason)
			}
			fmt.Printf("run %s complete: node=%s job=%s artifacts=%v\n",
				outcome.RunID, outcome.NodeID, outcome.JobID, outcome.Artifacts)
			return nil
		},
	}
	cmd.Flags().StringVarP(&jobPath, "job", "j", "", "path to the job YAML file")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func sweepCommand(log logging.Logger) *cobra.Command {
	var terminate, all, strict bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Stop or terminate provisioned nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			api := provider.NewClient(cfg.ProviderURL, cfg.ProviderAPIKey)
			pool := nodepool.NewManager(api, nodepool.Options{ProxyDomain: cfg.ProxyDomain}, log)

			report, err := pool.CloseAll(ctx, terminate, all)
			if err != nil {
				return err
			}
			for _, res := range report.Results {
				switch {
				case res.AlreadyDown:
					fmt.Printf("%s: already down\n", res.NodeID)
				case res.Success:
					fmt.Printf("%s: released\n", res.NodeID)
				default:
					fmt.Printf("%s: FAILED: %v\n", res.NodeID, res.Err)
				}
			}
			fmt.Printf("sweep done: %d released, %d failed\n", report.Succeeded, report.Failed)
			if strict && report.Failed > 0 {
				return fmt.Errorf("%d nodes failed to release", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&terminate, "terminate", false, "terminate nodes instead of stopping them (irreversible)")
	cmd.Flags().BoolVar(&all, "all", false, "include non-running nodes")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any node fails to release")
	return cmd
}

func loadJobFile(path string) (*jobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	var job jobFile
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}
	if job.Graph == "" {
		return nil, fmt.Errorf("job file is missing a graph path")
	}
	return &job, nil
}

func mutateGraph(graph jobrunner.Graph, job *jobFile) error {
	if job.PromptNode != "" {
		if err := graph.SetPrompt(job.PromptNode, job.Prompt); err != nil {
			return err
		}
	}
	if job.SeedNode != "" {
		if err := graph.SetSeed(job.SeedNode, job.Seed); err != nil {
			return err
		}
	}
	if job.SizeNode != "" && job.Width > 0 && job.Height > 0 {
		if err := graph.SetDimensions(job.SizeNode, job.Width, job.Height); err != nil {
			return err
		}
	}
	if job.PrefixNode != "" {
		if err := graph.SetFilenamePrefix(job.PrefixNode, job.Prefix); err != nil {
			return err
		}
	}
	return nil
}

func recruitmentSpec(job *jobFile, cfg config.Config) nodepool.RecruitmentSpec {
	return nodepool.RecruitmentSpec{
		Name:            job.Name,
		ImageName:       job.Image,
		CloudType:       job.CloudType,
		GPUTypeIDs:      job.GPUTypes,
		GPUCount:        job.GPUCount,
		MinMemoryGB:     job.MinMemGB,
		MinVCPUCount:    job.MinVCPU,
		ContainerDiskGB: job.DiskGB,
		Ports:           []string{cfg.ServicePort},
		CountryCode:     job.Country,
		MaxRetries:      job.MaxRetries,
		RetryDelay:      durationOr(job.RetryDelay, 0),
		TemplateID:      job.TemplateID,
	}
}

func openLedger(cfg config.Config, log logging.Logger) (runlog.Ledger, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := runlog.NewPostgresLedger(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return pg, func() { _ = pg.Close() }, nil
	case cfg.RedisURL != "":
		rl, err := runlog.NewRedisLedger(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis ledger: %w", err)
		}
		return rl, func() { _ = rl.Close() }, nil
	default:
		log.Info("no ledger configured, run history disabled")
		return runlog.Nop{}, func() {}, nil
	}
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
