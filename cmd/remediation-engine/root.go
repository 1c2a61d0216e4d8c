package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vulnzero/remediation-engine/pkg/config"
	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/engine"
	"github.com/vulnzero/remediation-engine/pkg/enrich"
	"github.com/vulnzero/remediation-engine/pkg/llm"
	"github.com/vulnzero/remediation-engine/pkg/patch"
	"github.com/vulnzero/remediation-engine/pkg/resilience"
	"github.com/vulnzero/remediation-engine/pkg/sandbox"
	"github.com/vulnzero/remediation-engine/pkg/scanner"
	"github.com/vulnzero/remediation-engine/pkg/store"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "remediation-engine",
		Short:         "Autonomous vulnerability remediation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(scanCmd(), generateCmd(), testCmd())
	return root
}

// buildEngine wires the engine from configuration. Local runs without
// configured sources fall back to the deterministic mock scanner and the
// in-memory store.
func buildEngine(cfg *config.Config, withLLM bool) (*engine.Engine, store.Store, error) {
	resilience.SetDefaultBreakerConfig(resilience.BreakerConfig{
		FailureThreshold: cfg.CircuitFailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.CircuitRecoverySeconds) * time.Second,
	})

	sources := cfg.ScanSources
	if len(sources) == 0 {
		sources = []scanner.Config{{Type: "mock", Seed: 1, Count: 20}}
	}

	var adapters []scanner.Adapter
	for _, src := range sources {
		adapter, err := scanner.New(src)
		if err != nil {
			return nil, nil, err
		}
		adapters = append(adapters, adapter)
	}

	enricher := enrich.NewEnricher(
		enrich.NewNVDClient(cfg.NVDAPIKey),
		enrich.NewEPSSClient(),
		enrich.NewKEVCatalog(),
		enrich.Options{CacheTTL: cfg.CacheTTL, Concurrency: cfg.EnrichConcurrency},
	)

	var orchestrator *patch.Orchestrator
	if withLLM {
		client, err := llm.NewClient(llm.ProviderConfig{
			Provider: cfg.LLMProvider,
			APIKey:   cfg.LLMAPIKey,
			Model:    cfg.LLMModel,
			Endpoint: cfg.LLMEndpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		orchestrator = patch.NewOrchestrator(client, patch.NewValidator(),
			patch.WithSanitizationLevel(cfg.SanitizationLevel))
	}

	harnessConfig := sandbox.DefaultConfig()
	harnessConfig.CPULimit = cfg.SandboxCPULimit
	harnessConfig.MemoryLimitMB = cfg.SandboxMemMB

	st := store.NewMemoryStore()
	eng := engine.New(engine.Options{
		Scanners:     adapters,
		Enricher:     enricher,
		Orchestrator: orchestrator,
		Harness:      sandbox.NewHarness(sandbox.NewDockerRuntime(nil), harnessConfig),
		Store:        st,
		Assets: func(ctx context.Context, assetID string) (*domain.Asset, error) {
			// Asset inventory is a collaborator; the CLI resolves everything to
			// a generic Ubuntu host.
			return &domain.Asset{ID: assetID, OSFamily: "ubuntu", OSVersion: "22.04", Role: domain.RoleGeneric}, nil
		},
		FleetSize: 100,
	})
	return eng, st, nil
}

func scanCmd() *cobra.Command {
	var sinceDays int
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan cycle: fetch, dedup, enrich, prioritize",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			eng, st, err := buildEngine(cfg, false)
			if err != nil {
				return err
			}

			report, err := eng.RunScanCycle(cmd.Context(), time.Now().AddDate(0, 0, -sinceDays))
			if err != nil {
				return err
			}

			fmt.Printf("scan cycle: %d findings (%d new, %d updated)\n", report.Total, report.New, report.Updated)
			findings, _ := st.ListFindings(cmd.Context())
			for _, f := range findings {
				fmt.Printf("  %-18s %-10s priority %5.1f  %s\n", f.CVEID, f.Severity, f.PriorityScore, f.Title)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&sinceDays, "since-days", 30, "only ingest findings discovered in the last N days")
	return cmd
}

func generateCmd() *cobra.Command {
	var osFamily, osVersion, pkgManager, strategy string
	cmd := &cobra.Command{
		Use:   "generate <cve-id>",
		Short: "Generate and validate a remediation patch for a stored finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			eng, _, err := buildEngine(cfg, true)
			if err != nil {
				return err
			}
			if _, err := eng.RunScanCycle(cmd.Context(), time.Time{}); err != nil {
				return err
			}

			finding, err := eng.EnrichFinding(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			artifact, err := eng.GeneratePatch(cmd.Context(), domain.PatchRequest{
				Finding:        finding,
				OSFamily:       osFamily,
				OSVersion:      osVersion,
				PackageManager: pkgManager,
				Strategy:       domain.PatchStrategy(strategy),
			})
			if err != nil {
				return err
			}

			fmt.Printf("patch %s status=%s confidence=%.2f\n", artifact.ID, artifact.Status, artifact.ConfidenceScore)
			fmt.Println(artifact.Script)
			return nil
		},
	}
	cmd.Flags().StringVar(&osFamily, "os", "ubuntu", "target OS family")
	cmd.Flags().StringVar(&osVersion, "os-version", "22.04", "target OS version")
	cmd.Flags().StringVar(&pkgManager, "package-manager", "apt", "target package manager")
	cmd.Flags().StringVar(&strategy, "strategy", string(domain.StrategyPackageUpdate), "patch strategy")
	return cmd
}

func testCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <patch-id> <asset-id>",
		Short: "Rehearse a stored patch in an isolated sandbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sandbox.CheckDockerInstalled(); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			eng, _, err := buildEngine(cfg, false)
			if err != nil {
				return err
			}

			test, err := eng.TestPatch(cmd.Context(), args[0], args[1])
			if test != nil {
				fmt.Println(sandbox.NewAnalyzer().Report(test))
			}
			return err
		},
	}
	return cmd
}
