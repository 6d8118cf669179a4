package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kenneth/zk-vault/internal/config"
	"github.com/kenneth/zk-vault/internal/crypto"
	"github.com/kenneth/zk-vault/internal/loadtest"
	"github.com/kenneth/zk-vault/internal/session"
	"github.com/kenneth/zk-vault/internal/store"
	"github.com/kenneth/zk-vault/internal/vault"
)

var errRegression = errors.New("significant regression detected")

func newBenchCmd(configPath *string) *cobra.Command {
	var (
		cfg            loadtest.Config
		updateBaseline bool
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure seal and open throughput against throwaway in-memory stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			appCfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(appCfg)

			masterKDF, err := crypto.NewMasterKDF(appCfg.Crypto.MasterIterations)
			if err != nil {
				return err
			}
			secondaryKDF, err := crypto.NewSecondaryKDF(appCfg.Crypto.SecondaryIterations)
			if err != nil {
				return err
			}
			v, err := vault.New(vault.Options{
				AccountID:    "bench",
				Algorithm:    appCfg.Crypto.Algorithm,
				MasterKDF:    masterKDF,
				SecondaryKDF: secondaryKDF,
				MaxFileSize:  appCfg.Limits.MaxFileSize,
				Blobs:        store.NewMemoryBlobStore(),
				Metadata:     store.NewMemoryMetadataStore(),
				Session:      session.New(0, logger),
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			password := make([]byte, crypto.KeySize)
			if _, err := rand.Read(password); err != nil {
				return err
			}
			if err := v.Register(ctx, password); err != nil {
				return err
			}
			defer v.Session().Close()

			out := cmd.OutOrStdout()
			results, err := loadtest.Run(ctx, v, cfg, logger)
			if err != nil {
				return err
			}
			loadtest.PrintResults(out, results)

			if cfg.BaselineFile == "" {
				return nil
			}
			if updateBaseline {
				if err := loadtest.SaveBaseline(results, cfg.BaselineFile); err != nil {
					return fmt.Errorf("failed to save baseline: %w", err)
				}
				fmt.Fprintf(out, "Baseline updated: %s\n", cfg.BaselineFile)
				return nil
			}

			regression, err := loadtest.AnalyzeRegression(results, cfg.BaselineFile, cfg.RegressionThreshold)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					fmt.Fprintln(out, "No baseline found, run with --update-baseline to create one")
					return nil
				}
				return err
			}
			loadtest.PrintRegression(out, regression)
			if regression.SignificantRegression {
				return errRegression
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&cfg.Workers, "workers", 4, "number of concurrent workers")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "test duration")
	cmd.Flags().Int64Var(&cfg.FileSize, "file-size", 1<<20, "plaintext size of each file in bytes")
	cmd.Flags().IntVar(&cfg.SecondaryEvery, "secondary-every", 0, "protect every Nth file with a secondary password (0 disables)")
	cmd.Flags().StringVar(&cfg.BaselineFile, "baseline", "", "baseline file for regression checks")
	cmd.Flags().Float64Var(&cfg.RegressionThreshold, "threshold", 10.0, "regression threshold in percent")
	cmd.Flags().BoolVar(&updateBaseline, "update-baseline", false, "write the baseline instead of checking against it")
	return cmd
}
