package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"TopEquations/internal/chain"
	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/store"
)

func newExportCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Regenerate the certificate document from core, ranked and famous records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), root, false)
			if err != nil {
				return err
			}
			defer a.Close()
			doc, err := a.exporter().Export(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"file":          a.docPath(store.DocCertificates),
				"count":         doc.Count,
				"source_sha256": doc.SourceSHA256,
			})
		},
	}
}

func newPublishCommand(root *RootOptions) *cobra.Command {
	var opts chain.PublishOptions
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Sign every certificate and submit it to the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), root, false)
			if err != nil {
				return err
			}
			defer a.Close()
			publisher, err := a.publisher(cmd.Context())
			if err != nil {
				return err
			}
			receipt, err := publisher.Publish(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "publish only the first N certificates")
	cmd.Flags().BoolVar(&opts.Mine, "mine", false, "request a block after submitting")
	return cmd
}

func newCronCommand(root *RootOptions) *cobra.Command {
	var (
		force    bool
		watch    bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Export, publish and issue receipts when certificates changed since the last publish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root, false)
			if err != nil {
				return err
			}
			defer a.Close()
			publisher, err := a.publisher(ctx)
			if err != nil {
				return err
			}
			cron := chain.NewCron(a.records, a.exporter(), publisher, chain.WithCronLocker(a.locker))
			if !watch {
				result, err := cron.Run(ctx, chain.RunOptions{Force: force})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}
			fs, ok := a.store.(*store.FileStore)
			if !ok {
				return xerrors.New(xerrors.CodeInvalidArgument, "--watch 仅支持 file 存储")
			}
			return ignoreCanceled(cron.Watch(ctx, chain.WatchTargets{
				Certificates: fs.Path(store.DocCertificates),
				Equations:    fs.Path(store.DocEquations),
			}, debounce))
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even when certificates are unchanged")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and react to file changes")
	cmd.Flags().DurationVar(&debounce, "debounce", chain.DefaultDebounce, "quiet period before a watched change triggers a run")
	return cmd
}

func newReceiptCommand(root *RootOptions) *cobra.Command {
	var submissionID string
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Issue a signed receipt for a submission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), root, false)
			if err != nil {
				return err
			}
			defer a.Close()
			publisher, err := a.publisher(cmd.Context())
			if err != nil {
				return err
			}
			receipt, err := chain.NewIssuer(a.records, publisher.Signer()).Issue(cmd.Context(), submissionID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}
	cmd.Flags().StringVar(&submissionID, "submission-id", "", "submission to issue a receipt for")
	_ = cmd.MarkFlagRequired("submission-id")
	return cmd
}

func newWalletCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the signing wallet",
	}
	var (
		out       string
		overwrite bool
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Create a new secp256k1 wallet file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := out
			if path == "" {
				cfg, err := loadConfig(root.ConfigPath)
				if err != nil {
					return err
				}
				path = cfg.Ledger.WalletFile
			}
			if path == "" {
				return xerrors.New(xerrors.CodeInvalidArgument, "需要 --out 或 ledger.wallet_file")
			}
			if _, err := os.Stat(path); err == nil && !overwrite {
				return xerrors.New(xerrors.CodeConflict, "钱包文件已存在", xerrors.WithMetadata("path", path))
			}
			wallet, err := chain.GenerateWallet()
			if err != nil {
				return err
			}
			if err := wallet.Save(path); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"wallet_file": path, "public_key": wallet.PublicKey})
		},
	}
	generate.Flags().StringVar(&out, "out", "", "wallet path; defaults to ledger.wallet_file")
	generate.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing wallet file")
	cmd.AddCommand(generate)
	return cmd
}
