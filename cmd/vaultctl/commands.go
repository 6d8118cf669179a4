package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kenneth/zk-vault/internal/vault"
)

func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Register the account and set its master password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, *configPath, func(a *app) error {
				password, err := readNewSecret(envMasterPassword, "New master password: ")
				if err != nil {
					return err
				}
				defer wipe(password)

				if err := a.vault.Register(ctx, password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Vault initialized for account %s\n", a.cfg.AccountID)
				return nil
			})
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the account is registered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, *configPath, func(a *app) error {
				st, err := a.vault.Status(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Account:    %s\n", st.AccountID)
				fmt.Fprintf(out, "Registered: %t\n", st.Registered)
				if st.Registered {
					fmt.Fprintf(out, "Algorithm:  %s\n", st.Algorithm)
				}
				return nil
			})
		},
	}
}

func newPutCmd(configPath *string) *cobra.Command {
	var (
		name      string
		folder    string
		secondary bool
	)
	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "Encrypt and store a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			if name == "" {
				name = filepath.Base(args[0])
			}

			return withApp(ctx, *configPath, func(a *app) error {
				if err := a.unlock(ctx); err != nil {
					return err
				}

				req := vault.UploadRequest{Name: name, Data: data, FolderRef: folder}
				if secondary {
					req.SecondaryPassword, err = readNewSecret(envSecondaryPassword, "Secondary password: ")
					if err != nil {
						return err
					}
					defer wipe(req.SecondaryPassword)
				}

				info, err := a.vault.Upload(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), info.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name to store the file under (default: base name of path)")
	cmd.Flags().StringVar(&folder, "folder", "", "folder reference")
	cmd.Flags().BoolVar(&secondary, "secondary", false, "also protect the file with a secondary password")
	return cmd
}

func newGetCmd(configPath *string) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <file-id>",
		Short: "Decrypt a file to stdout or a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, *configPath, func(a *app) error {
				if err := a.unlock(ctx); err != nil {
					return err
				}

				file, err := a.vault.Download(ctx, args[0], nil)
				if err != nil && isSecondaryRequired(err) {
					secondary, rerr := readSecret(envSecondaryPassword, "Secondary password: ")
					if rerr != nil {
						return rerr
					}
					defer wipe(secondary)
					file, err = a.vault.Download(ctx, args[0], secondary)
				}
				if err != nil {
					return err
				}

				if output == "" {
					_, err = cmd.OutOrStdout().Write(file.Data)
					return err
				}
				if err := os.WriteFile(output, file.Data, 0o600); err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%d bytes)\n", file.Info.Name, len(file.Data))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the file here instead of stdout")
	return cmd
}

func newListCmd(configPath *string) *cobra.Command {
	var folder string
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored files",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, *configPath, func(a *app) error {
				if err := a.unlock(ctx); err != nil {
					return err
				}
				files, err := a.vault.List(ctx, folder)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tSIZE\tSECONDARY\tCREATED")
				for _, f := range files {
					fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", f.ID, f.Name, f.SizeBytes, f.RequiresSecondaryPassword, f.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "only list files in this folder")
	return cmd
}

func newRemoveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <file-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a stored file",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, *configPath, func(a *app) error {
				if err := a.unlock(ctx); err != nil {
					return err
				}
				if err := a.vault.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newPasswdCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the master password",
		Long: `Change the master password and re-wrap every file key under the new master key.

The change is all-or-nothing. It is refused while any file is protected by a
secondary password; download and re-upload those files without one first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, *configPath, func(a *app) error {
				current, err := readSecret(envMasterPassword, "Current master password: ")
				if err != nil {
					return err
				}
				defer wipe(current)
				if err := a.vault.Unlock(ctx, current); err != nil {
					return err
				}

				next, err := readNewSecret(envNewMasterPassword, "New master password: ")
				if err != nil {
					return err
				}
				defer wipe(next)

				result, err := a.vault.ChangeMasterPassword(ctx, current, next)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Master password changed, %d file keys re-wrapped\n", result.FilesRewrapped)
				return nil
			})
		},
	}
}
