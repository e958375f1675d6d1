package main

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphfs/internal/drivefs"
	"github.com/tonimelisma/graphfs/internal/driveops"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Write a file's content to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  runCat,
	}
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Long: `Download a file. Content goes to <local-path>.partial first and is
renamed into place once its QuickXorHash matches. Re-running after an
interruption resumes the partial download.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runGet,
	}

	cmd.Flags().Bool("strict-hash", false, "fail instead of keeping a download whose hash never matches")

	return cmd
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> [remote-path]",
		Short: "Upload a file",
		Long: `Upload a file. If remote-path is an existing folder, or omitted, the
file keeps its local name inside that folder (default: the drive root).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runPut,
	}
}

func newMkdirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <path>...",
		Short: "Create folders",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runMkdir,
	}

	cmd.Flags().BoolP("parents", "p", false, "create missing parents; no error if the folder exists")

	return cmd
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Delete files or folders",
		Long: `Delete files or folders. With safety.use_recycle_bin (the default) items
go to the drive's recycle bin; otherwise they are deleted permanently.
Non-empty folders require --recursive.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRm,
	}

	cmd.Flags().BoolP("recursive", "r", false, "delete non-empty folders")

	return cmd
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Move or rename a file or folder",
		Args:  cobra.ExactArgs(2), //nolint:mnd // src and dst
		RunE:  runMv,
	}
}

func newCpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy a file or folder on the server",
		Args:  cobra.ExactArgs(2), //nolint:mnd // src and dst
		RunE:  runCp,
	}
}

func newTouchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "touch <path>",
		Short: "Create an empty file or update its modification time",
		Args:  cobra.ExactArgs(1),
		RunE:  runTouch,
	}

	cmd.Flags().Bool("truncate", false, "empty an existing file")

	return cmd
}

// withFS opens the configured drive, runs fn and releases the drive.
func withFS(cmd *cobra.Command, fn func(ctx context.Context, fsys *drivefs.FS, logger *slog.Logger) error) error {
	logger := buildLogger()

	ctx := cmd.Context()

	fsys, err := openFS(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer fsys.Close()

	return fn(ctx, fsys, logger)
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	return withFS(cmd, func(ctx context.Context, fsys *drivefs.FS, logger *slog.Logger) error {
		logger.Debug("ls", slog.String("path", remotePath))

		infos, err := fsys.Ls(ctx, remotePath)
		if err != nil {
			return err
		}

		if flagJSON {
			return printItemsJSON(cmd.OutOrStdout(), infos)
		}

		printItemsTable(cmd.OutOrStdout(), infos)

		return nil
	})
}

func runStat(cmd *cobra.Command, args []string) error {
	return withFS(cmd, func(ctx context.Context, fsys *drivefs.FS, _ *slog.Logger) error {
		fi, err := fsys.Info(ctx, args[0])
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), toItemJSON(fi))
		}

		printStat(cmd.OutOrStdout(), fi)

		return nil
	})
}

func runCat(cmd *cobra.Command, args []string) error {
	return withFS(cmd, func(ctx context.Context, fsys *drivefs.FS, _ *slog.Logger) error {
		r, err := fsys.Open(ctx, args[0])
		if err != nil {
			return err
		}
		defer r.Close()

		if _, err := r.WriteTo(cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		return nil
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	remotePath := args[0]

	localPath := path.Base(path.Clean("/" + remotePath))
	if len(args) > 1 {
		localPath = args[1]
	}

	strict, err := cmd.Flags().GetBool("strict-hash")
	if err != nil {
		return err
	}

	return withFS(cmd, func(ctx context.Context, fsys *drivefs.FS, _ *slog.Logger) error {
		res, err := fsys.Get(ctx, remotePath, localPath, driveops.DownloadOpts{StrictHash: strict})
		if err != nil {
			statusf(cmd, "Re-run the same command to resume a partial download.\n")
			return err
		}

		if !res.HashVerified {
			statusf(cmd, "Warning: hash of %s did not match the server's\n", localPath)
		}

		verb := "Downloaded"
		if res.Resumed {
			verb = "Resumed and downloaded"
		}

		statusf(cmd, "%s %s (%s)\n", verb, localPath, formatSize(res.Size))

		return nil
	})
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]

	remotePath := "/"
	if len(args) > 1 {
		remotePath = args[1]
	}

	return withFS(cmd, func(ctx context.Context, fsys *drivefs.FS, logger *slog.Logger) error {
		onTransition := func(from, to driveops.UploadState) {
			logger.Debug("upload state",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}

		fi, err := fsys.Put(ctx, localPath, remotePath, onTransition)
		if err != nil {
			return err
		}

		statusf(cmd, "Uploaded %s (%s)\n", fi.Path(), formatSize(fi.Size()))

		return nil
	})
}

func runMkdir(cmd *cobra.Command, args []string) error {
	parents, err := cmd.Flags().GetBool("parents")
	if err != nil {
		return err
	}

	return withFS(cmd, func(ctx context.Context, fsys *drivefs.FS, _ *slog.Logger) error {
		for _, p := range args {
			fi, err := fsys.Mkdir(ctx, p, drivefs.MkdirOpts{Parents: parents, ExistOK: parents})
			if err != nil {
				return err
			}

			statusf(cmd, "Created %s\n", fi.Path())
		}

		return nil
	})
}

func runRm(cmd *cobra.Command, args []string) error {
	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	return withFS(cmd, func(ctx context.Context, fsys *drivefs.FS, _ *slog.Logger) error {
		if err := fsys.RmMany(ctx, args, drivefs.RmOpts{Recursive: recursive}); err != nil {
			return err
		}

		statusf(cmd, "Deleted %d item(s)\n", len(args))

		return nil
	})
}

func runMv(cmd *cobra.Command, args []string) error {
	return withFS(cmd, func(ctx context.Context, fsys *drivefs.FS, _ *slog.Logger) error {
		fi, err := fsys.Mv(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		statusf(cmd, "Moved %s -> %s\n", args[0], fi.Path())

		return nil
	})
}

func runCp(cmd *cobra.Command, args []string) error {
	return withFS(cmd, func(ctx context.Context, fsys *drivefs.FS, _ *slog.Logger) error {
		fi, err := fsys.Copy(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		statusf(cmd, "Copied %s -> %s\n", args[0], fi.Path())

		return nil
	})
}

func runTouch(cmd *cobra.Command, args []string) error {
	truncate, err := cmd.Flags().GetBool("truncate")
	if err != nil {
		return err
	}

	return withFS(cmd, func(ctx context.Context, fsys *drivefs.FS, _ *slog.Logger) error {
		_, err := fsys.Touch(ctx, args[0], truncate)
		return err
	})
}
