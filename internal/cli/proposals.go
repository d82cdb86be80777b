package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"pitchdesk/api/internal/proposal"

	"github.com/spf13/cobra"
)

func newListCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List proposals with their marked version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := st.service().ListProposals(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list proposals: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(groups) == 0 {
				fmt.Fprintln(out, "No proposals.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROPOSAL\tVERSIONS\tMARKED\tLOCKED\tCLIENT\tTITLE\tUPDATED")
			for _, group := range groups {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
					group.ProposalID,
					len(group.Versions),
					group.Marked.VersionID,
					yesNo(group.Mark.Locked),
					orDash(group.Marked.Proposal.ClientName),
					orDash(group.Marked.Proposal.Title),
					formatAge(group.Latest.CreatedAt),
				)
			}
			return w.Flush()
		},
	}
}

func newVersionsCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <proposal-id>",
		Short: "List the versions of a proposal, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			versions, err := st.service().ListVersions(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to list versions: %w", err)
			}
			current, err := st.service().GetProposal(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve mark: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tCREATED\tSOURCE\tPDF\tMARKED")
			for _, version := range versions {
				marker := ""
				if version.VersionID == current.VersionID {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					version.VersionID,
					version.CreatedAt,
					version.Source,
					yesNo(version.PDF),
					marker,
				)
			}
			return w.Flush()
		},
	}
}

func newShowCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "show <proposal-id> [version-id]",
		Short: "Print a version as JSON (the marked one when no version is given)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				version proposal.StoredVersion
				err     error
			)
			if len(args) == 2 {
				version, err = st.service().ReadVersion(cmd.Context(), args[0], args[1])
			} else {
				version, err = st.service().GetProposal(cmd.Context(), args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read proposal: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), version)
		},
	}
}

func newMarkCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <proposal-id> [version-id]",
		Short: "Lock the mark on a version, or restore automatic selection",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			versionID := ""
			if len(args) == 2 {
				versionID = args[1]
			}
			marked, err := st.service().MarkVersion(cmd.Context(), args[0], versionID)
			if err != nil {
				return fmt.Errorf("failed to mark: %w", err)
			}
			if versionID == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %s automatically (unlocked).\n", marked.VersionID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %s (locked).\n", marked.VersionID)
			}
			return nil
		},
	}
}

func newDeleteCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <proposal-id> <version-id>",
		Short: "Delete one version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.service().DeleteVersion(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to delete: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s.\n", args[0], args[1])
			return nil
		},
	}
}

func newMergeCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <target-id> <source-id>",
		Short: "Move every version of source into target and remove source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := st.service().Merge(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to merge: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Moved %d versions from %s into %s.\n", result.Moved, result.SourceID, result.TargetID)
			for from, to := range result.Rekeyed {
				fmt.Fprintf(out, "  re-keyed %s -> %s\n", from, to)
			}
			if result.Marked != nil {
				fmt.Fprintf(out, "Marked %s.\n", result.Marked.VersionID)
			}
			return nil
		},
	}
}

func newMigrateLegacyCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-legacy [proposal-id]",
		Short: "Rewrite legacy proposal.json records into the versioned layout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proposalID := ""
			if len(args) == 1 {
				proposalID = args[0]
			}
			migrated, err := st.service().MigrateLegacy(cmd.Context(), proposalID)
			if err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(migrated) == 0 {
				fmt.Fprintln(out, "Nothing to migrate.")
				return nil
			}
			for _, id := range migrated {
				fmt.Fprintf(out, "Migrated %s\n", id)
			}
			return nil
		},
	}
}

func newBackupCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Commit the data directory now and push when a remote is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := st.service().SyncBackup(cmd.Context())
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			out := cmd.OutOrStdout()
			if !result.Committed {
				fmt.Fprintln(out, "Nothing to commit.")
			} else {
				fmt.Fprintf(out, "Committed %s (%d files).\n", result.Commit, result.Files)
			}
			if result.Pushed {
				fmt.Fprintln(out, "Pushed to remote.")
			}
			return nil
		},
	}
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

// formatAge renders a stored timestamp as a relative age.
func formatAge(createdAt string) string {
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return createdAt
	}
	duration := time.Since(t)

	if duration < time.Minute {
		return "just now"
	}

	minutes := int(duration.Minutes())
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}

	hours := int(duration.Hours())
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}

	days := hours / 24
	return fmt.Sprintf("%dd ago", days)
}
