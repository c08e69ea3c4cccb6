package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GeneralTask/task-manager-sub001/domain"
)

func foldersCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "Manage task folders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the folders in order",
		Args:  cobra.NoArgs,
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			return printFolders(cmd.OutOrStdout(), s.engine.Folders())
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			if err := s.requireOnline(); err != nil {
				return err
			}
			id, it, err := s.engine.CreateFolder(args[0])
			if err != nil {
				return err
			}
			if err := s.settle(cmd.Context(), it); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.engine.ResolveID(id))
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename <folder-id> <name>",
		Short: "Rename a folder",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			if err := s.requireOnline(); err != nil {
				return err
			}
			name := args[1]
			it, err := s.engine.ModifyFolder(args[0], domain.FolderModify{Name: &name})
			if err != nil {
				return err
			}
			return s.settle(cmd.Context(), it)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "move <folder-id> <index>",
		Short: "Move a folder to a 0-based position",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			if err := s.requireOnline(); err != nil {
				return err
			}
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			folders := s.engine.Folders()
			from := domain.FindFolder(folders, args[0])
			if from < 0 {
				return fmt.Errorf("folder %s: %w", args[0], domain.ErrNotFound)
			}
			drop := domain.Drop{ListID: domain.FoldersListID, TargetIndex: index, Position: domain.DropBefore}
			if index > from {
				drop.Position = domain.DropAfter
			}
			it, err := s.engine.Drop(domain.FolderDrag{FolderID: folders[from].ID, Index: from}, drop)
			if domain.IsDropPolicyViolation(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := s.settle(cmd.Context(), it); err != nil {
				return err
			}
			return printFolders(cmd.OutOrStdout(), s.engine.Folders())
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <folder-id>",
		Short: "Delete a folder and move its tasks to the trash",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			if err := s.requireOnline(); err != nil {
				return err
			}
			it, err := s.engine.DeleteFolder(args[0])
			if err != nil {
				return err
			}
			return s.settle(cmd.Context(), it)
		}),
	})
	return cmd
}

func printFolders(w io.Writer, folders []domain.Folder) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tNAME\tTASKS\t")
	for _, f := range folders {
		flag := ""
		switch {
		case f.IsDone:
			flag = "done"
		case f.IsTrash:
			flag = "trash"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", f.IDOrdering, f.ID, f.Name, len(f.Tasks), flag)
	}
	return tw.Flush()
}
