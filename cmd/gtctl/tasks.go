package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/workspace"
)

func tasksCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage tasks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list [folder-id]",
		Short: "Show the tasks of a folder, the default folder when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			folders := s.engine.Folders()
			fi := workspace.DefaultFolder(folders)
			if len(args) == 1 {
				fi = domain.FindFolder(folders, args[0])
			}
			if fi < 0 {
				return fmt.Errorf("folder: %w", domain.ErrNotFound)
			}
			return printTasks(cmd.OutOrStdout(), folders[fi].Tasks)
		}),
	})

	var folder, body string
	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task at the top of a folder",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			if err := s.requireOnline(); err != nil {
				return err
			}
			id, it, err := s.engine.CreateTask(folder, args[0], body)
			if err != nil {
				return err
			}
			if err := s.settle(cmd.Context(), it); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.engine.ResolveID(id))
			return nil
		}),
	}
	add.Flags().StringVar(&folder, "folder", "", "Destination folder id")
	add.Flags().StringVar(&body, "body", "", "Task body")
	cmd.AddCommand(add)

	var to string
	var after bool
	move := &cobra.Command{
		Use:   "move <task-id> <index>",
		Short: "Drop a task before (or with --after, after) the task at index",
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
			fi, ti := domain.FindTask(folders, args[0])
			if fi < 0 {
				return fmt.Errorf("task %s: %w", args[0], domain.ErrNotFound)
			}
			drop := domain.Drop{ListID: to, TargetIndex: index, Position: domain.DropBefore}
			if drop.ListID == "" {
				drop.ListID = folders[fi].ID
			}
			if after {
				drop.Position = domain.DropAfter
			}
			it, err := s.engine.Drop(domain.TaskDrag{TaskID: folders[fi].Tasks[ti].ID, FolderID: folders[fi].ID, Index: ti}, drop)
			if err != nil {
				if domain.IsDropPolicyViolation(err) {
					fmt.Fprintln(cmd.ErrOrStderr(), "task left in place:", err)
					return nil
				}
				return err
			}
			return s.settle(cmd.Context(), it)
		}),
	}
	move.Flags().StringVar(&to, "to", "", "Destination folder or task section view, the current folder when omitted")
	move.Flags().BoolVar(&after, "after", false, "Drop after the target instead of before")
	cmd.AddCommand(move)

	var undo bool
	done := &cobra.Command{
		Use:   "done <task-id>",
		Short: "Mark a task done",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			if err := s.requireOnline(); err != nil {
				return err
			}
			it, err := s.engine.MarkTaskDone(args[0], !undo)
			if err != nil {
				return err
			}
			return s.settle(cmd.Context(), it)
		}),
	}
	done.Flags().BoolVar(&undo, "undo", false, "Reopen the task instead")
	cmd.AddCommand(done)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <task-id>",
		Short: "Move a task to the trash",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			if err := s.requireOnline(); err != nil {
				return err
			}
			it, err := s.engine.DeleteTask(args[0])
			if err != nil {
				return err
			}
			return s.settle(cmd.Context(), it)
		}),
	})
	return cmd
}

func printTasks(w io.Writer, tasks []domain.ViewItem) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tTITLE\tDUE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.IDOrdering, t.ID, t.Title, t.DueDate)
	}
	return tw.Flush()
}
