package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GeneralTask/task-manager-sub001/domain"
)

func viewsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "views",
		Short: "List and arrange the overview",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the overview views in order",
		Args:  cobra.NoArgs,
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			return printViews(cmd.OutOrStdout(), s.engine.Views())
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "move <view-id> <index>",
		Short: "Move a view to a 0-based position",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			if err := s.requireOnline(); err != nil {
				return err
			}
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			views := s.engine.Views()
			from := domain.FindView(views, args[0])
			if from < 0 {
				return fmt.Errorf("view %s: %w", args[0], domain.ErrNotFound)
			}
			// The drop lands before the view currently at index, or after it
			// when moving down so the view ends up at index.
			drop := domain.Drop{ListID: domain.OverviewListID, TargetIndex: index, Position: domain.DropBefore}
			if index > from {
				drop.Position = domain.DropAfter
			}
			it, err := s.engine.Drop(domain.ViewDrag{ViewID: views[from].ID, Index: from}, drop)
			if domain.IsDropPolicyViolation(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := s.settle(cmd.Context(), it); err != nil {
				return err
			}
			return printViews(cmd.OutOrStdout(), s.engine.Views())
		}),
	})
	var folder string
	add := &cobra.Command{
		Use:   "add <type>",
		Short: "Add a view (task_section, linear, slack, github, meeting_preparation, due_today)",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			if err := s.requireOnline(); err != nil {
				return err
			}
			id, it, err := s.engine.AddView(domain.ViewType(args[0]), folder)
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
	add.Flags().StringVar(&folder, "folder", "", "Folder of a task_section view")
	cmd.AddCommand(add)
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <view-id>",
		Short: "Remove a view from the overview",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(o, func(cmd *cobra.Command, s *session, args []string) error {
			if err := s.requireOnline(); err != nil {
				return err
			}
			it, err := s.engine.RemoveView(args[0])
			if err != nil {
				return err
			}
			return s.settle(cmd.Context(), it)
		}),
	})
	return cmd
}

func printViews(w io.Writer, views []domain.View) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tNAME\tTYPE\tITEMS")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", v.IDOrdering, v.ID, v.Name, v.Type, len(v.ViewItems))
	}
	return tw.Flush()
}
