package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/donelist/internal/domain"
	"github.com/rcliao/donelist/internal/search"
	"github.com/rcliao/donelist/internal/service"
)

// withTasks adapts a RunE that needs the task service.
func withTasks(a *app, run func(cmd *cobra.Command, tasks *service.TaskService, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		tasks, err := a.taskService()
		if err != nil {
			return err
		}
		return run(cmd, tasks, args)
	}
}

func addCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a task",
		Args:  cobra.ExactArgs(1),
		RunE: withTasks(a, func(cmd *cobra.Command, tasks *service.TaskService, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			if today, _ := cmd.Flags().GetBool("today"); today {
				date = time.Now().Format(domain.DateLayout)
			}

			task, err := tasks.Create(args[0], date)
			if err != nil {
				return err
			}
			if everyday, _ := cmd.Flags().GetBool("everyday"); everyday {
				if task, err = tasks.ToggleEveryday(task.ID); err != nil {
					return err
				}
			}

			fmt.Fprint(cmd.OutOrStdout(), renderTask(task, false))
			return nil
		}),
	}
	cmd.Flags().String("date", "", "assign to a day (YYYY-MM-DD)")
	cmd.Flags().Bool("today", false, "assign to today")
	cmd.Flags().Bool("everyday", false, "repeat every day")
	return cmd
}

func listCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: withTasks(a, func(cmd *cobra.Command, tasks *service.TaskService, args []string) error {
			name, _ := cmd.Flags().GetString("filter")
			filter, err := domain.ParseFilter(name)
			if err != nil {
				return err
			}
			if date, _ := cmd.Flags().GetString("date"); date != "" {
				filter.AssignedDate = &date
			}
			if cmd.Flags().Changed("everyday") {
				everyday, _ := cmd.Flags().GetBool("everyday")
				filter.Everyday = &everyday
			}

			list, err := tasks.List(filter)
			if err != nil {
				return err
			}

			view := service.NewViewState()
			view.Reconcile(list)
			expand, _ := cmd.Flags().GetBool("expand")

			fmt.Fprint(cmd.OutOrStdout(), renderTasks(list, func(id string) bool {
				return !expand && view.IsCollapsed(id)
			}))
			return nil
		}),
	}
	cmd.Flags().StringP("filter", "f", "all", "all, active or completed")
	cmd.Flags().String("date", "", "only tasks assigned to this day")
	cmd.Flags().Bool("everyday", false, "only everyday tasks (--everyday=false for one-off)")
	cmd.Flags().BoolP("expand", "e", false, "show sub-tasks")
	return cmd
}

func showCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [task-id]",
		Short: "Show a task and its sub-tasks",
		Args:  cobra.ExactArgs(1),
		RunE: withTasks(a, func(cmd *cobra.Command, tasks *service.TaskService, args []string) error {
			task, err := tasks.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTask(task, false))
			if task.LastAnalysis != nil {
				fmt.Fprint(cmd.OutOrStdout(), renderSteps(task.LastAnalysis.Steps))
			}
			return nil
		}),
	}
}

func toggleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [task-id]",
		Short: "Mark a task done or not done",
		Args:  cobra.ExactArgs(1),
		RunE: withTasks(a, func(cmd *cobra.Command, tasks *service.TaskService, args []string) error {
			task, err := tasks.Toggle(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTask(task, false))
			return nil
		}),
	}
}

func everydayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "everyday [task-id]",
		Short: "Toggle whether a task repeats every day",
		Args:  cobra.ExactArgs(1),
		RunE: withTasks(a, func(cmd *cobra.Command, tasks *service.TaskService, args []string) error {
			task, err := tasks.ToggleEveryday(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTask(task, false))
			return nil
		}),
	}
}

func deleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [task-id]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: withTasks(a, func(cmd *cobra.Command, tasks *service.TaskService, args []string) error {
			if err := tasks.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("deleted "+args[0]))
			return nil
		}),
	}
}

func clearCompletedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Delete every completed task",
		RunE: withTasks(a, func(cmd *cobra.Command, tasks *service.TaskService, args []string) error {
			removed, err := tasks.ClearCompleted()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render(fmt.Sprintf("removed %d completed task(s)", removed)))
			return nil
		}),
	}
}

func subtaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subtask",
		Short: "Work with sub-tasks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "toggle [task-id] [subtask-id]",
		Short: "Toggle a sub-task; completing the last one completes the task",
		Args:  cobra.ExactArgs(2),
		RunE: withTasks(a, func(cmd *cobra.Command, tasks *service.TaskService, args []string) error {
			task, err := tasks.ToggleSubItem(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTask(task, false))
			return nil
		}),
	})
	return cmd
}

func searchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find tasks by title, sub-task or analysis text",
		Args:  cobra.ExactArgs(1),
		RunE: withTasks(a, func(cmd *cobra.Command, tasks *service.TaskService, args []string) error {
			name, _ := cmd.Flags().GetString("filter")
			filter, err := domain.ParseFilter(name)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			results, err := tasks.Search(args[0], search.Options{Filter: filter, Limit: limit})
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("no matches"))
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
					checkbox(r.Task.Completed),
					r.Snippet,
					mutedStyle.Render(r.Task.ID))
			}
			return nil
		}),
	}
	cmd.Flags().StringP("filter", "f", "all", "all, active or completed")
	cmd.Flags().IntP("limit", "n", 10, "maximum results")
	return cmd
}
