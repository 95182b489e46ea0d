package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pomotick/internal/app"
	"pomotick/internal/storage"
	"pomotick/internal/tasks"
	"pomotick/internal/timer"
)

func newTaskCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and drive tasks",
	}
	cmd.AddCommand(
		newTaskCreateCmd(f),
		newTaskListCmd(f),
		newTaskShowCmd(f),
		newTaskActionCmd(f, "start", "Start a TODO task", timer.EventStart),
		newTaskActionCmd(f, "pause", "Pause a running task", timer.EventPause),
		newTaskActionCmd(f, "resume", "Resume a paused task", timer.EventResume),
		newTaskActionCmd(f, "done", "Finish a task", timer.EventFinish),
		newTaskActionCmd(f, "cancel", "Cancel a task", timer.EventCancel),
		newTaskActionCmd(f, "restart", "Move a finished, cancelled or overdue task back to TODO", timer.EventRestart),
		newTaskExtendCmd(f),
	)
	return cmd
}

func newTaskCreateCmd(f *rootFlags) *cobra.Command {
	var (
		pomodoro, brk, exec int
		asJSON              bool
	)
	cmd := &cobra.Command{
		Use:   "create TITLE...",
		Short: "Create a TODO task",
		Example: `  pomotick task create "write report" --pomodoro 25 --break 5 --exec 120
  pomotick task create review --exec 30`,
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().IntVar(&pomodoro, "pomodoro", 0, "focus window in minutes (0 = continuous)")
	cmd.Flags().IntVar(&brk, "break", 0, "break length in minutes (0 = default)")
	cmd.Flags().IntVar(&exec, "exec", 0, "planned execution time in minutes (0 = no target)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the task as JSON")

	cmd.RunE = withRuntime(f, func(cmd *cobra.Command, rt *app.Runtime, args []string) error {
		in := tasks.NewTask{Title: strings.Join(args, " ")}
		if cmd.Flags().Changed("pomodoro") {
			in.PomodoroMinutes = timer.Ptr(pomodoro)
		}
		if cmd.Flags().Changed("break") {
			in.PomodoroBreakMinutes = timer.Ptr(brk)
		}
		if cmd.Flags().Changed("exec") {
			in.ExecutionTimeMinutes = timer.Ptr(exec)
		}
		s, err := rt.Tasks.Create(cmd.Context(), in)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), toJSON(s, time.Now()))
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.ID)
		return nil
	})
	return cmd
}

func newTaskListCmd(f *rootFlags) *cobra.Command {
	var (
		statuses string
		active   bool
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVarP(&statuses, "status", "s", "", "comma-separated statuses (e.g. TODO,IN_PROGRESS)")
	cmd.Flags().BoolVar(&active, "active", false, "only TODO, IN_PROGRESS and IN_PAUSE")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of tasks")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	cmd.RunE = withRuntime(f, func(cmd *cobra.Command, rt *app.Runtime, _ []string) error {
		filter := storage.ListFilter{Limit: limit}
		if active {
			filter.Statuses = timer.ActiveStatuses
		}
		for _, raw := range strings.Split(statuses, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			st, ok := timer.ParseStatus(raw)
			if !ok {
				return fmt.Errorf("%w: unknown status %q", tasks.ErrInvalidInput, raw)
			}
			filter.Statuses = append(filter.Statuses, st)
		}

		list, err := rt.Tasks.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		now := time.Now()
		if asJSON {
			out := make([]taskJSON, 0, len(list))
			for _, s := range list {
				out = append(out, toJSON(s, now))
			}
			return writeJSON(cmd.OutOrStdout(), out)
		}
		return renderTaskList(cmd.OutOrStdout(), list, now)
	})
	return cmd
}

func newTaskShowCmd(f *rootFlags) *cobra.Command {
	var (
		history int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one task and its recent status changes",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().IntVar(&history, "history", 10, "number of status changes to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	cmd.RunE = withRuntime(f, func(cmd *cobra.Command, rt *app.Runtime, args []string) error {
		id, err := resolveID(cmd.Context(), rt, args[0])
		if err != nil {
			return err
		}
		s, err := rt.Tasks.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		now := time.Now()
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), toJSON(s, now))
		}
		var hist []storage.TransitionRecord
		if history > 0 {
			if hist, err = rt.Tasks.Transitions(cmd.Context(), id, history); err != nil {
				return err
			}
		}
		return renderTask(cmd.OutOrStdout(), s, hist, now)
	})
	return cmd
}

func newTaskActionCmd(f *rootFlags, use, short string, ev timer.Event) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(f, func(cmd *cobra.Command, rt *app.Runtime, args []string) error {
			id, err := resolveID(cmd.Context(), rt, args[0])
			if err != nil {
				return err
			}
			s, err := rt.Tasks.Do(cmd.Context(), id, timer.Action{Event: ev})
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s worked)\n", shortID(s.ID), s.Status, fmtSeconds(s.MainElapsedSeconds))
			return nil
		}),
	}
}

func newTaskExtendCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "extend ID MINUTES",
		Short: "Add minutes to a task's target; an OVERDUE task moves to IN_PAUSE",
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(f, func(cmd *cobra.Command, rt *app.Runtime, args []string) error {
			minutes, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("%w: minutes must be a number", tasks.ErrInvalidInput)
			}
			id, err := resolveID(cmd.Context(), rt, args[0])
			if err != nil {
				return err
			}
			s, err := rt.Tasks.Extend(cmd.Context(), id, minutes)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (target +%dm)\n", shortID(s.ID), s.Status, s.ExtraTimeMinutes)
			return nil
		}),
	}
}

// resolveID accepts a full id or a unique prefix of one.
func resolveID(ctx context.Context, rt *app.Runtime, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if _, err := rt.Tasks.Get(ctx, arg); err == nil {
		return arg, nil
	} else if !errors.Is(err, tasks.ErrNotFound) {
		return "", err
	}
	all, err := rt.Tasks.List(ctx, storage.ListFilter{})
	if err != nil {
		return "", err
	}
	var match []string
	for _, s := range all {
		if strings.HasPrefix(s.ID, arg) {
			match = append(match, s.ID)
		}
	}
	switch len(match) {
	case 0:
		return "", fmt.Errorf("task %s: %w", arg, tasks.ErrNotFound)
	case 1:
		return match[0], nil
	default:
		return "", fmt.Errorf("%w: id prefix %q matches %d tasks", tasks.ErrInvalidInput, arg, len(match))
	}
}

// explain adds the allowed actions to a rejected transition.
func explain(err error) error {
	var te interface{ Allowed() []timer.Event }
	if errors.As(err, &te) {
		names := make([]string, 0, len(te.Allowed()))
		for _, ev := range te.Allowed() {
			names = append(names, string(ev))
		}
		return fmt.Errorf("%w (allowed: %s)", err, strings.Join(names, ", "))
	}
	return err
}
