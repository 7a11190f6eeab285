package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wolfman30/therapy-scheduling/internal/availability"
	"github.com/wolfman30/therapy-scheduling/internal/recurrence"
	"github.com/wolfman30/therapy-scheduling/internal/scheduler"
	"github.com/wolfman30/therapy-scheduling/internal/sessions"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

// snapshotFlags name the files a calculation runs against. Every file is
// optional: the default week, no sessions and no rules are used instead.
type snapshotFlags struct {
	schedule string
	sessions string
	rules    string
}

func (f *snapshotFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.schedule, "schedule", "", "weekly schedule JSON file")
	cmd.Flags().StringVar(&f.sessions, "sessions", "", "booked sessions JSON array file")
	cmd.Flags().StringVar(&f.rules, "rules", "", "scheduling rules JSON array file")
}

func (f *snapshotFlags) load(ctx context.Context, therapistID string, defaults availability.Defaults) (scheduler.Snapshot, error) {
	store := availability.NewMemoryStore(defaults)
	if f.schedule != "" {
		var week availability.WeeklySchedule
		if err := readJSON(f.schedule, &week); err != nil {
			return scheduler.Snapshot{}, err
		}
		if week.TherapistID == "" {
			week.TherapistID = therapistID
		}
		if week.TherapistID != therapistID {
			return scheduler.Snapshot{}, fmt.Errorf("schedule is for %q, not %q", week.TherapistID, therapistID)
		}
		if err := store.Set(ctx, &week); err != nil {
			return scheduler.Snapshot{}, err
		}
	}
	week, err := store.Get(ctx, therapistID)
	if err != nil {
		return scheduler.Snapshot{}, err
	}

	snap := scheduler.Snapshot{Week: *week}
	if f.sessions != "" {
		var all []sessions.BookedSession
		if err := readJSON(f.sessions, &all); err != nil {
			return scheduler.Snapshot{}, err
		}
		for _, s := range all {
			if s.TherapistID == "" || s.TherapistID == therapistID {
				if s.Status == "" {
					s.Status = sessions.StatusScheduled
				}
				snap.Sessions = append(snap.Sessions, s)
			}
		}
	}
	if f.rules != "" {
		if err := readJSON(f.rules, &snap.Rules); err != nil {
			return scheduler.Snapshot{}, err
		}
	}
	return snap, nil
}

func slotsCmd(a *app) *cobra.Command {
	var (
		files       snapshotFlags
		therapistID string
		date        string
		duration    int
		slots       []string
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List free slots, or check explicit slots, for a therapist's date",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := timeofday.ParseDate(date)
			if err != nil {
				return err
			}
			q := scheduler.AvailabilityQuery{TherapistID: therapistID, Date: d, DurationMinutes: duration}
			for _, s := range slots {
				t, err := timeofday.Parse(s)
				if err != nil {
					return err
				}
				q.TimeSlots = append(q.TimeSlots, t)
			}
			snap, err := files.load(cmd.Context(), therapistID, a.defaults)
			if err != nil {
				return err
			}
			out, err := a.engine.CheckAvailability(q, snap)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	files.register(cmd)
	cmd.Flags().StringVar(&therapistID, "therapist", "", "therapist id")
	cmd.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD")
	cmd.Flags().IntVar(&duration, "duration", 0, "session length in minutes")
	cmd.Flags().StringSliceVar(&slots, "slot", nil, "explicit HH:MM start times to check")
	_ = cmd.MarkFlagRequired("therapist")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func expandCmd(a *app) *cobra.Command {
	var (
		start   string
		pattern string
	)
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand a recurrence pattern into dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := timeofday.ParseDate(start)
			if err != nil {
				return err
			}
			var p recurrence.Pattern
			if err := readJSON(pattern, &p); err != nil {
				return err
			}
			exp := recurrence.Expander{MaxInstances: a.engine.Config().MaxRecurrenceInstances}
			out, err := exp.Expand(d, p)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "series start date as YYYY-MM-DD")
	cmd.Flags().StringVar(&pattern, "pattern", "", "recurrence pattern JSON file")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("pattern")
	return cmd
}

func conflictsCmd(a *app) *cobra.Command {
	var (
		files       snapshotFlags
		therapistID string
		date        string
	)
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Validate the sessions booked on a therapist's date",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := timeofday.ParseDate(date)
			if err != nil {
				return err
			}
			snap, err := files.load(cmd.Context(), therapistID, a.defaults)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"therapist_id": therapistID,
				"date":         d,
				"conflicts":    a.engine.DayConflicts(d, snap),
			})
		},
	}
	files.register(cmd)
	cmd.Flags().StringVar(&therapistID, "therapist", "", "therapist id")
	cmd.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("therapist")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func scheduleCmd(a *app) *cobra.Command {
	var (
		files   snapshotFlags
		request string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Dry-run a scheduling request without persisting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req scheduler.Request
			if err := readJSON(request, &req); err != nil {
				return err
			}
			plan, err := a.engine.Plan(req)
			if err != nil {
				return err
			}
			snap, err := files.load(cmd.Context(), req.TherapistID, a.defaults)
			if err != nil {
				return err
			}
			res := a.engine.Run(cmd.Context(), req, plan, snap, func(context.Context, *sessions.BookedSession) error {
				return nil
			})
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	files.register(cmd)
	cmd.Flags().StringVar(&request, "request", "", "scheduling request JSON file")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
