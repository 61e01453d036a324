package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/metrics"
)

func printStatuses(out io.Writer, statuses []campaign.Status) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tSTATE\tPROGRESS\tBATCHES\tRATE\tSPEED/MIN\tDELAY")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%.1f%%\t%.2f\t%.2fs\n",
			s.ID, s.Target, s.State, s.Successes, s.TargetCount, s.Batches,
			s.SuccessRate, s.Speed, s.DelaySeconds)
	}
	return tw.Flush()
}

func printFinalReports(out io.Writer, controllers []*campaign.Controller) {
	for _, ctl := range controllers {
		st := ctl.Status()
		r := ctl.Tracker().FinalReport()

		fmt.Fprintf(out, "\n=== %s (%s) ===\n", st.Target, st.ID)
		fmt.Fprintf(out, "state:            %s\n", st.State)
		if st.Error != "" {
			fmt.Fprintf(out, "error:            %s\n", st.Error)
		}
		fmt.Fprintf(out, "successes:        %d/%d\n", r.Successes, st.TargetCount)
		fmt.Fprintf(out, "failures:         %d\n", r.Failures)
		fmt.Fprintf(out, "success rate:     %.2f%%\n", r.SuccessRate)
		fmt.Fprintf(out, "batches:          %d\n", st.Batches)
		fmt.Fprintf(out, "runtime:          %s\n", r.Runtime.Round(time.Second))
		fmt.Fprintf(out, "successes/hour:   %.1f\n", r.SuccessPerHour)
	}
}

func printSnapshot(out io.Writer, s metrics.Snapshot) {
	fmt.Fprintf(out, "successes:     %d\n", s.Successes)
	fmt.Fprintf(out, "failures:      %d\n", s.Failures)
	fmt.Fprintf(out, "success rate:  %.2f%%\n", s.SuccessRate)
	fmt.Fprintf(out, "runtime:       %s\n", (time.Duration(s.RuntimeSeconds * float64(time.Second))).Round(time.Second))

	hours := make([]string, 0, len(s.HourlyStats))
	for h := range s.HourlyStats {
		hours = append(hours, h)
	}
	sort.Strings(hours)

	if len(hours) > 0 {
		fmt.Fprintln(out, "hourly:")
	}
	for _, h := range hours {
		fmt.Fprintf(out, "  %s  %d\n", h, s.HourlyStats[h])
	}
}
