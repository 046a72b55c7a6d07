package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/assetforge/internal/scheduler"
)

var titleCase = cases.Title(language.English)

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeYAML(w io.Writer, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(v)
}

// printReport writes one row per task and a summary line.
func printReport(w io.Writer, report *scheduler.Report) error {
	if report == nil {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tTIME\tCHANGED")
	for _, res := range report.Results {
		elapsed := "-"
		if res.Status == scheduler.StatusSucceeded || res.Status == scheduler.StatusFailed {
			elapsed = res.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", res.Task, titleCase.String(res.Status.String()), elapsed, len(res.Changed))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	summary := fmt.Sprintf("\n%d succeeded, %d up to date", report.Count(scheduler.StatusSucceeded), report.Count(scheduler.StatusUpToDate))
	if n := report.Count(scheduler.StatusFailed); n > 0 {
		summary += fmt.Sprintf(", %d failed", n)
	}
	if n := report.Count(scheduler.StatusNotRun); n > 0 {
		summary += fmt.Sprintf(", %d not run", n)
	}
	summary += " in " + report.Duration.Round(time.Millisecond).String()
	if _, err := fmt.Fprintln(w, summary); err != nil {
		return err
	}

	for _, res := range report.Failed() {
		if _, err := fmt.Fprintf(w, "\n%s: %s\n", res.Task, indent(res.Error())); err != nil {
			return err
		}
	}

	return nil
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}
