package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/org/certrenew/internal/impact"
	"github.com/org/certrenew/pkg/models"
)

var outputFormat string // "table", "json"

// printJSON writes v as indented JSON.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}

// printImpact renders an impact preview result.
func printImpact(result *models.ImpactPreviewResult, ageLabel string) {
	if outputFormat == "json" {
		printJSON(result)
		return
	}

	fmt.Printf("Source: %s", result.Source)
	if result.Source == models.SourceCache {
		fmt.Printf(" (%s)", ageLabel)
	}
	fmt.Println()

	if len(result.Profiles) == 0 {
		fmt.Println("No profiles use this certificate.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tCONTEXT\tVIPS\tORPHAN")
	for _, p := range result.Profiles {
		vips := ""
		for i, v := range p.Vips {
			if i > 0 {
				vips += ", "
			}
			vips += fmt.Sprintf("%s (%s)", v.Name, v.EnabledHint)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", p.FullPath(), p.Context, vips, impact.IsOrphan(p.Vips))
	}
	w.Flush()

	if impact.CertificateOrphaned(result.Profiles) {
		fmt.Println("\nThis certificate appears to be orphaned: no enabled consumer found.")
	}
}

// printCSRList renders signing requests as a table.
func printCSRList(reqs []models.CSRRequest) {
	if outputFormat == "json" {
		printJSON(reqs)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMON NAME\tKEY\tSTATUS\tCREATED")
	for _, r := range reqs {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
			r.ID, r.CommonName, r.KeySize, r.Status, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

// printRun renders a batch deploy run.
func printRun(run *models.BatchDeployRun) {
	if outputFormat == "json" {
		printJSON(run)
		return
	}
	fmt.Printf("Batch %s: %s (%d/%d done, %d failed)\n",
		run.BatchID, run.Status, run.Completed, run.TotalDevices, run.Failed)
	for _, res := range run.Results {
		line := fmt.Sprintf("  device %d: %s", res.DeviceID, res.Status)
		if res.Message != "" {
			line += " " + res.Message
		}
		fmt.Println(line)
	}
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}
