package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/threadmark/internal/backup"
	"github.com/kalambet/threadmark/internal/config"
	"github.com/kalambet/threadmark/internal/diagnostics"
	"github.com/kalambet/threadmark/internal/domain"
)

func threadPath(id string) string {
	return "/threads/" + url.PathEscape(id)
}

func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	tags := strings.Split(s, ",")
	out := tags[:0]
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// openOutput returns stdout for an empty path or "-".
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}

// --- threads ---

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List, show or delete stored threads",
}

func fetchThreads(ctx context.Context, c *apiClient, annotated string, limit int) ([]domain.Thread, error) {
	q := url.Values{}
	if annotated != "" {
		q.Set("annotated", annotated)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/threads"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var threads []domain.Thread
	if err := decodeJSON(resp, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

func writeThreadList(w io.Writer, threads []domain.Thread) {
	for _, t := range threads {
		title := t.Title
		if title == "" {
			title = colorize(colorDim, "(untitled)")
		} else if len(title) > 70 {
			title = title[:70] + "..."
		}
		marker := "  "
		if t.IsAnnotated {
			marker = colorize(colorGreen, "● ")
		}
		fmt.Fprintf(w, "%s%s  %3d msgs  %2d notes  %s\n",
			marker,
			colorize(colorCyan, t.ID),
			len(t.Messages),
			len(t.Annotations),
			title,
		)
	}
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		annotated, _ := cmd.Flags().GetString("annotated")
		limit, _ := cmd.Flags().GetInt("limit")
		if annotated != "" {
			if _, err := strconv.ParseBool(annotated); err != nil {
				return fmt.Errorf("--annotated must be true or false")
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		threads, err := fetchThreads(cmd.Context(), client, annotated, limit)
		if err != nil {
			return err
		}
		if len(threads) == 0 {
			fmt.Println("No threads found.")
			return nil
		}
		writeThreadList(os.Stdout, threads)
		return nil
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a thread as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), threadPath(args[0]))
		if err != nil {
			return err
		}
		var t domain.Thread
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		return printJSON(os.Stdout, t)
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), threadPath(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted thread %s", args[0])
		return nil
	},
}

func init() {
	threadsListCmd.Flags().String("annotated", "", "only annotated (true) or unannotated (false) threads")
	threadsListCmd.Flags().Int("limit", 0, "maximum number of threads to list (0 = all)")
	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsShowCmd)
	threadsCmd.AddCommand(threadsDeleteCmd)
}

// --- annotate ---

func annotateThread(ctx context.Context, c *apiClient, id string, in domain.AnnotationInput) (domain.Thread, error) {
	resp, err := c.post(ctx, threadPath(id)+"/annotations", in)
	if err != nil {
		return domain.Thread{}, err
	}
	var t domain.Thread
	if err := decodeJSON(resp, &t); err != nil {
		return domain.Thread{}, err
	}
	return t, nil
}

var annotateCmd = &cobra.Command{
	Use:   "annotate <thread-id>",
	Short: "Rate a thread good or bad",
	Long: `Append an annotation to a thread.

Examples:
  threadmark annotate 3f2a --rating good --notes "clear refund answer"
  threadmark annotate 3f2a --rating bad --tags tone,accuracy`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rating, _ := cmd.Flags().GetString("rating")
		notes, _ := cmd.Flags().GetString("notes")
		tags, _ := cmd.Flags().GetString("tags")

		in := domain.AnnotationInput{Rating: domain.Rating(rating), Notes: notes, Tags: parseTags(tags)}
		if err := in.Validate(); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		t, err := annotateThread(cmd.Context(), client, args[0], in)
		if err != nil {
			return err
		}
		printSuccess("Thread %s rated %s (%d annotations)", t.ID, rating, len(t.Annotations))
		return nil
	},
}

var unannotateCmd = &cobra.Command{
	Use:   "unannotate <thread-id> <index>",
	Short: "Remove an annotation by its zero-based index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[1])
		if err != nil || index < 0 {
			return fmt.Errorf("index must be a non-negative integer, got %q", args[1])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), fmt.Sprintf("%s/annotations/%d", threadPath(args[0]), index))
		if err != nil {
			return err
		}
		var t domain.Thread
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		printSuccess("Thread %s now has %d annotations", t.ID, len(t.Annotations))
		return nil
	},
}

func init() {
	annotateCmd.Flags().String("rating", "", "good or bad")
	annotateCmd.Flags().String("notes", "", "free-text notes")
	annotateCmd.Flags().String("tags", "", "comma-separated tags")
	annotateCmd.MarkFlagRequired("rating")
}

// --- import / export ---

func importFile(ctx context.Context, c *apiClient, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	resp, err := c.postRaw(ctx, "/import", bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	var result map[string]int
	if err := decodeJSON(resp, &result); err != nil {
		return 0, err
	}
	return result["imported"], nil
}

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import threads from a JSON file",
	Long: `Import threads from a JSON file holding an array of threads or an
object with a "threads" array. Every imported thread gets a fresh id.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := importFile(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printSuccess("Imported %d threads", n)
		return nil
	},
}

func exportPath(format string) (string, error) {
	switch format {
	case "csv":
		return "/export/annotations.csv", nil
	case "xlsx":
		return "/export/annotations.xlsx", nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv or xlsx)", format)
	}
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export annotations as CSV or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		path, err := exportPath(format)
		if err != nil {
			return err
		}
		if format == "xlsx" && (output == "" || output == "-") {
			return fmt.Errorf("--output is required for xlsx")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		w, closeOut, err := openOutput(output)
		if err != nil {
			return err
		}
		defer closeOut()

		n, err := client.download(cmd.Context(), path, w)
		if err != nil {
			return err
		}
		if output != "" && output != "-" {
			printSuccess("Wrote %d bytes to %s", n, output)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "csv", "csv or xlsx")
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
}

// --- backup ---

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create or restore a full backup",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Write threads and settings to a backup file",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		w, closeOut, err := openOutput(output)
		if err != nil {
			return err
		}
		defer closeOut()

		if _, err := client.download(cmd.Context(), "/backup", w); err != nil {
			return err
		}
		if output != "" && output != "-" {
			printSuccess("Backup written to %s", output)
		}
		return nil
	},
}

func restoreBackup(ctx context.Context, c *apiClient, path string, mode backup.Mode) (backup.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return backup.Result{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	resp, err := c.postRaw(ctx, "/backup?mode="+url.QueryEscape(string(mode)), f)
	if err != nil {
		return backup.Result{}, err
	}
	var res backup.Result
	if err := decodeJSON(resp, &res); err != nil {
		return backup.Result{}, err
	}
	return res, nil
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <file.json>",
	Short: "Restore a backup file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode, err := backup.ParseMode(modeFlag)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := restoreBackup(cmd.Context(), client, args[0], mode)
		if err != nil {
			return err
		}
		printSuccess("Restored %d threads (%s)", res.Threads, res.Mode)
		if res.Settings {
			printStatus("Settings", "restored")
		}
		return nil
	},
}

func init() {
	backupCreateCmd.Flags().String("output", "", "output file path (default: stdout)")
	backupRestoreCmd.Flags().String("mode", string(backup.ModeMerge), "merge or replace")
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
}

// --- diagnose ---

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check, dump, repair or maintain local storage",
}

func writeReport(w io.Writer, r diagnostics.Report) {
	for _, s := range r.Steps {
		mark := colorize(colorGreen, "✓")
		if !s.Passed {
			mark = colorize(colorRed, "✗")
		}
		fmt.Fprintf(w, "%s %-24s %s\n", mark, s.Name, s.Detail)
	}
}

var diagnoseRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the storage self-test",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/diagnostics")
		if err != nil {
			return err
		}
		var r diagnostics.Report
		if err := decodeJSON(resp, &r); err != nil {
			return err
		}

		writeReport(os.Stdout, r)
		if !r.OK {
			return fmt.Errorf("%s", r.Summary)
		}
		printSuccess("%s", r.Summary)
		return nil
	},
}

var diagnoseDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write every stored record, valid or not, as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		w, closeOut, err := openOutput(output)
		if err != nil {
			return err
		}
		defer closeOut()

		_, err = client.download(cmd.Context(), "/diagnostics/dump", w)
		return err
	},
}

var diagnoseRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Drop invalid records and rebuild local storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This rebuilds local storage and drops invalid records. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Repairing local storage...")
		resp, err := client.post(cmd.Context(), "/maintenance/repair", nil)
		if err != nil {
			return err
		}
		var rep diagnostics.RepairReport
		if err := decodeJSON(resp, &rep); err != nil {
			return err
		}
		printSuccess("%s", rep.Detail)
		if rep.FallbackUsed {
			printWarning("Records were written to the flat-file store")
		}
		return nil
	},
}

var diagnoseMaintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Remove invalid records now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/maintenance/run", nil)
		if err != nil {
			return err
		}
		var rep diagnostics.MaintenanceReport
		if err := decodeJSON(resp, &rep); err != nil {
			return err
		}
		removed := 0
		for _, n := range rep.Removed {
			removed += n
		}
		printSuccess("Removed %d invalid records", removed)
		return nil
	},
}

func init() {
	diagnoseDumpCmd.Flags().String("output", "", "output file path (default: stdout)")
	diagnoseRepairCmd.Flags().Bool("confirm", false, "confirm the repair")
	diagnoseCmd.AddCommand(diagnoseRunCmd)
	diagnoseCmd.AddCommand(diagnoseDumpCmd)
	diagnoseCmd.AddCommand(diagnoseRepairCmd)
	diagnoseCmd.AddCommand(diagnoseMaintainCmd)
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy every local thread to the shared hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Syncing local threads to the hub...")
		resp, err := client.post(cmd.Context(), "/sync", nil)
		if err != nil {
			return err
		}
		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Synced %d threads", result["synced"])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("  %s %s\n", colorize(colorDim, "file:"), config.ConfigFilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
