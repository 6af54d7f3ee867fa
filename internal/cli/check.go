package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gvmtools/checkgvm/internal/fingerprint"
	"github.com/gvmtools/checkgvm/internal/gmp"
	"github.com/gvmtools/checkgvm/internal/instance"
	"github.com/gvmtools/checkgvm/internal/nagios"
	"github.com/gvmtools/checkgvm/internal/report"
)

// newConnCommand builds one of the tls/ssh/socket subcommands. The three
// share the whole check flag surface and differ only in how the manager is
// addressed.
func newConnCommand(use string, connType gmp.ConnType, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, connType)
		},
	}

	switch connType {
	case gmp.ConnTLS:
		cmd.Flags().StringP("hostname", "H", "", "Hostname or IP address of the manager")
		cmd.Flags().Int("port", 9390, "Manager port")
		_ = cmd.MarkFlagRequired("hostname")
	case gmp.ConnSSH:
		cmd.Flags().StringP("hostname", "H", "", "Hostname or IP address of the manager")
		cmd.Flags().Int("port", 22, "Manager port")
		cmd.Flags().String("ssh-user", "gmp", "SSH username")
		_ = cmd.MarkFlagRequired("hostname")
	case gmp.ConnSocket:
		cmd.Flags().String("sockpath", "/run/gvmd/gvmd.sock", "Unix socket path of the manager")
	}

	addCheckFlags(cmd)
	cmd.MarkFlagsMutuallyExclusive("ping", "status")
	cmd.MarkFlagsMutuallyExclusive("trend", "last-report")

	return cmd
}

func addCheckFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("gmp-username", "u", "", "GMP username")
	cmd.Flags().StringP("gmp-password", "w", "", "GMP password")
	cmd.Flags().StringP("hostaddress", "F", "", "Report last report status of host <ip>")
	cmd.Flags().StringP("task", "T", "", "Report status of task <task>")

	cmd.Flags().Bool("ping", false, "Ping the scan manager")
	cmd.Flags().Bool("status", false, "Report status of task or host")
	cmd.Flags().Bool("trend", false, "Report status by trend")
	cmd.Flags().Bool("last-report", false, "Report status by last report")

	cmd.Flags().Bool("overrides", false, "Include overrides")
	cmd.Flags().Bool("apply-overrides", false, "Apply overrides")
	cmd.Flags().Int("autofp", 0,
		"Trust vendor security updates for automatic false positive filtering (0=no, 1=full match, 2=partial)")

	cmd.Flags().BoolP("details", "d", false, "Include connection details in output")
	cmd.Flags().BoolP("report-link", "l", false, "Include URL of report in output")
	cmd.Flags().Bool("dfn", false, "Include DFN-CERT IDs on vulnerabilities in output")
	cmd.Flags().Bool("oid", false, "Include OIDs of NVTs finding vulnerabilities in output")
	cmd.Flags().Bool("descr", false, "Include descriptions of NVTs finding vulnerabilities in output")
	cmd.Flags().Bool("showlog", false, "Include log messages in output")
	cmd.Flags().Bool("show-ports", false, "Include ports of vulnerable NVTs in output")
	cmd.Flags().Bool("scanend", false, "Include timestamp of scan end in output")
	cmd.Flags().BoolP("empty-as-unknown", "e", false, "Respond with UNKNOWN on empty results")
	cmd.Flags().BoolP("use-asset-management", "A", false, "Request host status via asset management")
	cmd.Flags().String("format", "text", "Output format (text, json)")
}

// checkOptions is the full flag surface of one check invocation.
type checkOptions struct {
	ConnType gmp.ConnType
	Hostname string
	Port     int
	SSHUser  string
	SockPath string
	Timeout  time.Duration

	MaxInstances int
	CachePath    string

	Username string
	Password string

	HostAddress string
	Task        string

	Ping       bool
	Status     bool
	Trend      bool
	LastReport bool

	Overrides      bool
	ApplyOverrides bool
	AutoFP         int

	Details        bool
	ReportLink     bool
	DFN            bool
	OID            bool
	Descr          bool
	ShowLog        bool
	ShowPorts      bool
	ScanEnd        bool
	EmptyAsUnknown bool

	UseAssetManagement bool
	Format             string
}

func readCheckOptions(cmd *cobra.Command, connType gmp.ConnType) (*checkOptions, error) {
	o := &checkOptions{ConnType: connType}

	o.Hostname, _ = cmd.Flags().GetString("hostname")
	if cmd.Flags().Lookup("port") != nil {
		o.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Lookup("ssh-user") != nil {
		o.SSHUser, _ = cmd.Flags().GetString("ssh-user")
	}
	if cmd.Flags().Lookup("sockpath") != nil {
		o.SockPath, _ = cmd.Flags().GetString("sockpath")
	}

	o.Timeout, _ = cmd.Flags().GetDuration("timeout")
	o.MaxInstances, _ = cmd.Flags().GetInt("max-running-instances")
	o.CachePath, _ = cmd.Flags().GetString("cache")

	o.Username, _ = cmd.Flags().GetString("gmp-username")
	o.Password, _ = cmd.Flags().GetString("gmp-password")
	o.HostAddress, _ = cmd.Flags().GetString("hostaddress")
	o.Task, _ = cmd.Flags().GetString("task")

	o.Ping, _ = cmd.Flags().GetBool("ping")
	o.Status, _ = cmd.Flags().GetBool("status")
	o.Trend, _ = cmd.Flags().GetBool("trend")
	o.LastReport, _ = cmd.Flags().GetBool("last-report")

	o.Overrides, _ = cmd.Flags().GetBool("overrides")
	o.ApplyOverrides, _ = cmd.Flags().GetBool("apply-overrides")
	o.AutoFP, _ = cmd.Flags().GetInt("autofp")
	if o.AutoFP < fingerprint.AutoFPOff || o.AutoFP > fingerprint.AutoFPPartial {
		return nil, fmt.Errorf("invalid --autofp value %d (must be 0, 1 or 2)", o.AutoFP)
	}

	o.Details, _ = cmd.Flags().GetBool("details")
	o.ReportLink, _ = cmd.Flags().GetBool("report-link")
	o.DFN, _ = cmd.Flags().GetBool("dfn")
	o.OID, _ = cmd.Flags().GetBool("oid")
	o.Descr, _ = cmd.Flags().GetBool("descr")
	o.ShowLog, _ = cmd.Flags().GetBool("showlog")
	o.ShowPorts, _ = cmd.Flags().GetBool("show-ports")
	o.ScanEnd, _ = cmd.Flags().GetBool("scanend")
	o.EmptyAsUnknown, _ = cmd.Flags().GetBool("empty-as-unknown")
	o.UseAssetManagement, _ = cmd.Flags().GetBool("use-asset-management")

	o.Format, _ = cmd.Flags().GetString("format")
	if o.Format != "text" && o.Format != "json" {
		return nil, fmt.Errorf("unknown output format %q", o.Format)
	}

	if !o.Ping && !o.Status {
		return nil, fmt.Errorf("one of --ping or --status is required")
	}
	if o.Status && o.Task == "" && !o.UseAssetManagement {
		return nil, fmt.Errorf("--status requires --task or --use-asset-management")
	}
	if o.UseAssetManagement && o.HostAddress == "" {
		return nil, fmt.Errorf("--use-asset-management requires --hostaddress")
	}

	return o, nil
}

// fingerprintParams returns the canonical parameter fingerprint of this
// invocation, the key the report cache compares on.
func (o *checkOptions) fingerprintParams() fingerprint.Params {
	return fingerprint.Params{
		Task:           o.Task,
		AutoFP:         o.AutoFP,
		Overrides:      o.Overrides,
		ApplyOverrides: o.ApplyOverrides,
	}
}

// runCheck is the session lifecycle of one invocation: admission first, the
// manager connection strictly after (a suspended process must not hold an
// idle connection), teardown on every exit path.
func runCheck(cmd *cobra.Command, connType gmp.ConnType) error {
	opts, err := readCheckOptions(cmd, connType)
	if err != nil {
		return err
	}

	logger, closer, err := newLogger(cmd)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	store, err := instance.Open(opts.CachePath)
	if err != nil {
		return nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: %v", err)
	}

	mgr := instance.NewManager(store, instance.OSProcesses{}, instance.Config{
		Limit:  opts.MaxInstances,
		Logger: logger,
	})
	if err := mgr.Register(ctx); err != nil {
		store.Close()
		return nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: %v", err)
	}
	defer func() {
		if err := mgr.EndSession(ctx); err != nil {
			logger.Error("session teardown", "error", err)
		}
	}()

	conn, err := gmp.Connect(gmp.Options{
		Type:     connType,
		Host:     opts.Hostname,
		Port:     opts.Port,
		SockPath: opts.SockPath,
		SSHUser:  opts.SSHUser,
		Timeout:  opts.Timeout,
		Logger:   logger,
	})
	if err != nil {
		return nagios.Exitf(nagios.StatusCritical, "GVM CRITICAL: %v", err)
	}
	defer conn.Close()

	if opts.Ping {
		if _, err := conn.GetVersion(ctx); err != nil {
			logger.Debug("ping failed", "error", err)
			return nagios.Exitf(nagios.StatusCritical, "GVM CRITICAL: Machine dead?")
		}
		return nagios.Exitf(nagios.StatusOK, "GVM OK: Ping successful")
	}

	version, err := conn.GetVersion(ctx)
	if err != nil {
		return nagios.Exitf(nagios.StatusCritical, "GVM CRITICAL: %v", err)
	}
	logger.Debug("connected", "gmp_version", version.Version)

	if err := conn.Authenticate(ctx, opts.Username, opts.Password); err != nil {
		return nagios.Exitf(nagios.StatusCritical, "GVM CRITICAL: %v", err)
	}

	if opts.UseAssetManagement {
		return runAssetCheck(ctx, cmd, conn, store, opts, logger)
	}
	return runTaskCheck(ctx, cmd, conn, store, opts, logger)
}

// runTaskCheck reports the status of a task, either by its trend or by
// evaluating its last report through the cache.
func runTaskCheck(ctx context.Context, cmd *cobra.Command, conn gmp.Client, store instance.Store, opts *checkOptions, logger *slog.Logger) error {
	tasks, err := conn.GetTasks(ctx, gmp.TaskFilter{Name: opts.Task})
	if err != nil {
		return nagios.Exitf(nagios.StatusCritical, "GVM CRITICAL: %v", err)
	}
	if len(tasks.Tasks) == 0 {
		return nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: Task %q is not available", opts.Task)
	}
	task := tasks.Tasks[0]

	if opts.Trend {
		switch task.Trend {
		case "":
			return nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: Trend is not available.")
		case "up", "more":
			return nagios.Exitf(nagios.StatusCritical, "GVM CRITICAL: Trend is %s.", task.Trend)
		case "down", "same", "less":
			return nagios.Exitf(nagios.StatusOK, "GVM OK: Trend is %s.", task.Trend)
		default:
			return nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: Trend is unknown: %s", task.Trend)
		}
	}

	if task.LastReport == nil || task.LastReport.Report.ID == "" {
		return nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: Report is not available")
	}
	reportID := task.LastReport.Report.ID
	scanEnd := task.LastReport.Report.ScanEnd

	doc, err := cachedReport(ctx, conn, store, opts, logger, reportID, scanEnd, gmp.ReportFilter{
		Levels:         gmp.LevelsDefault,
		AutoFP:         opts.AutoFP,
		Overrides:      opts.Overrides,
		ApplyOverrides: opts.ApplyOverrides,
		Host:           opts.HostAddress,
	})
	if err != nil {
		return err
	}

	return renderReport(ctx, cmd, doc, opts)
}

// runAssetCheck reports the status of a host via the manager's asset
// management: the per-host details carry the last report id and its
// severity counts, which lets a clean host short-circuit without fetching
// (or caching) the full report.
func runAssetCheck(ctx context.Context, cmd *cobra.Command, conn gmp.Client, store instance.Store, opts *checkOptions, logger *slog.Logger) error {
	resp, _, err := conn.GetReports(ctx, gmp.ReportsRequest{
		Type: "assets",
		Host: opts.HostAddress,
		Filter: gmp.ReportFilter{
			Levels:         gmp.LevelsDefault,
			AutoFP:         opts.AutoFP,
			Overrides:      opts.Overrides,
			ApplyOverrides: opts.ApplyOverrides,
		},
	})
	if err != nil {
		return nagios.Exitf(nagios.StatusCritical, "GVM CRITICAL: %v", err)
	}

	doc := resp.Document()
	if doc == nil {
		return nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: Failed to get report_id via Asset Management")
	}
	reportID, ok := doc.HostDetail("report/@id")
	if !ok {
		return nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: Failed to get report_id via Asset Management")
	}
	scanEnd := doc.HostScanEnd()

	high := hostDetailInt(doc, "report/result_count/high")
	medium := hostDetailInt(doc, "report/result_count/medium")
	low := hostDetailInt(doc, "report/result_count/low")

	if high+medium == 0 {
		eval := &report.Evaluation{
			Status:       nagios.StatusOK,
			Low:          low,
			TotalResults: low,
			ReportID:     reportID,
			ScanEnd:      scanEnd,
		}
		return renderEvaluation(ctx, cmd, eval, opts)
	}

	levels := gmp.LevelsNoLog
	if opts.ShowLog {
		levels = gmp.LevelsDefault
	}
	fullDoc, err := cachedReport(ctx, conn, store, opts, logger, reportID, scanEnd, gmp.ReportFilter{
		Levels:         levels,
		AutoFP:         opts.AutoFP,
		Overrides:      opts.Overrides,
		ApplyOverrides: opts.ApplyOverrides,
		Host:           opts.HostAddress,
	})
	if err != nil {
		return err
	}

	return renderReport(ctx, cmd, fullDoc, opts)
}

// cachedReport returns the report document for reportID, from the cache
// when the stored copy is still current, otherwise fetched from the
// manager and stored.
func cachedReport(ctx context.Context, conn gmp.Client, store instance.Store, opts *checkOptions, logger *slog.Logger, reportID, scanEnd string, filter gmp.ReportFilter) (*gmp.Report, error) {
	params := opts.fingerprintParams().String()

	stale, err := store.IsStale(ctx, opts.HostAddress, scanEnd, params)
	if err != nil {
		return nil, nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: %v", err)
	}

	var resp *gmp.ReportsResponse
	if stale {
		var raw []byte
		resp, raw, err = conn.GetReports(ctx, gmp.ReportsRequest{ReportID: reportID, Filter: filter})
		if err != nil {
			return nil, nagios.Exitf(nagios.StatusCritical, "GVM CRITICAL: %v", err)
		}
		if err := store.StoreReport(ctx, opts.HostAddress, scanEnd, params, raw); err != nil {
			return nil, nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: %v", err)
		}
		logger.Debug("report added to cache", "host", opts.HostAddress, "report_id", reportID)
	} else {
		payload, err := store.LoadReport(ctx, opts.HostAddress)
		if err != nil {
			return nil, nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: %v", err)
		}
		resp, err = gmp.ParseReportsPayload(payload)
		if err != nil {
			return nil, nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: %v", err)
		}
		logger.Debug("report loaded from cache", "host", opts.HostAddress)
	}

	doc := resp.Document()
	if doc == nil {
		return nil, nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: Failed to get results list.")
	}
	return doc, nil
}

// renderReport evaluates a report document and writes the plugin output.
func renderReport(ctx context.Context, cmd *cobra.Command, doc *gmp.Report, opts *checkOptions) error {
	eval, err := report.Evaluate(doc, report.Options{
		Host:           opts.HostAddress,
		CollectNVTs:    opts.OID,
		EmptyAsUnknown: opts.EmptyAsUnknown,
	})
	if err != nil {
		return nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: %v", err)
	}
	return renderEvaluation(ctx, cmd, eval, opts)
}

func renderEvaluation(ctx context.Context, cmd *cobra.Command, eval *report.Evaluation, opts *checkOptions) error {
	reporter := newReporter(opts)
	if err := reporter.Generate(ctx, eval, cmd.OutOrStdout()); err != nil {
		return nagios.Exitf(nagios.StatusUnknown, "GVM UNKNOWN: %v", err)
	}
	return &nagios.ExitError{Status: eval.Status}
}

// newReporter builds the output formatter for this invocation.
func newReporter(opts *checkOptions) report.Reporter {
	if opts.Format == "json" {
		return &report.JSONReporter{}
	}

	r := &report.TextReporter{
		ShowScanEnd:      opts.ScanEnd,
		ShowPorts:        opts.ShowPorts,
		ShowDescriptions: opts.Descr,
		ShowDFN:          opts.DFN,
		ShowLog:          opts.ShowLog,
	}
	if opts.ReportLink && opts.Hostname != "" {
		r.ReportLinkHost = opts.Hostname
	}
	if opts.Details {
		if opts.Hostname != "" {
			r.Details = append(r.Details, fmt.Sprintf("GSM_Host: %s:%d", opts.Hostname, opts.Port))
		}
		if opts.Username != "" {
			r.Details = append(r.Details, "GMP_User: "+opts.Username)
		}
		if opts.Task != "" {
			r.Details = append(r.Details, "Task: "+opts.Task)
		}
	}
	return r
}

func hostDetailInt(doc *gmp.Report, name string) int {
	value, ok := doc.HostDetail(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}
