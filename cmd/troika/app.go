package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"troika/pkg/config"
	"troika/pkg/controller"
	"troika/pkg/observability"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logfile := opts.Logfile
	if logfile == "" {
		switch opts.Action {
		case "submit", "monitor", "kill":
			logfile = observability.LogfilePath(opts.Action, opts.Script)
		}
	}
	logger, err := observability.Setup(observability.Options{
		Verbosity: opts.Verbose - opts.Quiet,
		Logfile:   logfile,
		Append:    opts.AppendLog,
		Rotation:  cfg.Log.Rotation,
	})
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if opts.Action == "list-sites" {
		infos, err := controller.ListSites(cfg)
		if err != nil {
			logError(err)
			return 1
		}
		fmt.Println("Available sites:")
		fmt.Printf("%-28s %-15s %-15s\n", "Name", "Type", "Connection")
		fmt.Println(strings.Repeat("-", 60))
		for _, info := range infos {
			fmt.Printf("%-28s %-15s %-15s\n", info.Name, info.Type, info.Connection)
		}
		return 0
	}

	ctx := context.Background()
	ctl, err := controller.New(cfg, opts.Site, opts.User, opts.DryRun, logfile)
	if err != nil {
		logError(err)
		return 1
	}

	switch opts.Action {
	case "submit":
		jid, err := ctl.Submit(ctx, opts.Script, opts.Output, opts.User, opts.Defines)
		if err != nil {
			logError(err)
			return 1
		}
		if jid != "" {
			zap.L().Info("job submitted", zap.String("jobid", jid))
		}
	case "monitor":
		if err := ctl.Monitor(ctx, opts.Script, opts.Output, opts.User, opts.JobID); err != nil {
			logError(err)
			return 1
		}
	case "kill":
		jid, status, err := ctl.Kill(ctx, opts.Script, opts.Output, opts.User, opts.JobID)
		if err != nil {
			logError(err)
			return 1
		}
		zap.L().Info("job killed", zap.String("jobid", jid), zap.String("status", string(status)))
	case "check-connection":
		timeout := time.Duration(opts.Timeout) * time.Second
		if err := ctl.CheckConnection(ctx, timeout); err != nil {
			fmt.Fprintln(os.Stderr, "Connection failed")
			logError(err)
			return 1
		}
		fmt.Println("OK")
	}
	return 0
}

func logError(err error) {
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		zap.L().Error("configuration error", zap.Error(err))
		return
	}
	zap.L().Error(err.Error())
}
