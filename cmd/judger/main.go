package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fujudge/internal/judge/app"
	"fujudge/internal/judge/config"
	"fujudge/internal/judge/model"
	"fujudge/internal/judge/sandbox/result"
	"fujudge/internal/judge/service"
	"fujudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	exitAccepted = 0
	exitRejected = 1
	exitFailure  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file (defaults when empty)")
	manifestPath := flag.String("manifest", "", "Path to the testcase manifest (yaml or json)")
	source := flag.String("source", "", "Source file to compile before judging")
	compiled := flag.String("compiled", "", "Executable to judge")
	checkerName := flag.String("checker", "", "Checker name, overrides the manifest")
	runID := flag.String("run-id", "", "Run id (generated when empty)")
	local := flag.Bool("local", false, "Ignore redis, kafka and minio settings")
	flag.Parse()

	if *manifestPath == "" || (*source == "") == (*compiled == "") {
		fmt.Fprintln(os.Stderr, "usage: judger -manifest <file> (-source <file> | -compiled <file>) [-checker name] [-config file]")
		return exitFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return exitFailure
	}
	// Stdout carries the summary.
	if cfg.Logger.OutputPath == "" || cfg.Logger.OutputPath == "stdout" {
		cfg.Logger.OutputPath = "stderr"
	}
	disabled := false
	cfg.Metrics.Enabled = &disabled

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return exitFailure
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var appOpts []app.Option
	if *local {
		appOpts = append(appOpts, app.WithoutRemote())
	}
	judgeApp, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		logger.Error(ctx, "init judge failed", zap.Error(err))
		return exitFailure
	}
	defer judgeApp.Close()

	manifest, err := model.LoadManifest(*manifestPath)
	if err != nil {
		logger.Error(ctx, "load manifest failed", zap.Error(err))
		return exitFailure
	}

	id := *runID
	if id == "" {
		id = service.NewRunID()
	}
	layout := model.NewRunLayout(cfg.Judge.WorkRoot, id)

	program := *compiled
	if *source != "" {
		if judgeApp.Compiler == nil {
			logger.Error(ctx, "compiler.command is not configured")
			return exitFailure
		}
		program = layout.BinaryPath()
		if err := judgeApp.Compiler.Compile(ctx, *source, program); err != nil {
			logger.Error(ctx, "compile failed", zap.Error(err))
			printJSON(map[string]any{"runId": id, "error": err.Error()})
			return exitRejected
		}
	}

	var runOpts []service.RunOption
	name := *checkerName
	if name == "" {
		name = manifest.Checker
	}
	if name != "" {
		chk, err := judgeApp.LoadChecker(name)
		if err != nil {
			logger.Error(ctx, "load checker failed", zap.String("checker", name), zap.Error(err))
			return exitFailure
		}
		runOpts = append(runOpts, service.WithRunChecker(chk))
	}

	summary, err := judgeApp.Service.JudgeAll(ctx, id, manifest.Build(program, layout.CasesDir()), runOpts...)
	if err != nil {
		logger.Error(ctx, "judge run failed", zap.Error(err))
		printJSON(summary)
		return exitFailure
	}
	printJSON(summary)
	if summary.Verdict != result.VerdictAccepted {
		return exitRejected
	}
	return exitAccepted
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
