package controller

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	commonmw "fujudge/internal/common/http/middleware"
	"fujudge/internal/judge/model"
	"fujudge/internal/judge/sandbox/checker"
	"fujudge/internal/judge/sandbox/compiler"
	"fujudge/internal/judge/sandbox/result"
	"fujudge/internal/judge/service"
	appErr "fujudge/pkg/errors"
	"fujudge/pkg/utils/logger"
	"fujudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultSourceName = "main.cpp"

// Judge is the part of the judge service used by the HTTP layer.
type Judge interface {
	JudgeAll(ctx context.Context, runID string, tests []*model.Testcase, opts ...service.RunOption) (result.Summary, error)
	Status(ctx context.Context, runID string) (result.Summary, error)
}

// CheckerLoader loads a named checker.
type CheckerLoader func(name string) (checker.Checker, error)

// JudgeRequest is the body of POST /api/v1/judge. Either Compiled (a path on
// the judge host) or Source (program text) must be set.
type JudgeRequest struct {
	RunID      string `json:"runId"`
	Compiled   string `json:"compiled"`
	Source     string `json:"source"`
	SourceName string `json:"sourceName"`
	Async      bool   `json:"async"`
	model.Manifest
}

// RunAccepted is returned for async requests.
type RunAccepted struct {
	RunID string `json:"runId"`
}

// Option configures a JudgeController.
type Option func(*JudgeController)

// WithCheckerLoader resolves the request checker name.
func WithCheckerLoader(load CheckerLoader) Option {
	return func(h *JudgeController) { h.loadChecker = load }
}

// WithCompiler enables requests that carry source code.
func WithCompiler(c *compiler.Compiler) Option {
	return func(h *JudgeController) { h.compiler = c }
}

// JudgeController handles judge requests.
type JudgeController struct {
	judge       Judge
	workRoot    string
	loadChecker CheckerLoader
	compiler    *compiler.Compiler

	wg sync.WaitGroup
}

// NewJudgeController creates a new controller. Every run works under workRoot/<runID>.
func NewJudgeController(judge Judge, workRoot string, opts ...Option) *JudgeController {
	h := &JudgeController{judge: judge, workRoot: workRoot}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the judge routes on api.
func (h *JudgeController) RegisterRoutes(api gin.IRoutes) {
	api.POST("", h.Submit)
	api.GET("/runs/:id", h.GetStatus)
}

// Submit judges the request testcases.
func (h *JudgeController) Submit(c *gin.Context) {
	var req JudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Compiled == "" && req.Source == "" {
		response.ErrorWithCode(c, appErr.ValidationFailed, "compiled or source is required")
		return
	}
	if err := req.Manifest.Validate(); err != nil {
		response.Error(c, err)
		return
	}
	if req.RunID == "" {
		req.RunID = commonmw.RunIDFromHeader(c)
	}
	if req.RunID == "" {
		req.RunID = service.NewRunID()
	}
	if !validRunID(req.RunID) {
		response.ErrorWithCode(c, appErr.ValidationFailed, "runId contains invalid characters")
		return
	}

	var opts []service.RunOption
	if req.Checker != "" {
		if h.loadChecker == nil {
			response.ErrorWithCode(c, appErr.CheckerNotFound, "named checkers are not enabled")
			return
		}
		chk, err := h.loadChecker(req.Checker)
		if err != nil {
			response.Error(c, err)
			return
		}
		opts = append(opts, service.WithRunChecker(chk))
	}

	if !req.Async {
		summary, err := h.run(c.Request.Context(), req, opts)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, summary)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.run(ctx, req, opts); err != nil {
			logger.Warn(ctx, "async run failed", zap.String("run_id", req.RunID), zap.Error(err))
		}
	}()
	response.Accepted(c, RunAccepted{RunID: req.RunID})
}

// GetStatus returns the stored status of one run.
func (h *JudgeController) GetStatus(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		response.BadRequest(c, "Invalid run id")
		return
	}
	status, err := h.judge.Status(c.Request.Context(), runID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Wait blocks until every async run has finished.
func (h *JudgeController) Wait() {
	h.wg.Wait()
}

func (h *JudgeController) run(ctx context.Context, req JudgeRequest, opts []service.RunOption) (result.Summary, error) {
	layout := model.NewRunLayout(h.workRoot, req.RunID)
	compiled := req.Compiled
	if req.Source != "" {
		var err error
		if compiled, err = h.compile(ctx, req, layout); err != nil {
			return result.Summary{}, err
		}
	}
	return h.judge.JudgeAll(ctx, req.RunID, req.Manifest.Build(compiled, layout.CasesDir()), opts...)
}

func (h *JudgeController) compile(ctx context.Context, req JudgeRequest, layout model.RunLayout) (string, error) {
	if h.compiler == nil {
		return "", appErr.New(appErr.ServiceUnavailable).WithMessage("compiler is not configured")
	}
	name := filepath.Base(req.SourceName)
	if req.SourceName == "" || name == "." || name == string(filepath.Separator) {
		name = defaultSourceName
	}
	source := layout.SourcePath(name)
	if err := os.MkdirAll(filepath.Dir(source), 0755); err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "create build dir failed")
	}
	if err := os.WriteFile(source, []byte(req.Source), 0644); err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "write source failed")
	}
	output := layout.BinaryPath()
	if err := h.compiler.Compile(ctx, source, output); err != nil {
		return "", err
	}
	return output, nil
}

func validRunID(id string) bool {
	if len(id) > 128 || strings.Trim(id, ".") == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
