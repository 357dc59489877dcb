package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/spendgate/internal/audit"
	"github.com/ppiankov/spendgate/internal/client"
	"github.com/ppiankov/spendgate/internal/config"
	"github.com/ppiankov/spendgate/internal/directory"
	"github.com/ppiankov/spendgate/internal/logging"
	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/policy"
	"github.com/ppiankov/spendgate/internal/server"
	"github.com/ppiankov/spendgate/internal/store"
	"github.com/ppiankov/spendgate/internal/workflow"
)

// app is a fully wired local workflow.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	store store.Store
	audit *audit.Log
	svc   *workflow.Service
}

// openApp loads configuration and builds the workflow from it.
func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}

	dir, err := directory.Load(cfg.DirectoryPath)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	pcfg, hash, err := policy.LoadConfigWithHash(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	rules, err := pcfg.RuleSet()
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", cfg.RulesPath, err)
	}

	st, err := store.Open(cfg.Store.Kind, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	alog, err := audit.Open(cfg.AuditPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	svc, err := workflow.New(workflow.Options{
		Store:        st,
		Rules:        rules,
		Fallback:     pcfg.Fallback,
		PolicyHash:   hash,
		Directory:    dir,
		Rates:        cfg.RateProvider(),
		RateTimeout:  cfg.Rates.Timeout,
		BaseCurrency: cfg.BaseCurrency,
		Categories:   cfg.Categories,
		Audit:        alog,
		Logger:       logger,
	})
	if err != nil {
		alog.Close()
		st.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: logger, store: st, audit: alog, svc: svc}, nil
}

func (a *app) Close() error {
	_ = a.log.Sync()
	return errors.Join(a.audit.Close(), a.store.Close())
}

// backend is the subset of operations that work both locally and against
// a remote server. *client.Client implements it.
type backend interface {
	Submit(ctx context.Context, req server.SubmitRequest) (*model.Expense, error)
	Decide(ctx context.Context, expenseID, approverID string, d model.Decision, comments string) (*model.Expense, error)
	Get(ctx context.Context, id string) (*model.Expense, error)
	List(ctx context.Context, req server.ListRequest) ([]*model.Expense, error)
	Pending(ctx context.Context, approverID string) ([]*model.Expense, error)
	Stats(ctx context.Context, submitterID string) (workflow.Stats, error)
	Close() error
}

// openBackend connects to --remote when set, otherwise opens the local app.
func openBackend() (backend, error) {
	if remoteAddr != "" {
		return client.New(remoteAddr)
	}
	a, err := openApp()
	if err != nil {
		return nil, err
	}
	return local{a}, nil
}

// local adapts app to backend.
type local struct{ *app }

func (l local) Submit(ctx context.Context, req server.SubmitRequest) (*model.Expense, error) {
	sub, err := req.Parse()
	if err != nil {
		return nil, err
	}
	return l.svc.Submit(ctx, sub)
}

func (l local) Decide(ctx context.Context, expenseID, approverID string, d model.Decision, comments string) (*model.Expense, error) {
	return l.svc.Decide(ctx, expenseID, approverID, d, comments)
}

func (l local) Get(ctx context.Context, id string) (*model.Expense, error) {
	return l.svc.Get(ctx, id)
}

func (l local) List(ctx context.Context, req server.ListRequest) ([]*model.Expense, error) {
	f, err := server.ListFilter(req)
	if err != nil {
		return nil, err
	}
	return l.svc.List(ctx, f)
}

func (l local) Pending(ctx context.Context, approverID string) ([]*model.Expense, error) {
	return l.svc.PendingFor(ctx, approverID)
}

func (l local) Stats(ctx context.Context, submitterID string) (workflow.Stats, error) {
	return l.svc.Stats(ctx, store.Filter{SubmitterID: submitterID})
}
