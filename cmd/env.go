package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/pipeline"
	"github.com/sells-group/leadflow/internal/quota"
	"github.com/sells-group/leadflow/internal/store"
	"github.com/sells-group/leadflow/pkg/anthropic"
	"github.com/sells-group/leadflow/pkg/campaign"
	"github.com/sells-group/leadflow/pkg/jina"
	"github.com/sells-group/leadflow/pkg/notion"
	"github.com/sells-group/leadflow/pkg/perplexity"
	"github.com/sells-group/leadflow/pkg/salesforce"
)

// Command modes; each selects the config fields Validate requires and the
// clients initPipeline builds.
const (
	modeAcquire   = "acquire"
	modeClassify  = "classify"
	modeSubmit    = "submit"
	modeReconcile = "reconcile"
	modeFollowup  = "followup"
	modeCRM       = "crm"
	modeServe     = "serve"
	modeStats     = "stats"
)

// pipelineEnv holds the store and the pipeline built for one command.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Quota    *quota.Controller
	Jina     jina.Client
	Notion   notion.Client
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline validates the config for mode, opens the store and wires the
// clients that mode needs. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	opts, err := pipelineOptions(mode, env)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Pipeline = pipeline.New(cfg, st, opts...)
	return env, nil
}

func pipelineOptions(mode string, env *pipelineEnv) ([]pipeline.Option, error) {
	var opts []pipeline.Option

	if mode == modeAcquire || mode == modeStats || mode == modeServe {
		q, err := newQuota(env.Store)
		if err != nil {
			return nil, err
		}
		env.Quota = q
		opts = append(opts, pipeline.WithQuota(env.Quota))
	}

	var ai anthropic.Client
	if cfg.Anthropic.Key != "" {
		var aiOpts []anthropic.Option
		if cfg.Anthropic.BaseURL != "" {
			aiOpts = append(aiOpts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		ai = anthropic.NewClient(cfg.Anthropic.Key, aiOpts...)
	}
	if cfg.Campaign.APIKey != "" {
		opts = append(opts, pipeline.WithCampaign(newCampaignClient()))
	}
	if cfg.Notion.Token != "" {
		env.Notion = notion.NewClient(cfg.Notion.Token)
	}

	switch mode {
	case modeAcquire:
		jinaOpts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
		if cfg.Jina.SearchBaseURL != "" {
			jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
		}
		env.Jina = jina.NewClient(cfg.Jina.Key, jinaOpts...)

		var pplx perplexity.Client
		if cfg.Perplexity.Key != "" {
			pplx = perplexity.NewClient(cfg.Perplexity.Key,
				perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
				perplexity.WithModel(cfg.Perplexity.Model),
			)
		} else {
			zap.L().Debug("LEADFLOW_PERPLEXITY_KEY not set, login-wall fallback disabled")
		}
		opts = append(opts, pipeline.WithExtractor(
			pipeline.NewProfileExtractor(env.Jina, pplx, ai, cfg.Anthropic.HaikuModel),
		))

	case modeClassify:
		criteria, err := os.ReadFile(cfg.Classify.CriteriaPath)
		if err != nil {
			return nil, eris.Wrap(err, "read classification criteria")
		}
		opts = append(opts,
			pipeline.WithCriteria(string(criteria)),
			pipeline.WithClassifier(pipeline.NewAnthropicClassifier(ai, cfg.Anthropic.SonnetModel)),
		)

	case modeFollowup, modeServe:
		if ai != nil {
			opts = append(opts, pipeline.WithDraftGenerator(
				pipeline.NewAnthropicDraftGenerator(ai, cfg.Anthropic.SonnetModel, cfg.Followup.Prompt, cfg.Followup.MaxChars),
			))
		}

	case modeCRM:
		sf, err := salesforce.Connect(salesforce.JWTConfig{
			LoginURL: cfg.Salesforce.LoginURL,
			Username: cfg.Salesforce.Username,
			ClientID: cfg.Salesforce.ClientID,
			KeyPath:  cfg.Salesforce.KeyPath,
		}, salesforce.WithRateLimit(cfg.Salesforce.RateLimit))
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithCRM(sf))
	}

	return opts, nil
}

func newCampaignClient() campaign.Client {
	return campaign.NewClient(cfg.Campaign.APIKey,
		campaign.WithBaseURL(cfg.Campaign.BaseURL),
		campaign.WithTimeout(time.Duration(cfg.Campaign.TimeoutSecs)*time.Second),
		campaign.WithRateLimit(cfg.Campaign.RateLimit),
	)
}

func newQuota(st quota.Store) (*quota.Controller, error) {
	loc, err := cfg.Quota.Location()
	if err != nil {
		return nil, err
	}
	return quota.New(st, quota.Config{
		DailyLimit: cfg.Quota.DailyLimit,
		Location:   loc,
		MinDelay:   time.Duration(cfg.Pacing.MinMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Pacing.MaxMs) * time.Millisecond,
		StdDev:     time.Duration(cfg.Pacing.StdDevMs) * time.Millisecond,
	}), nil
}
