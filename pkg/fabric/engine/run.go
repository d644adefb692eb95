package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/glennswest/leafroute/pkg/config"
	"github.com/glennswest/leafroute/pkg/fabric"
	"github.com/glennswest/leafroute/pkg/fabric/cluster"
	"github.com/glennswest/leafroute/pkg/fabric/ipam"
	"github.com/glennswest/leafroute/pkg/fabric/protocol"
	"github.com/glennswest/leafroute/pkg/fabric/topology"
)

// Runner executes the pipeline against one fabric: topology load, cluster
// formation, identifier and link allocation, then configuration.
type Runner struct {
	cfg     *config.Config
	driver  fabric.Driver
	metrics *Metrics
	log     *zap.SugaredLogger
}

// NewRunner returns a Runner. metrics may be nil.
func NewRunner(cfg *config.Config, d fabric.Driver, metrics *Metrics, log *zap.SugaredLogger) *Runner {
	return &Runner{cfg: cfg, driver: d, metrics: metrics, log: log.Named("engine")}
}

// Plan derives clusters, identifiers and internal links without issuing
// any modifying call.
func (r *Runner) Plan(ctx context.Context) (*protocol.Plan, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}

	opts := protocol.OptionsFromConfig(r.cfg)
	exec := NewExecutor(r.cfg.Retry.Attempts, r.cfg.Retry.Delay, r.metrics, nil, r.log)

	repo, err := topology.Load(ctx, r.driver, exec, r.cfg.Leaves, r.cfg.Spines, r.log)
	if err != nil {
		return nil, err
	}
	conf, err := r.configurator(opts, exec, NewRunResult(opts.Protocol, nil))
	if err != nil {
		return nil, err
	}
	return conf.Plan(repo), nil
}

// Run configures the fabric and returns the report. The error is non-nil
// only for an invalid configuration, in which case no switch was
// contacted. Every other failure is part of the report.
func (r *Runner) Run(ctx context.Context) (*RunResult, *protocol.Plan, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, nil, err
	}

	opts := protocol.OptionsFromConfig(r.cfg)
	res := NewRunResult(opts.Protocol, r.cfg.Leaves)
	log := r.log.With("run", res.RunID)
	log.Infow("run started", "protocol", opts.Protocol, "leaves", len(r.cfg.Leaves))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	exec := NewExecutor(r.cfg.Retry.Attempts, r.cfg.Retry.Delay, r.metrics, cancel, log)

	repo, err := topology.Load(ctx, r.driver, exec, r.cfg.Leaves, r.cfg.Spines, log)
	if err != nil {
		res.Abort(err)
		r.finish(res, log)
		return res, nil, nil
	}
	for _, sw := range repo.Names() {
		err := repo.Err(sw)
		switch {
		case err == nil:
		case fabric.IsUnreachable(err):
			res.Unreachable(sw, err)
		default:
			res.Failed(sw, "lldp-show", err)
		}
	}

	conf, err := r.configurator(opts, exec, res)
	if err != nil {
		res.Abort(err)
		r.finish(res, log)
		return res, nil, nil
	}
	plan := conf.Plan(repo)

	reachable := make([]string, 0, len(plan.Leaves))
	for _, sw := range plan.Leaves {
		if node, err := repo.GetNode(sw); err == nil && node.Reachable {
			reachable = append(reachable, sw)
		}
	}

	// New clusters exist before any leaf is configured as a member. The
	// internal links come last so each member's vrouter already carries
	// its identifier.
	forEach(ctx, r.cfg.Parallelism, res, log, plan.NewClusters(),
		fabric.ClusterPair.Members,
		func(ctx context.Context, p fabric.ClusterPair) { _ = conf.FormCluster(ctx, plan, p) })
	forEach(ctx, r.cfg.Parallelism, res, log, reachable,
		func(sw string) []string { return []string{sw} },
		func(ctx context.Context, sw string) { conf.ConfigureLeaf(ctx, plan, sw) })
	forEach(ctx, r.cfg.Parallelism, res, log, plan.Clusters,
		fabric.ClusterPair.Members,
		func(ctx context.Context, p fabric.ClusterPair) { conf.ConfigureCluster(ctx, plan, p) })

	if cause := context.Cause(ctx); fabric.IsAuthentication(cause) {
		res.Abort(cause)
	}
	r.finish(res, log)
	return res, plan, nil
}

func (r *Runner) configurator(opts protocol.Options, exec fabric.Invoker, rec fabric.Recorder) (*protocol.Configurator, error) {
	pool, err := ipam.NewPool(r.cfg.InternalLink.Pool)
	if err != nil {
		return nil, fmt.Errorf("internal link pool: %w", err)
	}
	ids := cluster.NewIdentifierAllocator(protocol.FirstIdentifier(opts))
	return protocol.New(opts, r.driver, exec, rec, pool, ids, r.log), nil
}

func (r *Runner) finish(res *RunResult, log *zap.SugaredLogger) {
	res.Finish()
	d := res.Finished.Sub(res.Started)
	r.metrics.run(res.Message, d)

	if res.Succeeded() {
		log.Infow("run finished", "message", res.Message, "duration", d, "changed", res.AnyChanged())
	} else {
		log.Warnw("run finished", "message", res.Message, "detail", res.Detail, "duration", d)
	}
}

// forEach runs fn for every item with at most limit in flight. A panic is
// recorded against the item's switches instead of taking the process down,
// and items not started before the run was aborted are recorded as such.
func forEach[T any](ctx context.Context, limit int, res *RunResult, log *zap.SugaredLogger,
	items []T, owners func(T) []string, fn func(context.Context, T)) {
	var g errgroup.Group
	g.SetLimit(max(limit, 1))

	for _, it := range items {
		g.Go(func() error {
			defer func() {
				if v := recover(); v != nil {
					log.Errorw("panic while configuring", "switches", owners(it), "panic", v)
					for _, sw := range owners(it) {
						res.Exception(sw, v)
					}
				}
			}()
			if err := ctx.Err(); err != nil {
				for _, sw := range owners(it) {
					res.Failed(sw, "configure", err)
				}
				return nil
			}
			fn(ctx, it)
			return nil
		})
	}
	_ = g.Wait()
}
