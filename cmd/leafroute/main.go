// leafroute: brings up eBGP or OSPF between the leaf vrouters of a Netvisor
// fabric and the third-party spines above them.
//
// Flow:
//  1. Load the fabric topology and the clusters already formed
//  2. Pair directly connected leaves into clusters
//  3. Assign AS numbers or OSPF areas and internal-link subnets
//  4. Create the new clusters
//  5. Configure every reachable leaf, then every cluster's internal link
//  6. Print the per-switch report
//
// "plan" stops after step 3; "serve" repeats the run on an interval and
// exposes the last report over HTTP.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

// errRunFailed makes the process exit non-zero after the report has been
// printed.
var errRunFailed = errors.New("run did not succeed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:           "leafroute",
		Short:         "Configure leaf routing (eBGP or OSPF) on a Netvisor fabric",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	o.addFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd(o), newPlanCmd(o), newServeCmd(o))
	return root
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar(), nil
}
