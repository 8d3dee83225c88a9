package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aschepis/backscratcher/streamchat/catalog"
	"github.com/spf13/cobra"
)

// newModelsCmd creates the `streamchat models` command.
func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available models",
		Long: `Lists the model ids the API currently offers. With --watch the list is
refreshed on the catalog.refresh schedule and printed whenever it changes.`,
		Args: cobra.NoArgs,
		RunE: runModels,
	}

	cmd.Flags().Bool("watch", false, "keep running and print the list after each refresh")
	cmd.Flags().String("refresh", "", "refresh schedule for --watch (overrides catalog.refresh)")
	return cmd
}

func runModels(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := a.provider()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	watch, _ := cmd.Flags().GetBool("watch")
	if !watch {
		models := catalog.NewCache(provider, a.logger).Refresh(ctx)
		if len(models) == 0 {
			return fmt.Errorf("no models available")
		}
		printModels(out, models)
		return nil
	}

	spec, _ := cmd.Flags().GetString("refresh")
	if spec == "" {
		spec = a.cfg.Catalog.Refresh
	}
	cache := catalog.NewCache(provider, a.logger, catalog.WithOnRefresh(func(models []string) {
		printModels(out, models)
		fmt.Fprintln(out) //nolint:errcheck // best effort
	}))
	if err := cache.Start(ctx, spec); err != nil {
		return err
	}
	<-ctx.Done()
	cache.Stop()
	return nil
}

func printModels(w io.Writer, models []string) {
	for _, id := range models {
		fmt.Fprintln(w, id) //nolint:errcheck // best effort
	}
}
