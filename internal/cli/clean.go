package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gvmtools/checkgvm/internal/instance"
)

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Purge entries from the report cache",
		Long: `Clean removes cached reports, either for a single host or every
report whose scan ended more than a given number of days ago. Cleaning
operates on the cache only and does not count against the instance limit.`,
		RunE: runClean,
	}

	cmd.Flags().String("ip", "", "Delete the cache entry for the given IP")
	cmd.Flags().Int("days", 0, "Delete cache entries older than the given number of days")
	cmd.MarkFlagsMutuallyExclusive("ip", "days")
	cmd.MarkFlagsOneRequired("ip", "days")

	return cmd
}

func runClean(cmd *cobra.Command, args []string) error {
	logger, closer, err := newLogger(cmd)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	cachePath, _ := cmd.Flags().GetString("cache")
	ip, _ := cmd.Flags().GetString("ip")
	days, _ := cmd.Flags().GetInt("days")

	if days < 0 {
		return fmt.Errorf("invalid --days value %d", days)
	}

	store, err := instance.Open(cachePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if ip != "" {
		logger.Info("deleting cache entry", "ip", ip)
		if err := store.EvictHost(ctx, ip); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted cache entry for %s\n", ip)
		return nil
	}

	logger.Info("deleting old cache entries", "days", days)
	n, err := store.EvictOlderThan(ctx, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d cache entries older than %d days\n", n, days)
	return nil
}
