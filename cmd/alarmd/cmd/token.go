package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/technosupport/ts-alarms/internal/tokens"
)

var (
	tokenCameras []string
	tokenTTL     time.Duration
	tokenKey     string

	tokenCmd = &cobra.Command{
		Use:   "token <viewer-id>",
		Short: "Mint a viewer token for the status API and live feed.",
		Long: `Prints a signed viewer token. The signing key comes from --key or the
FEED_SIGNING_KEY environment variable and must match the daemon's feed.signing_key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := tokenKey
			if key == "" {
				key = os.Getenv("FEED_SIGNING_KEY")
			}
			if key == "" {
				return errors.New("signing key not set (use --key or FEED_SIGNING_KEY)")
			}

			token, err := tokens.NewManager(key).GenerateViewerToken(args[0], tokenCameras, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	tokenCmd.Flags().StringSliceVar(&tokenCameras, "camera", nil, "restrict the token to these camera ids (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", tokens.DefaultViewerTTL, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenKey, "key", "", "signing key (defaults to FEED_SIGNING_KEY)")
}
