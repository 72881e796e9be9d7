package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/util"
	"github.com/fluxbase-eu/fluxpack/internal/artifacts"
	"github.com/fluxbase-eu/fluxpack/internal/fingerprint"
)

var (
	cacheEndpoint  string
	cacheAccessKey string
	cacheSecretKey string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the layer cache",
}

var cacheStatusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show the configured layer cache and whether the current layer is cached",
	Args:    cobra.NoArgs,
	PreRunE: requireConfig,
	RunE:    runCacheStatus,
}

var cacheLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store S3 cache credentials in the system keychain",
	Long: `Store the S3 access and secret key for the cache endpoint in the system keychain.
They are used whenever s3_access_key and s3_secret_key are not configured.

The secret key is prompted for when it is not given and stdin is a terminal.

Examples:
  fluxpack cache login --access-key AKIA...
  fluxpack cache login --endpoint s3.eu-west-1.amazonaws.com --access-key AKIA... --secret-key ...`,
	Args:    cobra.NoArgs,
	PreRunE: requireConfig,
	RunE:    runCacheLogin,
}

var cacheLogoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Remove S3 cache credentials from the system keychain",
	Args:    cobra.NoArgs,
	PreRunE: requireConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, err := cacheEndpointOrConfigured()
		if err != nil {
			return err
		}
		if err := artifacts.DeleteCredentials(endpoint); err != nil {
			return err
		}
		formatter.PrintSuccess("Removed credentials for " + endpoint)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{cacheLoginCmd, cacheLogoutCmd} {
		c.Flags().StringVar(&cacheEndpoint, "endpoint", "", "S3 endpoint (default is cache.s3_endpoint)")
	}
	cacheLoginCmd.Flags().StringVar(&cacheAccessKey, "access-key", "", "S3 access key")
	cacheLoginCmd.Flags().StringVar(&cacheSecretKey, "secret-key", "", "S3 secret key")
	_ = cacheLoginCmd.MarkFlagRequired("access-key")

	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheLoginCmd)
	cacheCmd.AddCommand(cacheLogoutCmd)
}

func cacheEndpointOrConfigured() (string, error) {
	if cacheEndpoint != "" {
		return cacheEndpoint, nil
	}
	if cfg.Cache.S3Endpoint == "" {
		return "", fmt.Errorf("no S3 endpoint: pass --endpoint or set cache.s3_endpoint")
	}
	return cfg.Cache.S3Endpoint, nil
}

func runCacheLogin(cmd *cobra.Command, args []string) error {
	endpoint, err := cacheEndpointOrConfigured()
	if err != nil {
		return err
	}

	secret := cacheSecretKey
	if secret == "" {
		if !util.IsTerminal(os.Stdin) {
			return fmt.Errorf("--secret-key is required when stdin is not a terminal")
		}
		if secret, err = util.ReadSecret("Secret key: "); err != nil {
			return fmt.Errorf("failed to read secret key: %w", err)
		}
	}

	if err := artifacts.SaveCredentials(endpoint, artifacts.Credentials{AccessKey: cacheAccessKey, SecretKey: secret}); err != nil {
		return err
	}
	formatter.PrintSuccess("Saved credentials for " + endpoint)
	return nil
}

func runCacheStatus(cmd *cobra.Command, args []string) error {
	store, err := artifacts.New(&cfg.Cache)
	if err != nil {
		return err
	}
	if store == nil {
		if formatter.Structured() {
			return formatter.Print(map[string]interface{}{"provider": "none"})
		}
		formatter.PrintSuccess("Layer cache is disabled")
		return nil
	}

	cl, err := collectClosure(cmd)
	if err != nil {
		return err
	}
	pairs, err := fingerprint.FromClosure(cfg.ProjectDir, cl)
	if err != nil {
		return err
	}
	digest := fingerprint.Digest(pairs)
	cache := artifacts.NewLayerCache(store, cfg.Cache.Prefix)
	cached, err := cache.Cached(cmd.Context(), digest)
	if err != nil {
		return err
	}

	if formatter.Structured() {
		return formatter.Print(map[string]interface{}{
			"provider":    store.Name(),
			"key":         cache.Key(digest),
			"fingerprint": digest,
			"cached":      cached,
		})
	}
	formatter.PrintKeyValue("Provider", store.Name())
	formatter.PrintKeyValue("Key", cache.Key(digest))
	formatter.PrintKeyValue("Cached", fmt.Sprintf("%t", cached))
	return nil
}
