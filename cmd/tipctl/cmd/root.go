// Package cmd implements the tipctl CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mbd888/tiptap/internal/authn"
	"github.com/mbd888/tiptap/internal/config"
	"github.com/mbd888/tiptap/internal/device"
	"github.com/mbd888/tiptap/internal/fraud"
	"github.com/mbd888/tiptap/internal/logging"
	"github.com/mbd888/tiptap/internal/securestore"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	// Global flags
	outputFormat string
	storePath    string
	deviceID     string

	// Opened by commands annotated with needsStore
	env *storeEnv
)

var (
	okFmt   = color.New(color.FgGreen).SprintFunc()
	warnFmt = color.New(color.FgYellow).SprintFunc()
	errFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

const needsStore = "needs-store"

// storeEnv is the device store plus the components that read it.
type storeEnv struct {
	backend  *securestore.SQLiteBackend
	pins     *authn.PINAuthenticator
	detector *fraud.Detector
}

var rootCmd = &cobra.Command{
	Use:   "tipctl",
	Short: "Inspect and administer a TipTap device store",
	Long: `tipctl works directly on the encrypted device store used by the
TipTap server. It computes tips offline, reports PIN status and manages the
fraud blocklist and history.

The store password comes from DEVICE_STORE_PASSWORD (or .env), the same as
the server.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		closeStore()
		if cmd.Annotations[needsStore] == "" {
			return nil
		}
		var err error
		env, err = openStore(cmd.Context())
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeStore()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Secure store path (default: SECURE_STORE_PATH or tiptap.db)")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device-id", "", "Device id the store is bound to (default: DEVICE_ID)")
}

// Execute runs the root command.
func Execute() error {
	defer closeStore()
	return rootCmd.Execute()
}

// closeStore releases the store. PersistentPostRun is skipped when RunE
// fails, so callers close here too.
func closeStore() {
	if env != nil {
		_ = env.backend.Close()
		env = nil
	}
}

func openStore(ctx context.Context) (*storeEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if storePath != "" {
		cfg.SecureStorePath = storePath
	}
	if deviceID != "" {
		cfg.DeviceID = deviceID
	}

	backend, err := securestore.OpenSQLite(ctx, cfg.SecureStorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := backend.Migrate(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	logger := logging.Discard()
	store := securestore.New(backend, cfg.DeviceID)
	identity := device.NewIdentity(device.Static{DeviceID: cfg.DeviceID}, store, cfg.DeviceStorePassword, logger)
	return &storeEnv{
		backend: backend,
		pins: authn.NewPINAuthenticator(store, cfg.DeviceStorePassword, cfg.DeviceID, authn.PINConfig{
			Length:         cfg.PINLength,
			MaxAttempts:    cfg.PINMaxAttempts,
			Lockout:        cfg.PINLockout,
			RequireComplex: cfg.PINRequireComplex,
		}, logger),
		detector: fraud.NewDetector(
			fraud.NewSecureStore(store, cfg.DeviceStorePassword, cfg.FraudHistoryRetention),
			identity, fraud.DefaultConfig(), logger),
	}, nil
}

// printJSON writes data when --output json is set and reports whether it did.
func printJSON(w io.Writer, data any) (bool, error) {
	if outputFormat != "json" {
		return false, nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return true, enc.Encode(data)
}
