package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/synclib/diffsync/internal/document"
	"github.com/synclib/diffsync/internal/engine"
	"github.com/synclib/diffsync/internal/jsonsync"
	"github.com/synclib/diffsync/internal/schema"
	"github.com/synclib/diffsync/internal/store"
	"github.com/synclib/diffsync/internal/transport"
)

// SyncConfig holds the sync command configuration, loadable from a YAML
// file and overridable by flags.
type SyncConfig struct {
	// Server is the websocket URL of the sync server.
	Server string `yaml:"server"`

	// DocumentID identifies the document on the server.
	DocumentID string `yaml:"document_id"`

	// ClientID identifies this client. Generated when empty.
	ClientID string `yaml:"client_id"`

	// DocumentPath is the local JSON file holding the working document.
	DocumentPath string `yaml:"document_path"`

	// StorePath enables durable local state when set; empty runs in
	// memory.
	StorePath string `yaml:"store_path,omitempty"`

	// SchemaPath installs a CUE schema validator when set.
	SchemaPath string `yaml:"schema_path,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		configPath string
		config     SyncConfig
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize a local JSON document with a sync server",
		Long: `Connect to a sync server over websocket, register the local
document, and send its pending edits once at startup. Inbound patches
are applied and written back to the document file. Changes made to the
document file after startup are not diffed or sent.
Runs until interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				data, err := os.ReadFile(configPath)
				if err != nil {
					return WrapExitError(ExitCommandError, "read config", err)
				}
				fileConfig := SyncConfig{}
				if err := yaml.Unmarshal(data, &fileConfig); err != nil {
					return WrapExitError(ExitCommandError, "parse config", err)
				}
				mergeConfig(&config, fileConfig)
			}
			if err := config.validate(); err != nil {
				return WrapExitError(ExitCommandError, "configuration", err)
			}
			return runSync(cmd.Context(), rootOpts, config)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&config.Server, "server", "", "websocket URL of the sync server")
	cmd.Flags().StringVar(&config.DocumentID, "id", "", "document id")
	cmd.Flags().StringVar(&config.ClientID, "client-id", "", "client id (generated when empty)")
	cmd.Flags().StringVar(&config.DocumentPath, "doc", "", "local JSON document file")
	cmd.Flags().StringVar(&config.StorePath, "store", "", "bbolt file for durable sync state")
	cmd.Flags().StringVar(&config.SchemaPath, "schema", "", "CUE schema for document validation")
	return cmd
}

// mergeConfig fills unset flag values from the config file.
func mergeConfig(dst *SyncConfig, src SyncConfig) {
	if dst.Server == "" {
		dst.Server = src.Server
	}
	if dst.DocumentID == "" {
		dst.DocumentID = src.DocumentID
	}
	if dst.ClientID == "" {
		dst.ClientID = src.ClientID
	}
	if dst.DocumentPath == "" {
		dst.DocumentPath = src.DocumentPath
	}
	if dst.StorePath == "" {
		dst.StorePath = src.StorePath
	}
	if dst.SchemaPath == "" {
		dst.SchemaPath = src.SchemaPath
	}
}

func (c *SyncConfig) validate() error {
	if c.Server == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.DocumentID == "" {
		return fmt.Errorf("document id is required")
	}
	if c.DocumentPath == "" {
		return fmt.Errorf("document path is required")
	}
	return nil
}

func runSync(ctx context.Context, opts *RootOptions, config SyncConfig) error {
	if config.ClientID == "" {
		config.ClientID = engine.UUIDv7Generator{}.Generate()
	}

	dataStore, closeStore, err := openSyncStore(config)
	if err != nil {
		return err
	}
	defer closeStore()

	engineOpts, err := syncEngineOptions(config)
	if err != nil {
		return err
	}
	eng := engine.New[document.Value, jsonsync.Edit, jsonsync.PatchMessage](jsonsync.New(), dataStore, engineOpts...)

	content, err := readJSONFile(config.DocumentPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "read document", err)
	}
	doc := document.Document[document.Value]{
		ID:       config.DocumentID,
		ClientID: config.ClientID,
		Content:  content,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Inbound messages run on the transport's read goroutine; the
	// engine itself is single-threaded per document, which the single
	// reader satisfies.
	client := transport.NewClient(config.Server, func(raw string) {
		if err := eng.PatchFromJSON(ctx, raw); err != nil {
			fmt.Fprintf(os.Stderr, "patch failed: %v\n", err)
		}
	})
	defer client.Close()

	if err := eng.Add(ctx, doc, func(updated document.Document[document.Value]) {
		if err := writeDocumentFile(config.DocumentPath, updated); err != nil {
			fmt.Fprintf(os.Stderr, "write document: %v\n", err)
		}
	}); err != nil {
		return WrapExitError(ExitCommandError, "register document", err)
	}

	handshake, err := eng.DocumentToJSON(doc)
	if err != nil {
		return WrapExitError(ExitCommandError, "build handshake", err)
	}
	client.Send(handshake)

	// Re-send any edits a previous run left queued in a durable store.
	if message, found, err := eng.Diff(ctx, doc); err == nil && found {
		wire, err := message.Marshal()
		if err != nil {
			return WrapExitError(ExitCommandError, "marshal patch message", err)
		}
		client.Send(wire)
	}

	err = client.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return WrapExitError(ExitCommandError, "transport", err)
	}
	return nil
}

func openSyncStore(config SyncConfig) (store.DataStore[document.Value, jsonsync.Edit], func(), error) {
	if config.StorePath == "" {
		return store.NewMemory[document.Value, jsonsync.Edit](), func() {}, nil
	}
	bolt, err := store.OpenBolt[document.Value, jsonsync.Edit](config.StorePath, store.JSONContent{})
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open store", err)
	}
	return bolt, func() { bolt.Close() }, nil
}

func syncEngineOptions(config SyncConfig) ([]engine.Option[document.Value, jsonsync.Edit, jsonsync.PatchMessage], error) {
	if config.SchemaPath == "" {
		return nil, nil
	}
	validator, err := schema.CompileFile(config.SchemaPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "compile schema", err)
	}
	return []engine.Option[document.Value, jsonsync.Edit, jsonsync.PatchMessage]{
		engine.WithValidator[document.Value, jsonsync.Edit, jsonsync.PatchMessage](validator.DocumentHook()),
	}, nil
}

func writeDocumentFile(path string, doc document.Document[document.Value]) error {
	data, err := document.MarshalValue(doc.Content)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
