package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/richinsley/promptrelay/client"
	"github.com/richinsley/promptrelay/config"
	"github.com/richinsley/promptrelay/graphapi"
	"github.com/richinsley/promptrelay/relay"
)

// app is the state shared by every subcommand
type app struct {
	v       *viper.Viper
	cfgFile string
	envFile string
	cfg     config.Config
	logger  *slog.Logger
}

func newRootCmd(version string) *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:          "promptrelay",
		Short:        "Relay text prompts into a ComfyUI workflow",
		Long:         `promptrelay accepts positive/negative prompt pairs, embeds them into a workflow template and queues the result on a ComfyUI engine.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.StringVar(&a.envFile, "env-file", ".env", "environment file read before PROMPTRELAY_* variables")
	flags.String("engine", "", "engine base URL (default http://127.0.0.1:8188)")
	flags.Duration("timeout", 0, "engine request timeout (default 30s)")
	flags.String("template", "", "workflow template, API-format .json or engine .png (default built-in)")
	flags.String("integrity", "", "template integrity mode, strict or lenient (default strict)")
	flags.String("log-level", "", "log level: debug, info, warn or error (default info)")
	flags.String("log-format", "", "log format: text or json (default text)")

	_ = a.v.BindPFlag("engine.base_url", flags.Lookup("engine"))
	_ = a.v.BindPFlag("engine.timeout", flags.Lookup("timeout"))
	_ = a.v.BindPFlag("template.path", flags.Lookup("template"))
	_ = a.v.BindPFlag("template.integrity", flags.Lookup("integrity"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(newServeCmd(a), newSubmitCmd(a), newTemplateCmd(a))
	return root
}

// init loads the configuration and installs the logger
func (a *app) init(logOut io.Writer) error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	}

	var envFiles []string
	if a.envFile != "" {
		envFiles = append(envFiles, a.envFile)
	}
	cfg, err := config.Load(a.v, envFiles...)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	logger, err := newLogger(logOut, cfg.Log)
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (a *app) newClient() (*client.ComfyClient, error) {
	return client.NewComfyClient(a.cfg.Engine.BaseURL,
		client.WithTimeout(a.cfg.Engine.Timeout),
		client.WithLogger(a.logger),
	)
}

// loadTemplate returns the configured template, or the built-in one
func (a *app) loadTemplate() (graphapi.Workflow, error) {
	if a.cfg.Template.Path == "" {
		return graphapi.DefaultWorkflow()
	}
	return graphapi.LoadTemplateFile(a.cfg.Template.Path)
}

func (a *app) newRelay(submitter relay.Submitter) (*relay.Relay, error) {
	w, err := a.loadTemplate()
	if err != nil {
		return nil, err
	}
	store, err := graphapi.NewTemplateStore(w)
	if err != nil {
		return nil, err
	}
	return relay.New(relay.Options{
		Templates: store,
		Submitter: submitter,
		Targets:   a.cfg.Targets(),
		Integrity: a.cfg.IntegrityMode(),
		Logger:    a.logger,
	})
}
