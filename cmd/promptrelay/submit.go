package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/richinsley/promptrelay/client"
	"github.com/richinsley/promptrelay/relay"
)

func newSubmitCmd(a *app) *cobra.Command {
	var (
		positive string
		negative string
		follow   bool
		output   string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue one prompt pair on the engine and print the acknowledgement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" {
				if !follow {
					return fmt.Errorf("--output requires --follow")
				}
				if err := os.MkdirAll(output, 0o755); err != nil {
					return err
				}
			}

			c, err := a.newClient()
			if err != nil {
				return err
			}
			r, err := a.newRelay(c)
			if err != nil {
				return err
			}
			req := relay.GenerationRequest{Positive: positive, Negative: negative}

			var item *client.QueueItem
			if follow {
				w, err := r.Prepare(req)
				if err != nil {
					return err
				}
				item, err = c.QueuePromptAndFollow(cmd.Context(), w, followHandlers(cmd, c, a.logger, output))
				if err != nil {
					return err
				}
			} else {
				item, err = r.Generate(cmd.Context(), req)
				if err != nil {
					return err
				}
			}

			var out bytes.Buffer
			if err := json.Indent(&out, item.Raw, "", "  "); err != nil {
				return err
			}
			out.WriteByte('\n')
			_, err = cmd.OutOrStdout().Write(out.Bytes())
			return err
		},
	}

	cmd.Flags().StringVarP(&positive, "positive", "p", "", "positive prompt")
	cmd.Flags().StringVarP(&negative, "negative", "n", "", "negative prompt")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow execution and show progress")
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory to download images to (requires --follow)")
	_ = cmd.MarkFlagRequired("positive")
	return cmd
}

// followHandlers renders progress to stderr and downloads images into output
func followHandlers(cmd *cobra.Command, c *client.ComfyClient, logger *slog.Logger, output string) *client.MessageHandlers {
	var bar *progressbar.ProgressBar
	var currentNodeTitle string

	handlers := client.DefaultMessageHandlers().
		WithExecutingHandler(func(msg *client.PromptMessageExecuting) {
			bar = nil
			currentNodeTitle = msg.Title
			logger.Info("executing node", "node_id", msg.NodeID, "title", msg.Title)
		}).
		WithProgressHandler(func(msg *client.PromptMessageProgress) {
			if bar == nil {
				bar = progressbar.NewOptions(msg.Max,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription(currentNodeTitle),
					progressbar.OptionShowCount(),
					progressbar.OptionOnCompletion(func() { fmt.Fprintln(cmd.ErrOrStderr()) }),
				)
			}
			_ = bar.Set(msg.Value)
		})
	if output == "" {
		return handlers
	}

	return handlers.WithDataHandler(func(msg *client.PromptMessageData) {
		for kind, outputs := range msg.Data {
			if kind != "images" && kind != "gifs" {
				continue
			}
			for _, o := range outputs {
				data, err := c.GetImage(cmd.Context(), o)
				if err != nil {
					logger.Error("failed to get image", "filename", o.Filename, "error", err)
					continue
				}
				path := filepath.Join(output, filepath.Base(o.Filename))
				if err := os.WriteFile(path, data, 0o644); err != nil {
					logger.Error("failed to write image", "path", path, "error", err)
					continue
				}
				logger.Info("saved output", "node_id", msg.NodeID, "path", path)
			}
		}
	})
}
