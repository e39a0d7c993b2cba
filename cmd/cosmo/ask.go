package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/cosmo/cmd/cosmo/runtime"

	"github.com/harunnryd/cosmo/internal/agent"
	cosmoErrors "github.com/harunnryd/cosmo/internal/errors"
	"github.com/harunnryd/cosmo/internal/model/contract"

	"github.com/spf13/cobra"
)

const (
	maxAttachmentSize = 1 << 20
	eventBuffer       = 64
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Ask one question and print the answer",
	Long: `Run the agent loop once for the given prompt. With no arguments the
prompt is read from stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, err := readPrompt(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		profile, _ := cmd.Flags().GetString("profile")
		noTools, _ := cmd.Flags().GetBool("no-tools")
		stream, _ := cmd.Flags().GetBool("stream")
		verbose, _ := cmd.Flags().GetBool("verbose")
		events, _ := cmd.Flags().GetString("events")
		attachPaths, _ := cmd.Flags().GetStringSlice("attach")

		sink, err := newEventSink(cmd.OutOrStdout(), events, verbose)
		if err != nil {
			return err
		}

		message := contract.NewMessage(contract.RoleUser, prompt)
		for _, path := range attachPaths {
			att, err := loadAttachment(path)
			if err != nil {
				return err
			}
			message.Attachments = append(message.Attachments, att)
		}

		return executeWithRuntime(cmd, func(b runtime.RuntimeBuilder) runtime.RuntimeBuilder {
			b = b.WithProfile(profile)
			if noTools || stream {
				b = b.WithoutTools()
			}
			return b
		}, func(r *runtime.RuntimeComponents) error {
			// Slow output must not hold up the loop; heartbeats are dropped instead.
			buffered, flush := agent.Buffered(sink, eventBuffer)
			defer flush()

			messages := append(r.NewConversation(), message)
			if stream {
				_, err := r.Loop.Stream(r.Ctx, messages, buffered)
				return err
			}
			_, err := r.Loop.Run(r.Ctx, messages, buffered)
			return err
		})
	},
}

func readPrompt(in io.Reader, args []string) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", cosmoErrors.InvalidInput("prompt is empty")
	}
	return prompt, nil
}

func newEventSink(w io.Writer, format string, verbose bool) (agent.EventSink, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return runtime.NewPrinter(w, verbose), nil
	case "json":
		return runtime.NewJSONPrinter(w), nil
	default:
		return nil, cosmoErrors.InvalidInput(fmt.Sprintf("unsupported events format %q (text, json)", format))
	}
}

func loadAttachment(path string) (contract.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return contract.Attachment{}, fmt.Errorf("attach %s: %w", path, err)
	}
	if info.IsDir() {
		return contract.Attachment{}, cosmoErrors.InvalidInput(fmt.Sprintf("attach %s: is a directory", path))
	}
	if info.Size() > maxAttachmentSize {
		return contract.Attachment{}, cosmoErrors.InvalidInput(fmt.Sprintf("attach %s: larger than %d bytes", path, maxAttachmentSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return contract.Attachment{}, fmt.Errorf("attach %s: %w", path, err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return contract.Attachment{
		FilePath: path,
		FileName: filepath.Base(path),
		MimeType: mimeType,
		FileSize: info.Size(),
		Content:  string(data),
	}, nil
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringP("profile", "p", "", "model profile (default is models.default)")
	askCmd.Flags().Bool("no-tools", false, "do not start tool servers")
	askCmd.Flags().Bool("stream", false, "stream the answer without tools")
	askCmd.Flags().BoolP("verbose", "v", false, "show turns, tool parameters and results")
	askCmd.Flags().String("events", "text", "event output format (text, json)")
	askCmd.Flags().StringSliceP("attach", "a", nil, "attach a text file to the prompt")
}
