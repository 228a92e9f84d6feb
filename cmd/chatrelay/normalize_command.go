package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"chatrelay/internal/ingest"
	"chatrelay/internal/model"
	"chatrelay/internal/router"
)

// printRouter writes whatever reaches the router instead of routing it.
type printRouter struct {
	enc *json.Encoder
}

func (p printRouter) HandleChat(_ context.Context, ev model.ChatEvent) router.Result {
	_ = p.enc.Encode(ev)
	return router.Result{}
}

func (p printRouter) HandleGift(_ context.Context, gift model.Gift) router.Result {
	_ = p.enc.Encode(gift)
	return router.Result{}
}

func newNormalizeCommand() *cobra.Command {
	var platform string

	cmd := &cobra.Command{
		Use:   "normalize [file]",
		Short: "Normalize JSON lines of raw platform payloads and print canonical events",
		Long: "Reads one JSON object per line from file or stdin. Without --platform each line is an " +
			"envelope {\"platform\": ..., \"payload\": ...}; with it each line is a bare payload.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			if platform != "" {
				if _, ok := model.ParsePlatform(platform); !ok {
					return fmt.Errorf("unsupported platform %q", platform)
				}
			}
			return runNormalize(cmd.Context(), in, cmd.OutOrStdout(), cmd.ErrOrStderr(), platform)
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "Platform tag for bare payload lines")
	return cmd
}

func runNormalize(ctx context.Context, in io.Reader, out, errOut io.Writer, platform string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pipeline := ingest.NewPipeline(printRouter{enc: json.NewEncoder(out)}, nil, nil)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	failed := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		raw := []byte(text)
		if platform != "" {
			raw = []byte(fmt.Sprintf(`{"platform":%q,"payload":%s}`, platform, text))
		}
		env, err := ingest.DecodeEnvelope(raw)
		if err != nil {
			failed++
			fmt.Fprintf(errOut, "line %d: %v\n", line, err)
			continue
		}
		env.Source = "cli"
		if _, err := pipeline.Dispatch(ctx, env); err != nil {
			failed++
			fmt.Fprintf(errOut, "line %d: %v\n", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d lines failed", failed, line)
	}
	return nil
}
