package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskbridge/pkg/config"
	"taskbridge/pkg/logger"
	"taskbridge/pkg/provider"
	"taskbridge/pkg/task"
	"taskbridge/pkg/ui"
)

var (
	parseText     string
	parseExtended bool
)

var parseCmd = &cobra.Command{
	Use:   "parse [text]",
	Short: "Extract task fields from text with the configured parser",
	Long:  "Runs the configured task parser locally against text from the arguments, --text or stdin and prints the extracted fields.",
	Run: func(cmd *cobra.Command, args []string) {
		text, err := resolveText(args, cmd.InOrStdin())
		if err != nil {
			fmt.Println(ui.RenderError("failed to read input", err))
			return
		}
		if text == "" {
			fmt.Println(ui.RenderError("no text to parse", nil))
			return
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		log, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}

		parser, err := provider.New(cfg, log)
		if err != nil {
			fmt.Println(ui.RenderError("failed to initialize parser", err))
			return
		}

		timeout := time.Duration(cfg.Parser.RequestTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		fields, err := parser.Parse(ctx, text, task.Hints{Extended: parseExtended})
		if err != nil {
			fmt.Println(ui.RenderError("parse failed", err))
			return
		}

		fmt.Println(ui.RenderFields(parser.Name(), fields))
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().StringVarP(&parseText, "text", "t", "", "text to parse")
	parseCmd.Flags().BoolVar(&parseExtended, "extended", false, "treat the text as already carrying extended history")
}

// resolveText prefers --text, then arguments, then piped stdin.
func resolveText(args []string, stdin io.Reader) (string, error) {
	if value := strings.TrimSpace(parseText); value != "" {
		return value, nil
	}

	if value := strings.TrimSpace(strings.Join(args, " ")); value != "" {
		return value, nil
	}

	if file, ok := stdin.(*os.File); ok {
		info, err := file.Stat()
		if err != nil || info.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	if stdin == nil {
		return "", nil
	}

	var b strings.Builder
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	return strings.TrimSpace(b.String()), nil
}
