package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/handler"
	"github.com/pavelanni/pastpaper/internal/importer"
	"github.com/pavelanni/pastpaper/internal/llm"
	"github.com/pavelanni/pastpaper/internal/llm/prompts"
	"github.com/pavelanni/pastpaper/internal/store"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "pastpaper",
		Short:   "Timed multiple-choice practice on past exam papers",
		Version: version,
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), explainCmd(), exportCmd(), tokenCmd(), hashPasswordCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `pastpaper --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addDBFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "pastpaper.db", "Database DSN (SQLite path or Postgres URL)")
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file-or-dir>...",
		Short: "Import papers from JSON or Excel files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	cmd.Flags().Bool("force", false, "Re-import files that changed since the last import")
	addDBFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func explainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Fill in missing explanations of a stored paper with an LLM",
		RunE:  runExplain,
	}
	f := cmd.Flags()
	f.String("paper", "", "Paper id (required)")
	f.Bool("overwrite", false, "Replace existing explanations too")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("style", string(prompts.StyleStandard), "Explanation style (brief, standard, detailed)")
	addDBFlags(cmd)
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("paper")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export graded results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("paper", "", "Only export results of this paper")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addDBFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a student token for development",
		RunE:  runToken,
	}
	f := cmd.Flags()
	f.String("student", "", "Student id (required)")
	f.String("name", "", "Student display name")
	f.Duration("ttl", 0, "Token lifetime (default 8h)")
	f.String("jwt-secret", "", "HS256 signing secret (or set PASTPAPER_JWT_SECRET)")
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for --admin-password-hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(string(data), "\r\n")
			}
			hash, err := handler.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PASTPAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("pastpaper")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/pastpaper")
	v.AddConfigPath("/etc/pastpaper")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	db, err := store.Open(ctx, store.Driver(v.GetString("db-driver")), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// expandPaths replaces directories with the paper files they contain.
func expandPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		files, err := importer.Dir(p).Files()
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", p, err)
		}
		out = append(out, files...)
	}
	return out, nil
}

// importPaths imports every file and reports how many papers were stored.
func importPaths(ctx context.Context, im *importer.Importer, paths []string) (int, error) {
	files, err := expandPaths(paths)
	if err != nil {
		return 0, err
	}
	imported := 0
	for _, path := range files {
		out, err := im.ImportFile(ctx, path)
		if err != nil {
			return imported, err
		}
		if out.Status == importer.StatusImported {
			slog.Info("imported paper", "path", path, "paper_id", out.PaperID)
			imported++
		}
	}
	return imported, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	im := importer.New(db)
	im.Force = v.GetBool("force")
	n, err := importPaths(ctx, im, args)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d paper(s)\n", n)
	return nil
}

func runExplain(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	style := strings.ToLower(strings.TrimSpace(v.GetString("style")))
	if !prompts.IsValidStyle(style) {
		return fmt.Errorf("invalid style %q (brief, standard, detailed)", style)
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	client, err := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), prompts.Style(style))
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	p, err := bank.New(db).Load(ctx, v.GetString("paper"))
	if err != nil {
		return err
	}
	pi, changed, err := client.ExplainPaper(ctx, p, v.GetBool("overwrite"))
	if err != nil {
		return err
	}
	if changed == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no explanations added")
		return nil
	}
	if _, err := importer.New(db).Store(ctx, pi); err != nil {
		return fmt.Errorf("store explained paper: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added %d explanation(s) to %s\n", changed, p.ID())
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportResults(ctx, v.GetString("paper"))
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	slog.Info("exported results", "count", export.Count, "paper_id", export.PaperID)
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	auth, err := handler.NewAuth(v.GetString("jwt-secret"), v.GetDuration("ttl"))
	if err != nil {
		return err
	}
	tok, err := auth.IssueToken(v.GetString("student"), v.GetString("name"))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
