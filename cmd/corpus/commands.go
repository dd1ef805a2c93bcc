package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"corpus/internal/domain"
	"corpus/internal/loader"
	"corpus/internal/pipeline"
	"corpus/internal/service"
	"corpus/internal/tui"
)

var (
	queryTopK      int
	queryThreshold float64
	queryStream    bool
	queryNoSources bool
	deleteByPath   bool
)

var indexCmd = &cobra.Command{
	Use:   "index [paths...]",
	Short: "Index .txt, .md and .html files into the tenant collection",
	Long: `Index .txt, .md and .html files into the tenant collection.

With vector_store.type "memory" the vectors only live as long as the process,
so use "corpus chat [paths...]" to index and ask in one session, or configure
qdrant or pgvector to keep them.`,
	Args: cobra.MinimumNArgs(1),
	RunE:  runIndex,
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer a question from the tenant collection",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

var chatCmd = &cobra.Command{
	Use:   "chat [paths...]",
	Short: "Open an interactive chat, indexing the given files first",
	RunE:  runChat,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [document ids...]",
	Short: "Delete the vectors of documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete the whole tenant collection",
	Args:  cobra.NoArgs,
	RunE:  runDrop,
}

func init() {
	for _, c := range []*cobra.Command{queryCmd, chatCmd} {
		c.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "maximum number of retrieved chunks (defaults to pipeline.top_k)")
		c.Flags().Float64Var(&queryThreshold, "threshold", -2, "minimum similarity score between -1 and 1 (defaults to pipeline.score_threshold)")
	}
	queryCmd.Flags().BoolVarP(&queryStream, "stream", "s", false, "print the answer while it is generated")
	queryCmd.Flags().BoolVar(&queryNoSources, "no-sources", false, "omit sources from the output")
	deleteCmd.Flags().BoolVar(&deleteByPath, "path", false, "arguments are file paths instead of document ids")

	rootCmd.AddCommand(indexCmd, queryCmd, chatCmd, deleteCmd, dropCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func retrieval(sources bool) []pipeline.QueryOption {
	k := queryTopK
	if k <= 0 {
		k = cfg.Pipeline.TopK
	}
	threshold := queryThreshold
	if threshold < -1 {
		threshold = cfg.Pipeline.ScoreThreshold
	}
	return queryOptions(k, threshold, sources)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	if !isTerminal(os.Stdout) {
		return progressbar.DefaultSilent(int64(total), description)
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func indexPaths(ctx context.Context, svc *service.Service, paths []string) error {
	docs, err := loader.LoadPaths(paths)
	if err != nil {
		return err
	}
	bar := getProgressBar(len(docs), "Indexing")
	chunks := 0
	for _, doc := range docs {
		res, err := svc.IndexDocument(ctx, tenant, doc)
		if err != nil {
			_ = bar.Finish()
			return fmt.Errorf("index %s: %w", doc.Metadata["path"], err)
		}
		chunks += res.ChunksCreated
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Println()
	for _, doc := range docs {
		fmt.Printf("  %s  %s\n", color.CyanString(doc.ID), doc.Metadata["path"])
	}
	fmt.Println(color.GreenString("Indexed %d document(s), %d chunk(s) into %s", len(docs), chunks, pipeline.CollectionName(tenant)))
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()
	if cfg.VectorStore.Type == "memory" {
		fmt.Fprintln(os.Stderr, color.YellowString("Warning: the memory vector store is discarded on exit; use 'corpus chat %s' or a qdrant/pgvector store", strings.Join(args, " ")))
	}
	return indexPaths(ctx, a.service, args)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := buildApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	question := strings.Join(args, " ")
	opts := retrieval(!queryNoSources)
	if !queryStream {
		answer, err := a.service.Query(ctx, tenant, question, opts...)
		if err != nil {
			return err
		}
		fmt.Println(answer.Text)
		printFooter(answer)
		return nil
	}

	for e := range a.service.QueryStream(ctx, tenant, question, opts...) {
		switch e.Type {
		case service.EventToken:
			fmt.Print(e.Token)
		case service.EventDone:
			fmt.Println()
			printFooter(e.Answer)
		case service.EventError:
			if service.Canceled(e.Err) {
				return e.Err
			}
			fmt.Println(e.Answer.Text)
			return e.Err
		}
	}
	return ctx.Err()
}

func printFooter(a *service.Answer) {
	fmt.Println()
	fmt.Println(color.HiBlackString("confidence: %s", a.Confidence))
	for i, s := range a.Sources {
		fmt.Printf("%s %s %s\n", color.YellowString("[%d]", i+1), s.DocumentSource, color.HiBlackString("(%.2f)", s.Score))
	}
	for _, w := range a.Warnings {
		fmt.Println(color.HiBlackString("warning: %s", w))
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := buildApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	if !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
		return errors.New("chat needs an interactive terminal; use 'corpus query' instead")
	}
	if len(args) > 0 {
		if err := indexPaths(ctx, a.service, args); err != nil {
			return err
		}
	}
	m := tui.New(a.service, tenant, retrieval(true)...)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	ids := args
	if deleteByPath {
		ids = make([]string, len(args))
		for i, p := range args {
			doc, err := loader.LoadFile(p)
			if err != nil {
				return err
			}
			ids[i] = doc.ID
		}
	}

	err = a.service.DeleteDocumentVectors(ctx, tenant, ids...)
	var delErr *domain.DeleteError
	if errors.As(err, &delErr) {
		fmt.Println(color.YellowString("Deleted %d of %d document(s); retry: %s",
			len(ids)-len(delErr.Failures), len(ids), strings.Join(delErr.FailedIDs(), " ")))
		return err
	}
	if err != nil {
		return err
	}
	fmt.Println(color.GreenString("Deleted vectors of %d document(s) from %s", len(ids), pipeline.CollectionName(tenant)))
	return nil
}

func runDrop(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	a.service.DeleteTenant(ctx, tenant)
	fmt.Println(color.GreenString("Dropped %s", pipeline.CollectionName(tenant)))
	return nil
}
