package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pricedesk/internal/docingest"
	"github.com/sells-group/pricedesk/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file> [file...]",
	Short: "Ingest pricing documents synchronously",
	Long:  "Registers each file as a source document and runs extraction and offer persistence in-process, without the job queue.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		vendor, _ := cmd.Flags().GetString("vendor")
		processorName, _ := cmd.Flags().GetString("processor")
		clearExisting, _ := cmd.Flags().GetBool("clear-existing")

		var preferLLM *bool
		if cmd.Flags().Changed("prefer-llm") {
			v, _ := cmd.Flags().GetBool("prefer-llm")
			preferLLM = &v
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Ingest.Workers)

		for _, arg := range args {
			path := arg
			g.Go(func() error {
				name := processorName
				if name == "" {
					p := env.Registry.Match(path)
					if p == nil {
						return eris.Errorf("no processor recognizes %s", filepath.Base(path))
					}
					name = p.Name()
				}

				abs, err := filepath.Abs(path)
				if err != nil {
					return eris.Wrapf(err, "resolve %s", path)
				}

				doc := &model.SourceDocument{
					FileName:    filepath.Base(abs),
					FileType:    strings.TrimPrefix(filepath.Ext(abs), "."),
					StoragePath: abs,
					Status:      model.DocumentStatusQueued,
					Extra:       model.DocumentExtra{DeclaredVendor: vendor},
				}
				if err := env.Store.CreateDocument(gctx, doc); err != nil {
					return err
				}

				res, err := env.Orchestrator.Ingest(gctx, docingest.Params{
					Document:      doc,
					ProcessorName: name,
					VendorName:    vendor,
					FilePath:      abs,
					PreferLLM:     preferLLM,
					ClearExisting: clearExisting,
				})
				if err != nil {
					return err
				}

				zap.L().Info("document ingested",
					zap.String("file", doc.FileName),
					zap.String("document_id", res.DocumentID),
					zap.String("status", string(res.Status)),
					zap.Int("offers", res.OffersCount))
				fmt.Fprintf(os.Stdout, "%s: %s (%s)\n", doc.FileName, res.Message, res.Status)
				for _, w := range res.Warnings {
					fmt.Fprintf(os.Stderr, "  warning: %s\n", w)
				}
				return nil
			})
		}

		return g.Wait()
	},
}

func init() {
	ingestCmd.Flags().String("vendor", "", "vendor name for offers without their own")
	ingestCmd.Flags().String("processor", "", "processor name (default: match by file extension)")
	ingestCmd.Flags().Bool("prefer-llm", false, "prefer LLM extraction over heuristics")
	ingestCmd.Flags().Bool("clear-existing", false, "delete the document's prior offers before ingesting")
	rootCmd.AddCommand(ingestCmd)
}
