package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricedesk/internal/model"
	"github.com/sells-group/pricedesk/internal/store"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Inspect ingested source documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List source documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		docs, err := st.ListDocuments(ctx, store.DocumentFilter{
			Status: model.DocumentStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "documents list")
		}

		if len(docs) == 0 {
			fmt.Fprintln(os.Stderr, "No documents found.")
			return nil
		}

		formatDocumentsList(os.Stdout, docs)
		return nil
	},
}

var documentsShowCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Show a document with its offers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		doc, err := st.GetDocument(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "documents show")
		}
		if doc == nil {
			return eris.Errorf("document %s not found", args[0])
		}

		offers, err := st.ListDocumentOffers(ctx, doc.ID)
		if err != nil {
			return eris.Wrap(err, "documents show")
		}

		out := struct {
			*model.SourceDocument
			Offers []model.Offer `json:"offers"`
		}{doc, offers}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func formatDocumentsList(w io.Writer, docs []model.SourceDocument) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tTYPE\tSTATUS\tCREATED")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.FileName, d.FileType, d.Status,
			d.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func init() {
	documentsListCmd.Flags().String("status", "", "filter by status (queued, processing, processed, processed_with_warnings, failed)")
	documentsListCmd.Flags().Int("limit", 50, "max number of documents to display")
	documentsListCmd.Flags().Int("offset", 0, "number of documents to skip")

	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsShowCmd)
	rootCmd.AddCommand(documentsCmd)
}
