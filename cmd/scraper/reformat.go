package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/kchongee/listing-crawler/pipeline"
	"github.com/kchongee/listing-crawler/store"
)

var reformatOpts = pipeline.ReformatOptions{
	Input:          "vendors_name_contact",
	Output:         "reformatted_vendors_name_contact",
	NameColumn:     "name",
	ContactColumns: []string{"whatsapp_number", "phonecall_number"},
	ContactHeader:  "contact_number",
}

var reformatCmd = &cobra.Command{
	Use:   "reformat",
	Short: "Rewrites a vendor file with several contact columns as one name,contact row per number.",
	RunE: func(cmd *cobra.Command, args []string) error {
		csvStore, err := store.NewCSVStore(cfg.DataDir, slog.Default())
		if err != nil {
			return err
		}

		start := time.Now()
		n, err := pipeline.Reformat(csvStore, reformatOpts)
		if err != nil {
			return err
		}
		slog.Info("reformat finished",
			slog.String("output", csvStore.Path(reformatOpts.Output)),
			slog.Int("rows", n),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil
	},
}

func init() {
	flags := reformatCmd.Flags()
	flags.StringVar(&reformatOpts.Input, "input", reformatOpts.Input, "Input file id in the data dir")
	flags.StringVar(&reformatOpts.Output, "output", reformatOpts.Output, "Output file id in the data dir")
	flags.StringVar(&reformatOpts.NameColumn, "name-column", reformatOpts.NameColumn, "Column holding the vendor name")
	flags.StringSliceVar(&reformatOpts.ContactColumns, "contact-columns", reformatOpts.ContactColumns, "Columns holding contact numbers, in output order")
	flags.StringVar(&reformatOpts.ContactHeader, "contact-header", reformatOpts.ContactHeader, "Header of the contact column in the output")
	rootCmd.AddCommand(reformatCmd)
}
