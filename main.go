package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tournevent/skydrop-bridge/internal/server"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"go.uber.org/zap"
)

var version = "0.0.1"

var envFiles []string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "skydrop-bridge",
	Short:   "Skydropx quotation and shipment bridge for storefront orders",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	RunE:  runServe,
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Quote a parcel from the configured origin to a destination",
	RunE:  runQuote,
}

var trackCmd = &cobra.Command{
	Use:   "track <carrier> <tracking-number>",
	Short: "Show tracking events for a shipment",
	Args:  cobra.ExactArgs(2),
	RunE:  runTrack,
}

var quoteDest shipper.Address

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files loaded before the environment (default .env)")

	quoteCmd.Flags().StringVar(&quoteDest.CountryCode, "country", "mx", "destination country code")
	quoteCmd.Flags().StringVar(&quoteDest.PostalCode, "postal-code", "", "destination postal code")
	quoteCmd.Flags().StringVar(&quoteDest.AreaLevel1, "state", "", "destination state")
	quoteCmd.Flags().StringVar(&quoteDest.AreaLevel2, "city", "", "destination city or municipality")
	quoteCmd.Flags().StringVar(&quoteDest.AreaLevel3, "neighborhood", "", "destination neighborhood")
	_ = quoteCmd.MarkFlagRequired("postal-code")

	rootCmd.AddCommand(serveCmd, quoteCmd, trackCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	a.logger.Info("Starting Skydropx bridge",
		zap.Int("port", a.cfg.Port),
		zap.String("version", a.cfg.Version),
		zap.Bool("mock", a.cfg.SkydropxUseMock),
	)

	srv := server.New(server.Config{
		Port:           a.cfg.Port,
		WebhookTimeout: a.cfg.WebhookTimeout,
	}, a.checkout, a.registry, a.metrics, a.logger)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runQuote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	q, err := a.quotes.CreateAndAwait(ctx, &shipper.QuotationRequest{
		From:     a.cfg.Origin(),
		To:       quoteDest,
		Parcel:   a.cfg.Parcel(),
		Carriers: a.cfg.RequestedCarriers,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "quotation %s\n", q.ID)
	fmt.Fprintln(w, "RATE\tCARRIER\tSERVICE\tTOTAL\tDAYS\tSTATUS")
	for _, r := range q.Rates {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%d\t%s\n", r.ID, r.Provider, r.ServiceName, r.Total.StringFixed(2), r.Currency, r.Days, status)
	}
	return w.Flush()
}

func runTrack(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	info, err := a.checkout.Track(ctx, args[1], args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
