package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vitalvas/openwire"
	"github.com/vitalvas/openwire/client"
	"github.com/vitalvas/openwire/transport"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Connect to a broker and print the negotiated wire format",
		Long: `Dial the broker through the full transport chain, wait for wire format
negotiation and the broker's BrokerInfo, print both and disconnect.

With --metrics the client metrics collected during the run are printed in
Prometheus text format on exit, also when the probe fails.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd)
		},
		RunE: runProbe,
	}

	cmd.Flags().String("url", "tcp://localhost:61616", "broker URI")
	cmd.Flags().Duration("timeout", 10*time.Second, "time to wait for the broker")
	cmd.Flags().String("username", "", "user name sent with ConnectionInfo")
	cmd.Flags().String("password", "", "password sent with ConnectionInfo")
	cmd.Flags().Bool("metrics", false, "print client metrics on exit")
	return cmd
}

func runProbe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
	defer cancel()

	opts := []client.Option{
		client.WithLogger(logger),
		client.WithCredentials(viper.GetString("username"), viper.GetString("password")),
		client.WithWatchTopicAdvisories(false),
	}
	if viper.GetBool("metrics") {
		collector := openwire.NewVictoriaMetrics()
		opts = append(opts, client.WithMetrics(collector))
		defer collector.WritePrometheus(cmd.OutOrStdout())
	}

	conn, err := client.Dial(ctx, viper.GetString("url"), opts...)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := conn.Close(closeCtx); err != nil {
			logger.Warn("close failed", openwire.LogFields{"error": err.Error()})
		}
	}()

	if neg, ok := transport.Narrow[*transport.Negotiator](conn.Transport()); ok {
		if err := neg.WaitNegotiated(ctx); err != nil {
			return fmt.Errorf("negotiate: %w", err)
		}
	}

	if err := conn.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	info, err := conn.WaitBrokerInfo(ctx)
	if err != nil {
		return fmt.Errorf("broker info: %w", err)
	}

	printProbe(cmd.OutOrStdout(), conn, info)
	return nil
}

func printProbe(w io.Writer, conn *client.Connection, info *openwire.BrokerInfo) {
	fmt.Fprintf(w, "connection: %s\n", conn.ID())

	if wf := conn.Transport().WireFormat(); wf != nil && wf.Negotiated() {
		fmt.Fprintf(w, "wire format: version=%d tight=%t cache=%t size_prefix_disabled=%t max_inactivity=%s\n",
			wf.Version(), wf.TightEncodingEnabled(), wf.CacheEnabled(), wf.SizePrefixDisabled(),
			wf.MaxInactivityDuration())
	}
	if remote := conn.BrokerWireFormatInfo(); remote != nil {
		fmt.Fprintf(w, "broker wire format: %s\n", remote)
	}

	fmt.Fprintf(w, "broker: %s\n", info.BrokerName)
	if info.BrokerID != nil {
		fmt.Fprintf(w, "broker id: %s\n", info.BrokerID)
	}
	if info.BrokerURL != "" {
		fmt.Fprintf(w, "broker url: %s\n", info.BrokerURL)
	}
	for _, peer := range info.PeerBrokerInfos {
		fmt.Fprintf(w, "peer: %s %s\n", peer.BrokerName, peer.BrokerURL)
	}
}
