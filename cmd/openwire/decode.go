package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vitalvas/openwire"
)

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode HEX",
		Short: "Decode a hex encoded OpenWire frame",
		Long: `Unmarshal a single frame and print the command it carries. Whitespace
and colons in HEX are ignored. By default the frame is expected without its
4-byte size prefix and in tight encoding.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := decodeFrame(args[0],
				viper.GetInt32("version"),
				viper.GetBool("loose"),
				viper.GetBool("size-prefix"),
			)
			if err != nil {
				return err
			}
			if ds == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "null")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", openwire.TypeName(ds.DataStructureType()), openwire.Dump(ds))
			return nil
		},
	}

	cmd.Flags().Bool("loose", false, "frame uses loose encoding")
	cmd.Flags().Int32("version", openwire.MaxSupportedVersion, "protocol version of the frame")
	cmd.Flags().Bool("size-prefix", false, "frame starts with a 4-byte size prefix")
	return cmd
}

func decodeFrame(input string, version int32, loose, sizePrefix bool) (openwire.DataStructure, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, input)
	frame, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}

	wf := openwire.NewWireFormat(
		openwire.WithVersion(version),
		openwire.WithTightEncoding(!loose),
		openwire.WithSizePrefixDisabled(!sizePrefix),
		openwire.WithCache(0),
	)
	// Install the requested settings as if a peer had agreed to them.
	if err := wf.Renegotiate(wf.PreferredWireFormatInfo()); err != nil {
		return nil, err
	}
	return wf.UnmarshalBytes(frame)
}
