package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/packet"
	"github.com/srg/blelink/pkg/config"
)

func newFrameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frame",
		Short: "Build and check command frames",
		Long: `Command frames are zero padded to a fixed length and end with an XOR
checksum of every byte before it. Hex arguments may contain spaces, colons
or dashes; several arguments are concatenated.`,
	}
	cmd.AddCommand(newFrameBuildCmd())
	cmd.AddCommand(newFrameCommandCmd())
	cmd.AddCommand(newFrameCheckCmd())
	return cmd
}

// parseHexArgs joins args and decodes them as one hex string.
func parseHexArgs(args []string) ([]byte, error) {
	return config.ParseHex(strings.Join(args, ""))
}

func newFrameBuildCmd() *cobra.Command {
	var length int
	cmd := &cobra.Command{
		Use:   "build <payload-hex>...",
		Short: "Pad a payload and append its checksum",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseHexArgs(args)
			if err != nil {
				return err
			}
			f, err := packet.BuildFrame(payload, length)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), f)
			return nil
		},
	}
	cmd.Flags().IntVarP(&length, "length", "l", packet.DefaultFrameLength, "Frame length in bytes, checksum included")
	return cmd
}

func newFrameCommandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "command <read|write> <code> [args-hex]...",
		Short: "Build a read (0xAA) or write (0x33) command frame",
		Example: `  blelink frame command read 0x01
  blelink frame command write 0x02 64`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := strconv.ParseUint(args[1], 0, 8)
			if err != nil {
				return fmt.Errorf("invalid command code %q: %w", args[1], err)
			}
			cmdArgs, err := parseHexArgs(args[2:])
			if err != nil {
				return err
			}

			var f packet.Frame
			switch args[0] {
			case "read":
				f, err = packet.ReadCommand(byte(code), cmdArgs...)
			case "write":
				f, err = packet.WriteCommand(byte(code), cmdArgs...)
			default:
				return fmt.Errorf("invalid command kind %q: must be read or write", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), f)
			return nil
		},
	}
}

func newFrameCheckCmd() *cobra.Command {
	var length int
	cmd := &cobra.Command{
		Use:   "check <frame-hex>...",
		Short: "Validate a frame's length and checksum",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if length < 2 {
				return fmt.Errorf("invalid frame length %d", length)
			}
			b, err := parseHexArgs(args)
			if err != nil {
				return err
			}
			if !packet.ValidateFrame(b, length) {
				if len(b) != length {
					return fmt.Errorf("%w: %d bytes, expected %d", packet.ErrInvalidFrame, len(b), length)
				}
				return fmt.Errorf("%w: checksum %02x, expected %02x",
					packet.ErrInvalidFrame, b[length-1], packet.Checksum(b[:length-1]))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "valid, payload %s\n", hex.EncodeToString(b[:length-1]))
			if length != packet.DefaultFrameLength {
				return nil
			}
			if resp, err := packet.ParseResponse(b); err == nil && (resp.IsRead() || resp.IsWrite()) {
				kind := "read"
				if resp.IsWrite() {
					kind = "write"
				}
				fmt.Fprintf(out, "%s response, code 0x%02x, args %s\n", kind, resp.Code, hex.EncodeToString(trimArgs(resp.Args)))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&length, "length", "l", packet.DefaultFrameLength, "Frame length in bytes, checksum included")
	return cmd
}
