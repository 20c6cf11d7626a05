package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/packet"
	"github.com/srg/blelink/pkg/config"
)

func newSegmentCmd() *cobra.Command {
	var (
		text       bool
		reassemble bool
	)
	cmd := &cobra.Command{
		Use:   "segment <payload>...",
		Short: "Split a payload into segment frames, or join them back",
		Long: `Split a payload into a head frame, body frames and an end frame, one hex
frame per line. With --reassemble the arguments are frames, one per
argument, and the payload they carry is printed.

The wire format carries no payload length, so trailing zero bytes do not
survive a round trip.`,
		Example: `  blelink segment --text "hello, segmented world"
  blelink segment --reassemble a3000102...  a3ff...`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if reassemble {
				frames := make([]packet.Frame, 0, len(args))
				for i, a := range args {
					b, err := config.ParseHex(a)
					if err != nil {
						return fmt.Errorf("frame %d: %w", i, err)
					}
					frames = append(frames, b)
				}
				payload, err := packet.Reassemble(frames)
				if err != nil {
					return err
				}
				if text {
					fmt.Fprintln(out, string(payload))
				} else {
					fmt.Fprintln(out, hex.EncodeToString(payload))
				}
				return nil
			}

			var payload []byte
			if text {
				payload = []byte(strings.Join(args, " "))
			} else {
				var err error
				if payload, err = parseHexArgs(args); err != nil {
					return err
				}
			}
			frames, err := packet.Segment(payload)
			if err != nil {
				return err
			}
			for _, f := range frames {
				fmt.Fprintln(out, f)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&text, "text", "t", false, "Treat the payload as text instead of hex")
	cmd.Flags().BoolVarP(&reassemble, "reassemble", "r", false, "Join segment frames back into their payload")
	return cmd
}
