package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/brlink/internal/protocol"
	"github.com/muurk/brlink/internal/ui"
)

// Frame building flags shared by encode and send
var (
	frameID         uint16
	frameSrc        uint8
	frameDst        uint8
	framePayloadHex string
	framePayload    string
)

func addFrameFlags(cmd *cobra.Command) {
	cmd.Flags().Uint16Var(&frameID, "id", 0, "Message id (default: generated)")
	cmd.Flags().Uint8Var(&frameSrc, "src", 0, "Source device id (default: device.id from config)")
	cmd.Flags().Uint8Var(&frameDst, "dst", 0, "Destination device id")
	cmd.Flags().StringVar(&framePayloadHex, "payload-hex", "", "Payload as hex (spaces and colons allowed)")
	cmd.Flags().StringVar(&framePayload, "payload", "", "Payload as text")
	cmd.MarkFlagsMutuallyExclusive("payload-hex", "payload")
}

// buildFrame assembles a sealed message from the frame flags.
func buildFrame(cmd *cobra.Command) (*protocol.Message, error) {
	payload := []byte(framePayload)
	if framePayloadHex != "" {
		p, err := parseHex(framePayloadHex)
		if err != nil {
			return nil, fmt.Errorf("invalid --payload-hex: %w", err)
		}
		payload = p
	}

	id := frameID
	if !cmd.Flags().Changed("id") {
		id = protocol.GenerateMessageID()
	}
	src := cfg.Device.ID
	if cmd.Flags().Changed("src") {
		src = frameSrc
	}

	return protocol.NewMessage(id, src, frameDst, payload)
}

// parseHex decodes hex text, ignoring whitespace, colons and an optional
// 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, s)
	return hex.DecodeString(s)
}

// Encode command flags
var encodeOut string

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode a frame",
	Long: `Build a frame and print it as hex.

The checksum is computed for you. With --out the raw frame bytes are
written to a file instead.`,
	Example: `  # Encode a three byte payload from device 0x01 to 0x02
  brlink encode --id 1 --src 0x01 --dst 0x02 --payload-hex "10 20 30"

  # Write the raw frame to a file
  brlink encode --dst 2 --payload "hello" --out hello.bin`,
	RunE: runEncode,
}

func init() {
	addFrameFlags(encodeCmd)
	encodeCmd.Flags().StringVarP(&encodeOut, "out", "o", "", "Write raw frame bytes to file")
	rootCmd.AddCommand(encodeCmd)
}

func runEncode(cmd *cobra.Command, args []string) error {
	msg, err := buildFrame(cmd)
	if err != nil {
		return err
	}
	frame := msg.View().Bytes()

	if encodeOut != "" {
		if err := os.WriteFile(encodeOut, frame, 0644); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(frame), encodeOut)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(frame))
	return nil
}

// Decode command flags
var (
	decodeHex  bool
	decodeDump bool
	decodeJSON bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file|-]",
	Short: "Decode frames from a file or stdin",
	Long: `Feed bytes through a single decoder and print every frame found.

Bytes outside frames are skipped. Frames with a bad checksum are printed
and marked invalid. Reads stdin when no file (or "-") is given.`,
	Example: `  # Decode a capture file
  brlink decode capture.bin

  # Decode hex text
  echo "42 52 03 00 01 00 01 02 10 20 30 fb 00" | brlink decode --hex`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeHex, "hex", false, "Input is hex text")
	decodeCmd.Flags().BoolVar(&decodeDump, "dump", false, "Print a hex dump of each frame")
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "Print one JSON object per frame")
	rootCmd.AddCommand(decodeCmd)
}

// decodeSummary counts what a decode run found.
type decodeSummary struct {
	Frames         int    `json:"frames"`
	ChecksumErrors int    `json:"checksum_errors"`
	OversizeFrames int    `json:"oversize_frames"`
	SkippedBytes   int    `json:"skipped_bytes"`
	Incomplete     string `json:"incomplete,omitempty"`
}

// decodedFrame is the --json form of a frame.
type decodedFrame struct {
	MessageID   uint16 `json:"message_id"`
	SrcDeviceID uint8  `json:"src_device_id"`
	DstDeviceID uint8  `json:"dst_device_id"`
	Length      uint16 `json:"payload_length"`
	Checksum    uint16 `json:"checksum"`
	Valid       bool   `json:"valid"`
	PayloadHex  string `json:"payload_hex"`
}

func runDecode(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if decodeHex {
		if data, err = parseHex(string(data)); err != nil {
			return fmt.Errorf("invalid hex input: %w", err)
		}
	}

	var opts []protocol.DecoderOption
	if cfg.Link.MaxPayloadLength > 0 {
		opts = append(opts, protocol.WithMaxPayloadLength(cfg.Link.MaxPayloadLength))
	}

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	summary := decodeStream(data, opts, func(msg *protocol.Message, valid bool) {
		switch {
		case decodeJSON:
			v := msg.View()
			_ = enc.Encode(decodedFrame{
				MessageID:   v.MessageID,
				SrcDeviceID: v.SrcDeviceID,
				DstDeviceID: v.DstDeviceID,
				Length:      v.PayloadLength,
				Checksum:    v.Checksum,
				Valid:       valid,
				PayloadHex:  v.PayloadHex(),
			})
		default:
			fmt.Fprintln(out, ui.RenderMessage(msg, valid))
			if decodeDump {
				fmt.Fprintln(out, ui.RenderDump(msg))
			}
		}
	})

	if decodeJSON {
		return writeJSON(cmd.ErrOrStderr(), summary)
	}

	line := fmt.Sprintf("%d frames, %d checksum errors, %d oversize, %d bytes skipped",
		summary.Frames, summary.ChecksumErrors, summary.OversizeFrames, summary.SkippedBytes)
	if summary.Incomplete != "" {
		line += ", input ends " + summary.Incomplete
	}
	fmt.Fprintln(cmd.ErrOrStderr(), ui.MetaStyle.Render(line))
	return nil
}

// decodeStream feeds data through one decoder byte by byte and reports
// every finished frame to emit.
func decodeStream(data []byte, opts []protocol.DecoderOption, emit func(*protocol.Message, bool)) decodeSummary {
	var summary decodeSummary
	dec := protocol.NewDecoder(opts...)

	for _, b := range data {
		msg, err := dec.ParseByte(b)
		var cerr *protocol.ChecksumError
		switch {
		case errors.Is(err, protocol.ErrInvalidStartByte):
			summary.SkippedBytes++
		case errors.As(err, &cerr):
			summary.ChecksumErrors++
			emit(cerr.Message, false)
		case errors.Is(err, protocol.ErrPayloadTooLarge):
			summary.OversizeFrames++
		case msg != nil:
			summary.Frames++
			emit(msg, true)
		}
	}

	if st := dec.State(); st != protocol.StateAwaitingStart1 {
		summary.Incomplete = "in " + st.String()
	}
	return summary
}

func writeJSON(w io.Writer, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
