package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/HerbHall/camlink/pkg/camera"
)

type probeFlags struct {
	spec     camera.DeviceSpec
	settings []string
	op       string
	quality  string
	output   string
}

func newProbeCmd() *cobra.Command {
	var f probeFlags
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Try the strategies against one camera without storing it",
		Long: `Probe builds a camera from flags and runs one operation through the
strategy chain, printing the outcome and every attempt as JSON.

Operations: test, connect, stream, snapshot, capabilities, status.`,
		Example: `  camlink probe --ip 192.168.1.64 --user admin --password secret --op connect
  camlink probe --ip 192.168.1.64 --op snapshot --output front.jpg`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.spec.Name, "name", "probe", "camera name")
	fl.StringVar(&f.spec.IPAddress, "ip", "", "camera IP address")
	fl.IntVar(&f.spec.Port, "port", 554, "camera port")
	fl.StringVar(&f.spec.Type, "type", "IP Camera", "camera type, e.g. Hikvision or USB Webcam")
	fl.StringVar(&f.spec.Username, "user", "", "username")
	fl.StringVar(&f.spec.Password, "password", "", "password")
	fl.StringArrayVar(&f.settings, "set", nil, "config setting as key=value, repeatable")
	fl.StringVar(&f.op, "op", "test", "operation to run")
	fl.StringVar(&f.quality, "quality", "", "stream quality: high, medium or low")
	fl.StringVarP(&f.output, "output", "o", "", "write the snapshot to this file")
	return cmd
}

func runProbe(cmd *cobra.Command, f probeFlags) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger, err := newLogger(s.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	f.spec.Config = make(map[string]string, len(f.settings))
	for _, kv := range f.settings {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("--set %q: want key=value", kv)
		}
		f.spec.Config[k] = v
	}
	dev, err := camera.NewDevice(f.spec)
	if err != nil {
		return err
	}
	quality, err := camera.ParseQuality(f.quality)
	if err != nil {
		return err
	}

	orch, set, err := buildOrchestrator(s, logger)
	if err != nil {
		return err
	}
	defer set.Close()

	ctx := cmd.Context()
	out := map[string]any{"camera": dev.String(), "op": f.op}
	var opErr error
	switch f.op {
	case "test":
		out["strategy"], opErr = orch.TestConnection(ctx, dev)
	case "connect":
		var res any
		res, opErr = orch.Connect(ctx, dev)
		out["result"] = res
		_ = orch.Disconnect(ctx, dev)
	case "stream":
		out["stream_url"], out["strategy"], opErr = orch.StreamURL(ctx, dev, quality)
	case "snapshot":
		var data []byte
		data, out["strategy"], opErr = orch.CaptureSnapshot(ctx, dev)
		if opErr == nil {
			out["bytes"] = len(data)
			out["format"] = camera.DetectImage(data)
			if f.output != "" {
				if err := os.WriteFile(f.output, data, 0o644); err != nil {
					return fmt.Errorf("write snapshot: %w", err)
				}
				out["output"] = f.output
			}
		}
	case "capabilities":
		out["capabilities"], out["strategy"], opErr = orch.Capabilities(ctx, dev)
	case "status":
		out["status"], opErr = orch.Status(ctx, dev)
	default:
		return fmt.Errorf("unknown operation %q", f.op)
	}
	if opErr != nil {
		out["error"] = camera.MaskCredentials(opErr.Error())
		out["code"] = camera.CodeOf(opErr)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if opErr != nil {
		return fmt.Errorf("%s failed: %s", f.op, camera.CodeOf(opErr))
	}
	return nil
}
