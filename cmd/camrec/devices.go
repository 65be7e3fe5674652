package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/camrec/internal/device"
)

var devicesOutput string

type deviceListing struct {
	Backend   string        `yaml:"backend"`
	Available []string      `yaml:"available"`
	Devices   []device.Info `yaml:"devices"`
}

func listDevices(w io.Writer, format string) error {
	opts, err := deviceOptions(cfg)
	if err != nil {
		return err
	}
	rig, err := device.Open(cfg.Backend, opts)
	if err != nil {
		return err
	}
	listing := deviceListing{
		Backend:   cfg.Backend,
		Available: device.Backends(),
		Devices:   device.Describe(rig),
	}
	return writeListing(w, format, listing)
}

func writeListing(w io.Writer, format string, l deviceListing) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("encode devices: %w", err)
		}
		return enc.Close()
	case "", "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "ID\tNAME\tPOSITION\tCAMERA\n")
		for _, d := range l.Devices {
			cam := d.Camera
			if cam == "" {
				cam = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Position, cam)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (use text or yaml)", format)
	}
}
