package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HerbHall/camlink/internal/discovery"
	"github.com/HerbHall/camlink/internal/inventory"
	"github.com/HerbHall/camlink/internal/services"
	"github.com/HerbHall/camlink/internal/store"
	"github.com/HerbHall/camlink/pkg/camera"
)

func newDiscoverCmd() *cobra.Command {
	var (
		save    bool
		noUPnP  bool
		noSNMP  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Scan the local network for cameras",
		Long: `Discover runs one mDNS and UPnP scan, identifies devices over SNMP and
prints the candidates as JSON. With --save, candidates not yet in the
inventory are added to the database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if noUPnP {
				s.Discovery.UPnP = false
			}
			if noSNMP {
				s.Discovery.SNMP = false
			}
			if timeout > 0 {
				s.Discovery.Timeout = timeout
			}
			logger, err := newLogger(s.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx := cmd.Context()

			var repo services.CameraRepository
			if save {
				db, err := store.New(s.Database.Path)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := services.Migrate(ctx, db); err != nil {
					return err
				}
				repo = services.NewSQLiteCameraRepository(db.DB())
			}

			svc := buildDiscovery(s.Discovery, repo, nil, logger)
			found, err := svc.Scan(ctx)
			if err != nil {
				return err
			}

			if save {
				var specs []camera.DeviceSpec
				for _, c := range found {
					if !c.Known {
						specs = append(specs, c.Spec())
					}
				}
				res, err := inventory.Import(ctx, repo, specs, logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %d new cameras\n", res.Created)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Candidates []discovery.Candidate `json:"candidates"`
			}{found})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "store new candidates in the inventory")
	cmd.Flags().BoolVar(&noUPnP, "no-upnp", false, "skip the UPnP scan")
	cmd.Flags().BoolVar(&noSNMP, "no-snmp", false, "skip SNMP identification")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-scanner timeout, e.g. 3s")
	return cmd
}
