package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opengantry/gantry/pkg/catalog"
	"github.com/opengantry/gantry/pkg/state"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the catalog and desired state",
		Long: `Check the catalog documents and the desired state document: structural
shape, schema conformance, and that every declared reference names a real
entry. All problems are reported together, not one at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.NewLoader().Load(catalogDir(workDir), extensionsDir(workDir))
			if err != nil {
				return err
			}

			desired, err := state.LoadDesired(desiredPath(workDir))
			if err != nil {
				return err
			}

			// Desired names must exist in the catalog too.
			var missing []string
			for _, name := range desired.PacksEnabled {
				if _, rerr := cat.Pack(name); rerr != nil {
					missing = append(missing, rerr.Error())
				}
			}
			for _, name := range desired.ExtensionsEnabled {
				if _, rerr := cat.Extension(name); rerr != nil {
					missing = append(missing, rerr.Error())
				}
			}
			for _, sel := range desired.AssetBundles {
				if _, rerr := cat.AssetBundle(sel.Name); rerr != nil {
					missing = append(missing, rerr.Error())
				}
			}
			if len(missing) > 0 {
				for _, msg := range missing {
					fmt.Println(msg)
				}
				return fmt.Errorf("%d unknown reference(s) in desired state", len(missing))
			}

			fmt.Printf("Catalog OK: %d packs, %d extensions, %d asset bundles, %d services\n",
				len(cat.Packs), len(cat.Extensions), len(cat.AssetBundles), len(cat.Services))
			fmt.Println("Desired state OK")
			return nil
		},
	}

	return cmd
}
