package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/burrowhq/burrow/pkg/types"
	"github.com/burrowhq/burrow/pkg/workload"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Validate a workload spec file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := workload.LoadFile(args[0])
		if err != nil {
			var verrs types.ValidationErrors
			if errors.As(err, &verrs) {
				for _, v := range verrs {
					fmt.Printf("  ✗ %s: %s\n", v.Field, v.Message)
				}
			}
			return err
		}

		for _, w := range specs {
			fmt.Printf("  ✓ %s (%s)\n", w.ID, w.Image)
		}
		fmt.Printf("%d workload(s) valid\n", len(specs))
		return nil
	},
}
