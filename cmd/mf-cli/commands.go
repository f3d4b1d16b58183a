package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mindfry/client"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the server answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			start := time.Now()
			if err := c.System.Ping(ctx); err != nil {
				return err
			}
			fmt.Printf("PONG from %s in %v\n", cfg.Addr, time.Since(start))
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			s, err := c.System.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("lineages:  %d\n", s.LineageCount)
			fmt.Printf("bonds:     %d\n", s.BondCount)
			fmt.Printf("conscious: %d\n", s.ConsciousCount)
			fmt.Printf("energy:    %.3f\n", s.TotalEnergy)
			fmt.Printf("frozen:    %t\n", s.Frozen)
			fmt.Printf("uptime:    %v\n", time.Duration(s.UptimeSecs)*time.Second)
			return nil
		})
	},
}

// ---------------------------------------------------------------------------
// lineage
// ---------------------------------------------------------------------------

var lineageCmd = &cobra.Command{
	Use:   "lineage",
	Short: "Create, read and change lineages",
}

var lineageCreateCmd = &cobra.Command{
	Use:   "create <key> [energy]",
	Short: "Create a lineage",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		energy := float32(1.0)
		if len(args) == 2 {
			v, err := parseF32(args[1])
			if err != nil {
				return fmt.Errorf("energy: %w", err)
			}
			energy = v
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.Lineage.Create(ctx, args[0], energy); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		})
	},
}

var lineageGetFlags uint8

var lineageGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a lineage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			li, err := c.Lineage.Get(ctx, args[0], lineageGetFlags)
			if err != nil {
				return err
			}
			printLineage(li)
			return nil
		})
	},
}

var lineageStimulateCmd = &cobra.Command{
	Use:   "stimulate <key> <delta>",
	Short: "Add energy to a lineage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta, err := parseF32(args[1])
		if err != nil {
			return fmt.Errorf("delta: %w", err)
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.Lineage.Stimulate(ctx, args[0], delta); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		})
	},
}

var lineageForgetCmd = &cobra.Command{
	Use:   "forget <key>",
	Short: "Remove a lineage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.Lineage.Forget(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		})
	},
}

// ---------------------------------------------------------------------------
// bond
// ---------------------------------------------------------------------------

var bondCmd = &cobra.Command{
	Use:   "bond",
	Short: "Manage bonds between lineages",
}

var bondPolarity int8

var bondConnectCmd = &cobra.Command{
	Use:   "connect <from> <to> [strength]",
	Short: "Create a bond",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		strength := float32(1.0)
		if len(args) == 3 {
			v, err := parseF32(args[2])
			if err != nil {
				return fmt.Errorf("strength: %w", err)
			}
			strength = v
		}
		if bondPolarity < -1 || bondPolarity > 1 {
			return fmt.Errorf("polarity must be -1, 0 or 1, got %d", bondPolarity)
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.Bond.Connect(ctx, args[0], args[1], strength, client.Polarity(bondPolarity)); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		})
	},
}

var bondNeighborsCmd = &cobra.Command{
	Use:   "neighbors <key>",
	Short: "List bonds leaving a lineage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			ns, err := c.Bond.Neighbors(ctx, args[0])
			if err != nil {
				return err
			}
			if len(ns) == 0 {
				fmt.Println("(no neighbors)")
				return nil
			}
			for _, n := range ns {
				fmt.Printf("%-24s strength=%.3f learned=%t\n", n.ID, n.Strength, n.Learned)
			}
			return nil
		})
	},
}

func init() {
	lineageGetCmd.Flags().Uint8Var(&lineageGetFlags, "flags", 0, "raw GET flags passed to the server")
	lineageCmd.AddCommand(lineageCreateCmd, lineageGetCmd, lineageStimulateCmd, lineageForgetCmd)

	bondConnectCmd.Flags().Int8Var(&bondPolarity, "polarity", 1, "1 synergy, 0 neutral, -1 antagonism")
	bondCmd.AddCommand(bondConnectCmd, bondNeighborsCmd)
}

func parseF32(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

func printLineage(li client.LineageInfo) {
	fmt.Printf("id:          %s\n", li.ID)
	fmt.Printf("energy:      %.3f\n", li.Energy)
	fmt.Printf("threshold:   %.3f\n", li.Threshold)
	fmt.Printf("decay rate:  %.4f\n", li.DecayRate)
	fmt.Printf("rigidity:    %.3f\n", li.Rigidity)
	fmt.Printf("conscious:   %t\n", li.Conscious)
	fmt.Printf("last access: %s\n", time.UnixMilli(int64(li.LastAccessMs)).Format(time.RFC3339))
}
