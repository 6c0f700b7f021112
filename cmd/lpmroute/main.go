// Command lpmroute is a minimal host-process stand-in that exercises
// lpmtable's façade end to end: it loads a route file, builds a table
// with the selected engine/family/options, answers lpm queries from
// stdin, and prints Info() on request.
package main

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowbase/lpmtable"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lpmroute",
		Short: "Load a route file into an lpmtable.Table and serve lookups",
	}
	root.AddCommand(newLookupCmd())
	return root
}

func newLookupCmd() *cobra.Command {
	var (
		engineFlag string
		familyFlag string
		maxRoutes  uint32
		routesFile string
		hitCount   bool
		ipv4Rules  bool
		ipv6Flow   bool
		printInfo  bool
	)

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Build a table from a route file and answer lpm queries from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			engine, err := parseEngine(engineFlag)
			if err != nil {
				return err
			}
			family, err := parseFamily(familyFlag)
			if err != nil {
				return err
			}

			opts := []lpmtable.Option{lpmtable.WithLogger(logger)}
			if hitCount {
				opts = append(opts, lpmtable.WithHitCount())
			}
			if ipv4Rules {
				opts = append(opts, lpmtable.WithIPv4Rules())
			}
			if ipv6Flow {
				opts = append(opts, lpmtable.WithIPv6Flow())
			}

			tbl, err := lpmtable.New(engine, family, maxRoutes, opts...)
			if err != nil {
				return fmt.Errorf("create table: %w", err)
			}
			defer tbl.Close()

			if routesFile != "" {
				n, err := loadRoutes(tbl, routesFile)
				if err != nil {
					return err
				}
				logger.Info("routes loaded", zap.Int("count", n))
			}

			if printInfo {
				info := tbl.Info()
				fmt.Printf("routes=%d blocks=%d phys_bytes=%d virt_bytes=%d rules_ready=%v\n",
					info.NumRoutes, info.NumBlocks, info.PhysBytes, info.VirtBytes, info.RulesReady)
			}

			return serveLookups(cmd, tbl)
		},
	}

	cmd.Flags().StringVar(&engineFlag, "engine", "trie", "storage engine: trie or hash")
	cmd.Flags().StringVar(&familyFlag, "family", "v4", "address family: v4 or v6")
	cmd.Flags().Uint32Var(&maxRoutes, "max-routes", 1_000_000, "route capacity")
	cmd.Flags().StringVar(&routesFile, "routes", "", "path to a file of CIDR[,user_data] lines")
	cmd.Flags().BoolVar(&hitCount, "hit-count", false, "enable per-route hit counters")
	cmd.Flags().BoolVar(&ipv4Rules, "ipv4-rules", false, "enable the IPv4 24-bit rule accelerator")
	cmd.Flags().BoolVar(&ipv6Flow, "ipv6-flow", false, "enable the IPv6 destination flow cache")
	cmd.Flags().BoolVar(&printInfo, "info", false, "print Info() after loading routes")

	return cmd
}

func parseEngine(s string) (lpmtable.Engine, error) {
	switch strings.ToLower(s) {
	case "trie":
		return lpmtable.Trie, nil
	case "hash":
		return lpmtable.Hash, nil
	default:
		return 0, fmt.Errorf("unknown engine %q, want trie or hash", s)
	}
}

func parseFamily(s string) (lpmtable.Family, error) {
	switch strings.ToLower(s) {
	case "v4", "ipv4":
		return lpmtable.V4, nil
	case "v6", "ipv6":
		return lpmtable.V6, nil
	default:
		return 0, fmt.Errorf("unknown family %q, want v4 or v6", s)
	}
}

// loadRoutes reads "cidr[,user_data]" lines, one route per line.
func loadRoutes(tbl *lpmtable.Table, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open routes file: %w", err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, ",", 2)
		prefix, err := netip.ParsePrefix(fields[0])
		if err != nil {
			return n, fmt.Errorf("line %q: %w", line, err)
		}
		var userData uint64
		if len(fields) == 2 {
			userData, err = strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
			if err != nil {
				return n, fmt.Errorf("line %q: %w", line, err)
			}
		}
		if err := tbl.Add(prefix, userData); err != nil {
			return n, fmt.Errorf("line %q: %w", line, err)
		}
		n++
	}
	return n, scanner.Err()
}

// serveLookups answers one address-per-line lpm query from stdin until
// EOF, writing "length user_data" or "miss" per line.
func serveLookups(cmd *cobra.Command, tbl *lpmtable.Table) error {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		addr, err := netip.ParseAddr(line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		length, userData, err := tbl.LPM(addr)
		if err != nil {
			fmt.Fprintln(out, "miss")
			continue
		}
		fmt.Fprintf(out, "%d %d\n", length, userData)
	}
	return scanner.Err()
}
