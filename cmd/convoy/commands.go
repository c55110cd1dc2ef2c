package main

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"convoy/internal/carpool"
	blobrepo "convoy/internal/repository/blob"
	"convoy/internal/resolver"
)

var (
	acceptGzip     bool
	acceptEncoding string
	userAgent      string
	showTerminals  bool
)

var buildCmd = &cobra.Command{
	Use:   "build <source-dir>",
	Short: "Collect a source tree and run the pipeline over it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.Build(cmd.Context(), args[0])
		if rep != nil {
			out := cmd.OutOrStdout()
			for _, res := range rep.Produced {
				if res.Name != res.Original {
					fmt.Fprintf(out, "Post-processed '%s' as '%s'\n", res.Original, res.Name)
				}
			}
			for _, res := range rep.Failed {
				fmt.Fprintf(out, "Post-processing '%s' failed: %v\n", res.Original, res.Err)
			}
			if showTerminals {
				terms := rep.Terminals()
				for _, in := range slices.Sorted(maps.Keys(terms)) {
					fmt.Fprintf(out, "Serving '%s' from '%s'\n", in, terms[in])
				}
			}
			fmt.Fprintf(out, "%d produced, %d skipped, %d failed\n", len(rep.Produced), rep.Skipped, len(rep.Failed))
		}
		if err != nil {
			return err
		}
		if len(rep.Failed) > 0 {
			return fmt.Errorf("%d inputs failed post-processing", len(rep.Failed))
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>...",
	Short: "Print the URL served for each asset name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		hints := requestHints(a.Resolver)
		for _, name := range args {
			fmt.Fprintln(cmd.OutOrStdout(), a.Resolver.Resolve(name, hints))
		}
		return nil
	},
}

var chainCmd = &cobra.Command{
	Use:   "chain <name>",
	Short: "Print every link of an asset's chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(a.Resolver.Chain(args[0], acceptGzip), " > "))
		return nil
	},
}

var pathCmd = &cobra.Command{
	Use:   "path <name>",
	Short: "Print the local file backing an asset's terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		local, ok := a.Store.(blobrepo.LocalPather)
		if !ok {
			return fmt.Errorf("%s storage has no local files", a.Config.Storage.Backend)
		}
		p, err := local.Path(a.Resolver.Terminus(args[0], false, acceptGzip))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

var carpoolCmd = &cobra.Command{
	Use:   "carpool <css|js> <name>...",
	Short: "Render the tags for a combined set of assets",
	Long: `Render the markup for an ordered set of assets, combining them into one
asset when possible. Names may also be given as a single comma or newline
separated argument.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := args[0]
		if format != carpool.FormatCSS && format != carpool.FormatJS {
			return fmt.Errorf("%w: %q", carpool.ErrUnknownFormat, format)
		}
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		paths := carpool.ParseMembers(strings.Join(args[1:], "\n"))
		out, err := a.Directive.Render(cmd.Context(), format, paths, requestHints(a.Resolver))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

// requestHints builds hints from the simulated request flags.
func requestHints(r *resolver.Resolver) resolver.Hints {
	h := http.Header{}
	enc := acceptEncoding
	if acceptGzip && enc == "" {
		enc = "gzip"
	}
	if enc != "" {
		h.Set("Accept-Encoding", enc)
	}
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	return r.HintsFromHeader(h)
}

func init() {
	for _, c := range []*cobra.Command{resolveCmd, carpoolCmd} {
		c.Flags().BoolVar(&acceptGzip, "gzip", false, "simulate a client that accepts gzip")
		c.Flags().StringVar(&acceptEncoding, "accept-encoding", "", "simulated Accept-Encoding header")
		c.Flags().StringVar(&userAgent, "user-agent", "", "simulated User-Agent header")
	}
	buildCmd.Flags().BoolVar(&showTerminals, "terminals", false, "print the final name of every renamed input")
	chainCmd.Flags().BoolVar(&acceptGzip, "gzip", false, "include gzip variants")
	pathCmd.Flags().BoolVar(&acceptGzip, "gzip", false, "use the gzip terminal")
}
