package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/goforj/cachefn"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

var errMiss = errors.New("key not found")

func newKeyCmd() *cobra.Command {
	var (
		hash   bool
		useCEL bool
	)
	cmd := &cobra.Command{
		Use:   "key TEMPLATE [name=value ...]",
		Short: "Render a key template the way a wrapper would",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			template := args[0]
			params := make([]cachefn.Param, 0, len(args)-1)
			call := cachefn.Args{}
			for _, pair := range args[1:] {
				name, value, ok := strings.Cut(pair, "=")
				if !ok {
					return errors.Newf("argument %q is not name=value", pair)
				}
				params = append(params, cachefn.Required(name))
				call = call.Kw(name, parseValue(value))
			}
			bound, err := cachefn.Func(params...).Bind("key", nil, false, call)
			if err != nil {
				return err
			}

			var formatter cachefn.KeyFormatter = &cachefn.TemplateFormatter{}
			if useCEL {
				formatter = &cachefn.CELFormatter{}
			}
			if hash {
				formatter = &cachefn.HashingFormatter{Inner: formatter}
			}
			key, err := formatter.Format(template, bound)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().BoolVar(&hash, "hash", false, "hash keys that are too long or contain whitespace")
	cmd.Flags().BoolVar(&useCEL, "cel", false, "evaluate placeholders as CEL expressions")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the stored payload for KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connection(cmd.Context())
			if err != nil {
				return err
			}
			body, ok, err := conn.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.Wrapf(errMiss, "%q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}

func newSetCmd(a *app) *cobra.Command {
	var ttl string
	cmd := &cobra.Command{
		Use:   "set KEY PAYLOAD",
		Short: "Store PAYLOAD under KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := str2duration.ParseDuration(ttl)
			if err != nil {
				return errors.Wrapf(err, "parse --ttl %q", ttl)
			}
			if d <= 0 {
				return errors.Wrapf(cachefn.ErrInvalidTTL, "--ttl %q", ttl)
			}
			conn, err := a.connection(cmd.Context())
			if err != nil {
				return err
			}
			if err := conn.SetEx(cmd.Context(), args[0], d, []byte(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s for %s\n", args[0], str2duration.String(d))
			return nil
		},
	}
	cmd.Flags().StringVar(&ttl, "ttl", "1h", "expiry, e.g. 90s, 15m or 1d")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Remove KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connection(cmd.Context())
			if err != nil {
				return err
			}
			if err := conn.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the loaded registry with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := a.registry.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// parseValue turns integer literals into ints and None into nil so format
// specs like {id:05d} behave as they do for typed arguments.
func parseValue(raw string) any {
	if raw == cachefn.NoneToken {
		return nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}
