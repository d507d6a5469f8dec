package cmd

import (
	"fmt"
	"io"

	"github.com/dop251/goja"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/hostenv/internal/browser/intercept"
	"github.com/xkilldash9x/hostenv/internal/config"
	"github.com/xkilldash9x/hostenv/internal/envbuild"
	"github.com/xkilldash9x/hostenv/internal/envmodel"
	"github.com/xkilldash9x/hostenv/internal/observability"
	"github.com/xkilldash9x/hostenv/internal/resolve"
	"github.com/xkilldash9x/hostenv/internal/session"
)

// classTarget stands in for a host object of the named class.
type classTarget envmodel.ClassName

func (c classTarget) ClassTag() envmodel.ClassName { return envmodel.ClassName(c) }

func newResolveCmd() *cobra.Command {
	var op string

	resolveCmd := &cobra.Command{
		Use:   "resolve <Class> <prop>",
		Short: "Show how an access to Class.prop would be resolved",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			operation := resolve.Operation(op)
			if operation != resolve.OpGet && operation != resolve.OpSet {
				return fmt.Errorf("invalid --op %q: must be get or set", op)
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			s, closeStore, err := openStore(ctx, cfg.Profiles, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			b, err := envbuild.Preset(ctx, s, logger, cfg.Profiles.Base, cfg.Profiles.Browser, cfg.Profiles.Sites...)
			if err != nil {
				return err
			}
			sess, err := session.New(b, nil, logger)
			if err != nil {
				return err
			}
			compiler := intercept.NewCompiler(goja.New())
			for _, name := range cfg.Profiles.Bundles {
				sess.LoadBundle(ctx, s, name, compiler)
			}

			target := classTarget(args[0])
			res := sess.Engine().Resolve(operation, target, target, args[1])
			printResolution(cmd.OutOrStdout(), args[0], args[1], operation, res)
			return nil
		},
	}

	resolveCmd.Flags().StringVar(&op, "op", string(resolve.OpGet), "access type: get or set")
	resolveCmd.Flags().StringSlice("bundle", nil, "implementation bundles to load (default from config)")
	addProfileFlags(resolveCmd)
	return resolveCmd
}

func printResolution(w io.Writer, class, prop string, op resolve.Operation, res *resolve.Result) {
	if res == nil {
		fmt.Fprintf(w, "%s %s.%s: no override\n", op, class, prop)
		return
	}
	fmt.Fprintf(w, "%s %s.%s\n", op, class, prop)
	fmt.Fprintf(w, "  owner:  %s\n", res.OwningClass)
	fmt.Fprintf(w, "  key:    %s\n", res.Key)
	fmt.Fprintf(w, "  kind:   %s\n", res.Kind)
	fmt.Fprintf(w, "  method: %s\n", res.MethodType)
	fmt.Fprintf(w, "  attrs:  configurable=%t writable=%t enumerable=%t\n",
		res.Attrs.Configurable, res.Attrs.Writable, res.Attrs.Enumerable)
}
