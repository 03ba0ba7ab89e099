package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/subman/config"
	"github.com/teranos/subman/integrate"
	"github.com/teranos/subman/logger"
	"github.com/teranos/subman/project"
	"github.com/teranos/subman/source"
	"github.com/teranos/subman/txn"
)

// openProject loads the configuration of --root and opens the project
func openProject(cmd *cobra.Command) (*project.Project, error) {
	root, _ := cmd.Flags().GetString("root")
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return project.Open(root, cfg, project.WithLogger(logger.ComponentLogger("project")))
}

func newEngine(p *project.Project) *integrate.Engine {
	resolver := source.NewResolver(p.Config(), source.WithLogger(logger.ComponentLogger("source")))
	executor := txn.NewExecutor(txn.WithLogger(logger.ComponentLogger("txn")))
	return integrate.New(resolver, executor, integrate.WithLogger(logger.ComponentLogger("integrate")))
}

func addSourceFlags(cmd *cobra.Command, f *sourceFlags) {
	cmd.Flags().StringVarP(&f.source, "source", "s", "", "Where the pallet comes from: a git remote or a local crate directory (default: the registry)")
	cmd.Flags().StringVar(&f.constraint, "version", "", "Version requirement, e.g. ^4.0.0 (default: latest)")
	cmd.Flags().StringVar(&f.ref, "ref", "", "Git branch, tag or commit")
	cmd.Flags().StringVar(&f.registry, "registry", "", "Named cargo registry instead of crates.io")
	cmd.Flags().StringSliceVarP(&f.features, "features", "F", nil, "Crate features to enable")
}
