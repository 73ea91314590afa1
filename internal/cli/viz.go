package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rebasectl/rebasectl/internal/repomodel"
)

func init() {
	rootCmd.AddCommand(vizCmd)
}

var vizCmd = &cobra.Command{
	Use:   "viz",
	Short: "Visualize the branch stack",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, repoDir, err := newService()
		if err != nil {
			return err
		}

		model, err := repomodel.Build(cmd.Context(), svc.Adapter, repoDir, trunkNames(svc.Config.TrunkBranches))
		if err != nil {
			return err
		}

		printStack(model)
		return nil
	},
}

func trunkNames(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func printStack(model *repomodel.Model) {
	var roots []string
	for _, ref := range model.AllRefs() {
		if node := model.Branch(ref); node != nil && node.IsTrunk {
			roots = append(roots, ref)
		}
	}

	for _, root := range roots {
		node := model.Branch(root)
		fmt.Printf("[%s %s]\n", root, short(node.HeadSha))
		printChildren(model, root, "")
	}
}

func printChildren(model *repomodel.Model, parent string, prefix string) {
	parentNode := model.Branch(parent)
	if parentNode == nil {
		return
	}
	for i, childRef := range parentNode.Children {
		child := model.Branch(childRef)
		if child == nil {
			continue
		}
		isLast := i == len(parentNode.Children)-1
		connector := "├── "
		childPrefix := prefix + "│   "
		if isLast {
			connector = "└── "
			childPrefix = prefix + "    "
		}
		fmt.Printf("%s%s%s %s\n", prefix, connector, child.Ref, short(child.HeadSha))
		printChildren(model, child.Ref, childPrefix)
	}
}
