package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newHoldingCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holding",
		Short: "オーナーが所有するゲームの在庫を管理します",
	}
	cmd.AddCommand(newHoldingAddCommand(e), newHoldingResizeCommand(e), newHoldingRemoveCommand(e))
	return cmd
}

func newHoldingAddCommand(e *env) *cobra.Command {
	var (
		ownerID int64
		gameID  int64
		copies  int
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "在庫を登録します",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			holding, err := a.Inventory.Add(cmd.Context(), ownerID, gameID, copies)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), holding)
		},
	}
	cmd.Flags().Int64Var(&ownerID, "owner", 0, "オーナーのユーザーID")
	cmd.Flags().Int64Var(&gameID, "game", 0, "ゲームID")
	cmd.Flags().IntVar(&copies, "copies", 1, "所有部数")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("game")
	return cmd
}

func newHoldingResizeCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "resize <holding-id> <copies>",
		Short: "所有部数を変更します",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			copies, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid copies %q", args[1])
			}

			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			holding, err := a.Inventory.Resize(cmd.Context(), id, copies)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), holding)
		},
	}
}

func newHoldingRemoveCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <holding-id>",
		Short: "在庫を削除します",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Inventory.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "holding %d removed\n", id)
			return nil
		},
	}
}
