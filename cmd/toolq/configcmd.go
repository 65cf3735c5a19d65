package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolq/toolq/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := config.NewManager(a.configPath)
			if err != nil {
				return err
			}
			out, err := manager.Dump()
			if err != nil {
				return err
			}
			if file := manager.FileUsed(); file != "" {
				fmt.Println(gray("# " + file))
			} else {
				fmt.Println(gray("# built-in defaults"))
			}
			fmt.Print(out)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := config.NewManager(a.configPath)
			if err != nil {
				return err
			}
			if file := manager.FileUsed(); file != "" {
				fmt.Println(file)
				return nil
			}
			fmt.Println(gray("no config file found; running on defaults"))
			return nil
		},
	})

	return cmd
}
