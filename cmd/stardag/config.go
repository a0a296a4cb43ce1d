package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stardag-dev/stardag-registry/sdk/client"
)

var (
	profileWorkspaceSlug string
	profileEnvironmentID string
	profileRegistry      string

	targetRootsEnvironmentID string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage local profiles and target roots",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := client.LoadConfig()
		if err != nil {
			return err
		}
		profile, ok := cfg.Profile("")
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "No active profile.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "profile:     %s\n", profile.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "registry:    %s\n", profile.Registry)
		fmt.Fprintf(cmd.OutOrStdout(), "workspace:   %s\n", profile.WorkspaceSlug)
		fmt.Fprintf(cmd.OutOrStdout(), "environment: %s\n", profile.EnvironmentID)
		return nil
	},
}

var configProfileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage named profiles",
}

var configProfileAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or update a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := client.LoadConfig()
		if err != nil {
			return err
		}
		cfg.Upsert(client.Profile{
			Name:          args[0],
			Registry:      profileRegistry,
			BaseURL:       profileRegistry,
			WorkspaceSlug: profileWorkspaceSlug,
			EnvironmentID: profileEnvironmentID,
		})
		if cfg.DefaultProfile == "" {
			cfg.DefaultProfile = args[0]
		}
		return cfg.Save()
	},
}

var configProfileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := client.LoadConfig()
		if err != nil {
			return err
		}
		for _, p := range cfg.Profiles {
			marker := "  "
			if p.Name == cfg.DefaultProfile {
				marker = "* "
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s (%s)\n", marker, p.Name, p.Registry)
		}
		return nil
	},
}

var configProfileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the default profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := client.LoadConfig()
		if err != nil {
			return err
		}
		if _, ok := cfg.Profile(args[0]); !ok {
			return fmt.Errorf("no such profile: %s", args[0])
		}
		cfg.DefaultProfile = args[0]
		return cfg.Save()
	},
}

var configProfileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := client.LoadConfig()
		if err != nil {
			return err
		}
		cfg.Remove(args[0])
		return cfg.Save()
	},
}

var configTargetRootsCmd = &cobra.Command{
	Use:   "target-roots",
	Short: "Manage the local target-root cache",
}

var configTargetRootsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached target roots for the active profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := client.LoadConfig()
		if err != nil {
			return err
		}
		profile, ok := cfg.Profile("")
		if !ok {
			return fmt.Errorf("no active profile; run `stardag auth login` first")
		}
		roots, err := client.LoadTargetRoots(profile.Registry, profile.WorkspaceSlug, profile.EnvironmentID)
		if err != nil {
			return err
		}
		for _, r := range roots {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", r.Name, r.URI)
		}
		return nil
	},
}

var configTargetRootsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the local target-root cache from the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := client.LoadConfig()
		if err != nil {
			return err
		}
		profile, ok := cfg.Profile("")
		if !ok {
			return fmt.Errorf("no active profile; run `stardag auth login` first")
		}
		envID := targetRootsEnvironmentID
		if envID == "" {
			envID = profile.EnvironmentID
		}
		token, _, err := client.CachedAccessToken(profile.Registry, profile.WorkspaceSlug, envID)
		if err != nil {
			return err
		}
		if apiKey, ok := client.TokenFromEnv(); ok {
			token = apiKey
		}
		c := client.New(profile.Registry, token)
		roots, err := client.ListTargetRoots(ctx, c, profile.WorkspaceSlug, envID)
		if err != nil {
			return fmt.Errorf("fetch target roots: %w", err)
		}
		if err := client.SaveTargetRoots(profile.Registry, profile.WorkspaceSlug, envID, roots); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced %d target root(s)\n", len(roots))
		return nil
	},
}

func init() {
	configProfileAddCmd.Flags().StringVar(&profileRegistry, "registry", "", "registry base URL")
	configProfileAddCmd.Flags().StringVar(&profileWorkspaceSlug, "workspace", "", "workspace slug or id")
	configProfileAddCmd.Flags().StringVar(&profileEnvironmentID, "environment", "", "environment id")

	configTargetRootsSyncCmd.Flags().StringVar(&targetRootsEnvironmentID, "environment", "", "environment id (defaults to the active profile's)")

	configProfileCmd.AddCommand(configProfileAddCmd, configProfileListCmd, configProfileUseCmd, configProfileRemoveCmd)
	configTargetRootsCmd.AddCommand(configTargetRootsListCmd, configTargetRootsSyncCmd)
	configCmd.AddCommand(configShowCmd, configProfileCmd, configTargetRootsCmd)
}
