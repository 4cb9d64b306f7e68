package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	pantry "github.com/randalmurphal/pantry-go"
	"github.com/randalmurphal/pantry-go/api"
)

func newRegisterCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register <name>",
		Short: "Register this machine with the daemon and save credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			if client.Registered() {
				return fmt.Errorf("already registered as %s", client.Identity().UserID)
			}

			info, err := client.Register(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("registered %s as %s\n", info.Name, info.ID)
			return nil
		},
	}
}

func newPermissionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Show the grants attached to this client",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			perms, err := client.RefreshPermissions(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(perms)
		},
	}
	cmd.AddCommand(newPermissionsRequestCmd(a))
	return cmd
}

func newPermissionsRequestCmd(a *app) *cobra.Command {
	var requested pantry.Permissions
	var wait bool

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Ask the operator for additional grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			status, err := client.RequestPermissions(cmd.Context(), requested)
			if err != nil {
				return err
			}
			fmt.Printf("request %s: %s\n", status.ID, status.Status)

			if wait && !status.Status.Terminal() {
				settled, err := client.AwaitRequest(cmd.Context(), status.ID, 0)
				if err != nil {
					return err
				}
				fmt.Printf("request %s: %s\n", settled.ID, settled.Status)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&requested.CreateSession, "session", false, "prompt session access")
	flags.BoolVar(&requested.ViewModels, "view", false, "model listing access")
	flags.BoolVar(&requested.LoadModel, "load", false, "model load access")
	flags.BoolVar(&requested.UnloadModel, "unload", false, "model unload access")
	flags.BoolVar(&requested.DownloadModel, "download", false, "model download access")
	flags.BoolVar(&requested.BareModel, "bare", false, "bare connector access")
	flags.BoolVar(&wait, "wait", false, "poll until the operator settles the request")
	return cmd
}

func newModelsCmd(a *app) *cobra.Command {
	var runningOnly bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models the daemon knows about",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()

			if runningOnly {
				running, err := client.RunningModels(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "ID\tUUID\tCONNECTOR")
				for _, m := range running {
					fmt.Fprintf(w, "%s\t%s\t%s\n", m.Model.ID, m.UUID, m.Model.ConnectorType)
				}
				return nil
			}

			models, err := client.Models(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "ID\tNAME\tDOWNLOADED\tRUNNING")
			for _, m := range models {
				fmt.Fprintf(w, "%s\t%s\t%v\t%v\n", m.ID, m.Name, m.Downloaded, m.Running)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&runningOnly, "running", false, "only live instances")
	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <model-id>",
		Short: "Load a downloaded model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			running, err := client.LoadModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("loaded %s as %s\n", running.Model.ID, running.UUID)
			return nil
		},
	}
}

func newUnloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unload <model-id>",
		Short: "Unload a running model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			return client.UnloadModel(cmd.Context(), args[0])
		},
	}
}

func newDownloadCmd(a *app) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "download <registry-entry.json>",
		Short: "Download the model a registry entry file describes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var entry api.RegistryEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			status, err := client.DownloadModel(cmd.Context(), entry)
			if err != nil {
				return err
			}
			fmt.Printf("download %s: request %s\n", entry.ID, status.ID)

			if wait {
				settled, err := client.AwaitRequest(cmd.Context(), status.ID, 5*time.Second)
				if err != nil {
					return err
				}
				fmt.Printf("download %s: %s\n", entry.ID, settled.Status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the download settles")
	return cmd
}

func newBareCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bare <model-id>",
		Short: "Expose a model's raw connector endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			bare, err := client.BareModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if bare.SocketPath != "" {
				fmt.Println(bare.SocketPath)
			} else {
				fmt.Println(bare.Endpoint)
			}
			return nil
		},
	}
}

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "schema {entry|permissions|filter}",
		Short:     "Print the JSON schema for a hand-written document",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"entry", "permissions", "filter"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var schema any
			switch args[0] {
			case "entry":
				schema = api.RegistryEntrySchema()
			case "permissions":
				schema = api.PermissionsSchema()
			case "filter":
				schema = api.ModelFilterSchema()
			default:
				return fmt.Errorf("unknown schema %q", args[0])
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(schema)
		},
	}
}
