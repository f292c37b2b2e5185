package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/openhms/hms-client/api"
	"github.com/openhms/hms-client/credentials"
	"github.com/openhms/hms-client/internal/config"
	"github.com/openhms/hms-client/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// appContext bundles the wired client core. Exactly one is built per
// invocation, mirroring the single-session-per-app invariant.
type appContext struct {
	client  *api.Client
	session *session.Store
	log     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	cfg := config.New()

	var (
		baseURL string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:           "hmsctl",
		Short:         "Command-line client for the hospital management API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&baseURL, "base-url", cfg.GetBaseURL(), "HMS API base URL")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	build := func() (*appContext, error) {
		return buildAppContext(cfg, baseURL, verbose)
	}

	cmd.AddCommand(
		newLoginCmd(build),
		newLogoutCmd(build),
		newWhoamiCmd(build),
		newGetCmd(build),
	)
	return cmd
}

func buildAppContext(cfg config.Config, baseURL string, verbose bool) (*appContext, error) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	credPath, err := credentials.DefaultPath()
	if err != nil {
		return nil, err
	}
	store, err := credentials.NewFileStore(credPath)
	if err != nil {
		return nil, err
	}

	client, err := api.New(baseURL, store,
		api.WithLogger(logger),
		api.WithTimeout(cfg.GetRequestTimeout()),
	)
	if err != nil {
		return nil, err
	}

	sess, err := session.New(client, store, session.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &appContext{client: client, session: sess, log: logger}, nil
}

func newLoginCmd(build func() (*appContext, error)) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the HMS backend",
		Long:  "Exchange a username and password for a credential pair and store it for later calls.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build()
			if err != nil {
				return err
			}

			if username == "" {
				username, err = prompt("Username: ")
				if err != nil {
					return err
				}
			}
			if password == "" {
				password, err = prompt("Password: ")
				if err != nil {
					return err
				}
			}

			if err := app.session.Login(cmd.Context(), username, password); err != nil {
				return err
			}

			user := app.session.CurrentUser()
			fmt.Printf("Logged in as %s (%s)\n", user.Username, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username (prompted if omitted)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted if omitted)")
	return cmd
}

func newLogoutCmd(build func() (*appContext, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored credential pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build()
			if err != nil {
				return err
			}
			app.session.Logout()
			fmt.Println("Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(build func() (*appContext, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current authenticated user",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build()
			if err != nil {
				return err
			}

			if err := app.session.Bootstrap(cmd.Context()); err != nil {
				return err
			}
			user := app.session.CurrentUser()
			if user == nil {
				fmt.Println("Not logged in")
				return nil
			}

			fmt.Printf("%s (%s)\n", user.Username, user.Role)
			if user.Email != "" {
				fmt.Printf("  email:  %s\n", user.Email)
			}
			if len(user.Groups) > 0 {
				fmt.Printf("  groups: %s\n", strings.Join(user.Groups, ", "))
			}
			return nil
		},
	}
}

func newGetCmd(build func() (*appContext, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Issue an authenticated GET request and print the JSON response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build()
			if err != nil {
				return err
			}

			var out any
			if err := app.client.Get(cmd.Context(), args[0], &out); err != nil {
				return err
			}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func prompt(label string) (string, error) {
	fmt.Print(label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
