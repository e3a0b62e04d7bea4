package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zflow/zflow/pkg/client"
	"github.com/zflow/zflow/shared/logger"
)

func main() {
	log := logger.NewDefault()

	var (
		apiURL  string
		dataDir string
	)

	// open builds a client over the on-disk credential store and restores
	// the saved session. The returned func closes both.
	open := func(ctx context.Context) (*client.Client, func(), error) {
		store, err := client.OpenPebbleStorage(dataDir, nil)
		if err != nil {
			return nil, nil, err
		}
		c, err := client.New(client.Config{
			BaseURL: apiURL,
			Storage: store,
			Logger:  log.Logger,
			Navigator: client.NavigatorFunc(func(string) {
				fmt.Fprintln(os.Stderr, "session expired, run `zflowctl login`")
			}),
		})
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		c.Session.Initialize(ctx)
		return c, func() {
			c.Close()
			store.Close()
		}, nil
	}

	rootCmd := &cobra.Command{
		Use:          "zflowctl",
		Short:        "ZFlow command line client",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("ZFLOW_API", "http://localhost:8080/api"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", envOr("ZFLOW_DATA_DIR", defaultDataDir()), "Credential store directory")

	// login
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = os.Getenv("ZFLOW_PASSWORD")
			}

			c, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			user, err := c.Session.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Printf("signed in as %s (%s)\n", user.Name, user.Email)
			return nil
		},
	}
	loginCmd.Flags().String("email", "", "Account email")
	loginCmd.Flags().String("password", "", "Account password (or ZFLOW_PASSWORD)")
	_ = loginCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(loginCmd)

	// logout
	rootCmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			c.Session.Logout(cmd.Context())
			fmt.Println("signed out")
			return nil
		},
	})

	// whoami
	rootCmd.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			user := c.Session.User()
			if user == nil {
				return fmt.Errorf("not signed in")
			}
			return printJSON(user)
		},
	})

	// tickets
	ticketsCmd := &cobra.Command{
		Use:   "tickets",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			search, _ := cmd.Flags().GetString("search")
			page, _ := cmd.Flags().GetInt("page")
			limit, _ := cmd.Flags().GetInt("limit")

			c, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			result, err := c.ListTickets(cmd.Context(), client.TicketQuery{
				Status:     status,
				Search:     search,
				PageNumber: page,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tCONTACT\tLAST MESSAGE\tUPDATED")
			for _, t := range result.Tickets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.ContactName, t.LastMessage, t.UpdatedAt)
			}
			tw.Flush()
			fmt.Printf("%d of %d (more: %v)\n", len(result.Tickets), result.Count, result.HasMore)
			return nil
		},
	}
	ticketsCmd.Flags().String("status", "", "Filter by status: open|pending|closed")
	ticketsCmd.Flags().String("search", "", "Search contact name, phone or last message")
	ticketsCmd.Flags().Int("page", 1, "Page number")
	ticketsCmd.Flags().Int("limit", 20, "Page size")
	rootCmd.AddCommand(ticketsCmd)

	// notifications
	notificationsCmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			markAll, _ := cmd.Flags().GetBool("mark-read")

			c, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			if markAll {
				return c.MarkAllNotificationsRead(cmd.Context())
			}

			list, err := c.ListNotifications(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(list)
		},
	}
	notificationsCmd.Flags().Bool("mark-read", false, "Mark every notification read")
	rootCmd.AddCommand(notificationsCmd)

	// send
	sendCmd := &cobra.Command{
		Use:   "send <ticket-id> [body]",
		Short: "Send a message on a ticket",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")

			var body string
			if len(args) == 2 {
				body = args[1]
			}

			c, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			var media *client.Upload
			if file != "" {
				media, err = upload(cmd.Context(), c, file)
				if err != nil {
					return err
				}
			}

			msg, err := c.SendMessage(cmd.Context(), args[0], body, media)
			if err != nil {
				return err
			}
			return printJSON(msg)
		},
	}
	sendCmd.Flags().String("file", "", "Attach a media file")
	rootCmd.AddCommand(sendCmd)

	// upload
	rootCmd.AddCommand(&cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			up, err := upload(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			return printJSON(up)
		},
	})

	// campaign start
	campaignCmd := &cobra.Command{Use: "campaign", Short: "Campaign commands"}
	campaignCmd.AddCommand(&cobra.Command{
		Use:   "start <campaign-id>",
		Short: "Start a draft campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			if err := c.StartCampaign(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("campaign queued")
			return nil
		},
	})
	rootCmd.AddCommand(campaignCmd)

	// listen
	rootCmd.AddCommand(&cobra.Command{
		Use:   "listen",
		Short: "Stream realtime events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			if c.Channel.Get() == nil {
				return fmt.Errorf("not signed in")
			}

			// subscriptions on the channel survive token refreshes
			unbind := client.BindStores(c.Channel, c.Stores, log.Logger)
			defer unbind()

			for _, event := range []string{
				client.EventNotificationCreated,
				client.EventTicketUpdated,
				client.EventMessageCreated,
			} {
				name := event
				off := c.Channel.On(name, func(data json.RawMessage) {
					fmt.Printf("%s %s\n", name, data)
				})
				defer off()
			}

			<-cmd.Context().Done()
			return nil
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func upload(ctx context.Context, c *client.Client, path string) (*client.Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.Upload(ctx, filepath.Base(path), f)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".zflow"
	}
	return filepath.Join(dir, "zflow")
}
