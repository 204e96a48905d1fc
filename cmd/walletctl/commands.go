package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/better-wallet/extension-wallet/internal/app"
	"github.com/better-wallet/extension-wallet/internal/relay"
	"github.com/better-wallet/extension-wallet/pkg/types"
)

type rootOptions struct {
	addr      string
	token     string
	tokenFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "walletctl",
		Short:         "Control a running walletd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", envOr("WALLETD_ADDR", "http://127.0.0.1:8080"), "walletd base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("WALLETD_UI_TOKEN"), "UI token")
	root.PersistentFlags().StringVar(&opts.tokenFile, "token-file", envOr("WALLETD_UI_TOKEN_FILE", "walletd-ui.token"),
		"file holding the UI token walletd generated, read when --token is empty")

	root.AddCommand(
		newStatusCmd(opts),
		newInstallCmd(opts),
		newUnlockCmd(opts),
		newLogoutCmd(opts),
		newSaveCmd(opts),
		newAccountsCmd(opts),
		newRequestsCmd(opts),
		newNotificationsCmd(opts),
		newQRCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *rootOptions) client() *client {
	token := o.token
	if token == "" && o.tokenFile != "" {
		if raw, err := os.ReadFile(o.tokenFile); err == nil {
			token = strings.TrimSpace(string(raw))
		}
	}
	return newClient(o.addr, token)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session state and the screen the UI would route to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st app.Status
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/v1/session", nil, &st); err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func newInstallCmd(opts *rootOptions) *cobra.Command {
	var seedHex string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Create the wallet",
		Long:  "Create the wallet from a password read from the terminal. Without --seed a random seed is generated.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("New wallet password: ", cmd.InOrStdin())
			if err != nil {
				return err
			}
			body := map[string]string{"password": password}
			if seedHex != "" {
				body["seed"] = seedHex
			}

			var acc app.AccountView
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/session/install", body, &acc); err != nil {
				return err
			}
			return printJSON(cmd, acc)
		},
	}
	cmd.Flags().StringVar(&seedHex, "seed", "", "0x-prefixed hex seed to restore")
	return cmd
}

func newUnlockCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Wallet password: ", cmd.InOrStdin())
			if err != nil {
				return err
			}
			var st app.Status
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/session/unlock", map[string]string{"password": password}, &st); err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Lock the wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/session/logout", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "locked")
			return nil
		},
	}
}

func newSaveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Persist the active account selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/session/save", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "saved")
			return nil
		},
	}
}

func newAccountsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage accounts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Data []app.AccountView `json:"data"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/v1/accounts", nil, &out); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, a := range out.Data {
				marker := " "
				if a.Active {
					marker = "*"
				}
				fmt.Fprintf(w, "%s %s  %s  %s\n", marker, a.ID, a.Address, a.Pseudo)
			}
			return nil
		},
	}

	create := &cobra.Command{
		Use:   "create <pseudo>",
		Short: "Create an account and make it active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var acc app.AccountView
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/accounts", map[string]string{"pseudo": args[0]}, &acc); err != nil {
				return err
			}
			return printJSON(cmd, acc)
		},
	}

	selectCmd := &cobra.Command{
		Use:   "select <id>",
		Short: "Make an account active for this session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var acc app.AccountView
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/accounts/"+url.PathEscape(args[0])+"/select", nil, &acc); err != nil {
				return err
			}
			return printJSON(cmd, acc)
		},
	}

	balance := &cobra.Command{
		Use:   "balance <id>",
		Short: "Query an account's balance from the node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var bal app.Balance
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/v1/accounts/"+url.PathEscape(args[0])+"/balance", nil, &bal); err != nil {
				return err
			}
			return printJSON(cmd, bal)
		},
	}

	cmd.AddCommand(list, create, selectCmd, balance)
	return cmd
}

func newRequestsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspect and answer client requests",
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "Show the request awaiting a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req types.ClientRequest
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/v1/requests/pending", nil, &req); err != nil {
				return err
			}
			return printJSON(cmd, req)
		},
	}

	resolve := func(use string, decision types.Decision, short string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <request-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var msg relay.DecisionMessage
				path := "/v1/requests/" + url.PathEscape(args[0]) + "/resolve"
				if err := opts.client().do(cmd.Context(), http.MethodPost, path, map[string]types.Decision{"decision": decision}, &msg); err != nil {
					return err
				}
				return printJSON(cmd, msg)
			},
		}
	}

	var origin string
	scan := &cobra.Command{
		Use:   "scan <uri>",
		Short: "Submit a " + relay.RequestURIScheme + " URI read from a QR code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req types.ClientRequest
			body := map[string]string{"uri": args[0], "origin": origin}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/requests/scan", body, &req); err != nil {
				return err
			}
			return printJSON(cmd, req)
		},
	}
	scan.Flags().StringVar(&origin, "origin", "", "origin to attribute the request to")

	cmd.AddCommand(
		pending,
		resolve("accept", types.DecisionAccept, "Accept a pending request"),
		resolve("reject", types.DecisionReject, "Reject a pending request"),
		scan,
	)
	return cmd
}

func newNotificationsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List the active account's notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Data []types.AppNotification `json:"data"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/v1/notifications", nil, &out); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, n := range out.Data {
				seen := "new "
				if n.Seen {
					seen = "    "
				}
				fmt.Fprintf(w, "%s%s  %s  %s: %s\n", seen, n.NotificationID, n.Ts.Format("2006-01-02 15:04"), n.Title, n.Message)
			}
			return nil
		},
	}

	seen := &cobra.Command{
		Use:   "seen <id>",
		Short: "Mark a notification seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.client().do(cmd.Context(), http.MethodPost, "/v1/notifications/"+url.PathEscape(args[0])+"/seen", nil, nil)
		},
	}
	cmd.AddCommand(seen)
	return cmd
}

func newQRCmd() *cobra.Command {
	var (
		data string
		out  string
		size int
	)
	cmd := &cobra.Command{
		Use:   "qr <action>",
		Short: "Render a client request as a QR code PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := relay.EncodeRequestURI(args[0], []byte(data))
			png, err := relay.RenderQR(uri, size)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "request data, usually JSON")
	cmd.Flags().StringVarP(&out, "out", "o", "request.png", "output file")
	cmd.Flags().IntVar(&size, "size", 256, "image size in pixels")
	return cmd
}
