// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "keyctl",
		Short: "Address Key Service CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("KEYCTL_API_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
		SilenceUsage: true,
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set KEYCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(addressesCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(publicKeysCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "keyctl version %s\n", version)
		},
	}
}

type addressKey struct {
	KeyID      string `json:"key_id"`
	Primary    bool   `json:"primary"`
	CanEncrypt bool   `json:"can_encrypt"`
}

type skippedKey struct {
	KeyID  string `json:"key_id"`
	Reason string `json:"reason"`
}

type address struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	Order        int          `json:"order"`
	Status       string       `json:"status"`
	PrimaryKeyID string       `json:"primary_key_id"`
	Keys         []addressKey `json:"keys"`
	Skipped      []skippedKey `json:"skipped"`
}

// addressesCmd はアドレス関連のコマンド。
func addressesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "addresses",
		Short: "Resolve addresses",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all resolvable addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodGet, "/v1/addresses", http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}

			var result struct {
				Addresses []address `json:"addresses"`
				Failures  []struct {
					AddressID string `json:"address_id"`
					Email     string `json:"email"`
					Reason    string `json:"reason"`
				} `json:"failures"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tORDER\tSTATUS\tKEYS")
			for _, a := range result.Addresses {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n", a.ID, a.Email, a.Order, a.Status, len(a.Keys))
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
			for _, f := range result.Failures {
				fmt.Fprintln(cmd.OutOrStdout(), color.RedString("unresolved %s (%s): %s", f.AddressID, f.Email, f.Reason))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <address-id>",
		Short: "Resolve one address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printAddress(cmd.OutOrStdout(), "/v1/addresses/"+url.PathEscape(args[0]))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Resolve the default address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printAddress(cmd.OutOrStdout(), "/v1/addresses/default")
		},
	})
	return cmd
}

func printAddress(out io.Writer, path string) error {
	body, err := call(http.MethodGet, path, http.StatusOK)
	if err != nil {
		return err
	}
	if output == "json" {
		fmt.Fprintln(out, string(body))
		return nil
	}

	var a address
	if err := json.Unmarshal(body, &a); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Fprintf(out, "%s <%s> order=%d status=%s\n", a.ID, a.Email, a.Order, a.Status)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\tKEY_ID\tCAN_ENCRYPT")
	for _, k := range a.Keys {
		fmt.Fprintf(w, "%s\t%s\t%t\n", primaryMarker(k.Primary), k.KeyID, k.CanEncrypt)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	for _, s := range a.Skipped {
		fmt.Fprintln(out, color.YellowString("skipped %s: %s", s.KeyID, s.Reason))
	}
	return nil
}

// keysCmd は解錠済み鍵のコマンド。
func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect unlocked address keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <address-id>",
		Short: "List fingerprints of the unlocked keys of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodGet, "/v1/addresses/"+url.PathEscape(args[0])+"/keys", http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}

			var result struct {
				Keys []struct {
					Fingerprint string `json:"fingerprint"`
					Primary     bool   `json:"primary"`
				} `json:"keys"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			for _, k := range result.Keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", primaryMarker(k.Primary), k.Fingerprint)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "invalidate <address-id>",
		Short: "Drop cached keys of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := call(http.MethodDelete, "/v1/addresses/"+url.PathEscape(args[0])+"/keys", http.StatusAccepted); err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), "{}")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Invalidated cached keys for address %q\n", args[0])
			}
			return nil
		},
	})
	return cmd
}

// publicKeysCmd は公開鍵のコマンド。
func publicKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "public-keys",
		Short: "Resolve recipient public keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <email>",
		Short: "Get public keys of a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodGet, "/v1/public-keys/"+url.PathEscape(args[0]), http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}

			var result struct {
				Keys []struct {
					Fingerprint string `json:"fingerprint"`
					ArmoredKey  string `json:"armored_key"`
					CanEncrypt  bool   `json:"can_encrypt"`
				} `json:"keys"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			if len(result.Keys) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No public keys for %s\n", args[0])
				return nil
			}
			for _, k := range result.Keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s can_encrypt=%t\n%s\n", k.Fingerprint, k.CanEncrypt, strings.TrimSpace(k.ArmoredKey))
			}
			return nil
		},
	})
	return cmd
}

func primaryMarker(primary bool) string {
	if primary {
		return color.GreenString("*")
	}
	return " "
}

// call はAPIを呼び出し、期待したステータスでなければエラーを返す。
func call(method, path string, wantStatus int) ([]byte, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("--api-url is required (or set KEYCTL_API_URL)")
	}

	req, err := http.NewRequest(method, strings.TrimRight(apiURL, "/")+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s", errResp.Message)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
