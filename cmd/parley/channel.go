package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/models"
)

func newChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage provider sending numbers",
	}

	cmd.AddCommand(newChannelAddCmd())
	cmd.AddCommand(newChannelListCmd())
	cmd.AddCommand(newChannelRotateCmd())
	return cmd
}

func newChannelAddCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "add <provider-number-id>",
		Short: "Attach a provider credential to a channel",
		Long:  "Prompts for the provider access token, encrypts it with the vault key and marks the channel connected. The token never touches the config file or the process arguments.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelCredential(cmd, configPath, args[0], false)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}

func newChannelRotateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rotate <provider-number-id>",
		Short: "Replace a channel's provider credential",
		Long:  "Prompts for a new access token and re-encrypts it, restoring a channel that was degraded by a revoked or corrupt credential.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelCredential(cmd, configPath, args[0], true)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}

func runChannelCredential(cmd *cobra.Command, configPath, providerNumberID string, rotate bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	v, err := openVault(cfg)
	if err != nil {
		return err
	}

	var channel models.Channel
	err = gormDB.Where("provider_number_id = ?", providerNumberID).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("channel %q not found; add it to the config and run `parley db init`", providerNumberID)
	}
	if err != nil {
		return fmt.Errorf("find channel %q: %w", providerNumberID, err)
	}
	if rotate && channel.EncryptedCredential == "" {
		fmt.Fprintf(out, "Channel %s has no credential yet; storing a fresh one.\n", channel.PhoneNumber)
	}

	token, err := promptSecret(cmd, "Provider access token: ")
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("empty token")
	}

	encrypted, err := v.Encrypt(token)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}

	now := time.Now()
	err = gormDB.Model(&models.Channel{}).Where("id = ?", channel.ID).
		Updates(map[string]interface{}{
			"encrypted_credential": encrypted,
			"status":               models.ChannelConnected,
			"active":               true,
			"connected_at":         now,
		}).Error
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}

	fmt.Fprintf(out, "Channel %s (%s) connected.\n", channel.PhoneNumber, providerNumberID)
	return nil
}

// promptSecret reads a secret without echo when stdin is a terminal, and
// falls back to a plain line read for piped input.
func promptSecret(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newChannelListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List provisioned channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}

func runChannelList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	var channels []models.Channel
	if err := gormDB.Order("id").Find(&channels).Error; err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NUMBER\tNAME\tPROVIDER ID\tSTATUS\tCREDENTIAL")
	for _, ch := range channels {
		cred := "-"
		if ch.EncryptedCredential != "" {
			cred = "set"
		}
		status := ch.Status
		if !ch.Active {
			status += " (inactive)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ch.PhoneNumber, ch.DisplayName, ch.ProviderNumberID, status, cred)
	}
	return w.Flush()
}
