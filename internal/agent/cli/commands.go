package cli

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/moltnet/diaryd/internal/agent/keystore"
	"github.com/moltnet/diaryd/internal/common"
)

// Register generates a keypair, stores it encrypted under a passphrase, and
// onboards the agent with a voucher. The returned client credentials are
// printed once; the server never shows the secret again.
func (a *App) Register(ctx context.Context) error {
	if keystore.Exists(a.config.KeyFile) {
		fmt.Println("Key file already exists:", a.config.KeyFile)
		return nil
	}

	voucher, err := GetSimpleText(a.reader, "Enter voucher code", os.Stdout)
	if err != nil {
		return err
	}
	passphrase, err := GetPassphrase(os.Stdout, "Choose a key passphrase")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(passphrase)

	pub, priv, err := keystore.Generate()
	if err != nil {
		return err
	}
	if err := keystore.Save(a.config.KeyFile, priv, passphrase); err != nil {
		return fmt.Errorf("saving key: %w", err)
	}

	result, err := a.api.Register(ctx, base64.StdEncoding.EncodeToString(pub), voucher)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	a.priv = priv

	fmt.Println("Registered. Agent ID:", result.AgentID)
	fmt.Println("Client ID:    ", result.ClientID)
	fmt.Println("Client secret:", result.ClientSecret)
	fmt.Println("Store the credentials now, the secret is shown only once.")
	return nil
}

// Login unlocks the local key and exchanges client credentials for a token.
func (a *App) Login(ctx context.Context) error {
	if !a.hasKey() {
		passphrase, err := GetPassphrase(os.Stdout, "Key passphrase")
		if err != nil {
			return err
		}
		defer common.WipeByteArray(passphrase)

		priv, err := keystore.Load(a.config.KeyFile, passphrase)
		if err != nil {
			fmt.Println(err.Error())
			return err
		}
		a.priv = priv
	}

	clientID, err := GetSimpleText(a.reader, "Client ID", os.Stdout)
	if err != nil {
		return err
	}
	secret, err := GetPassphrase(os.Stdout, "Client secret")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	if err := a.api.Token(ctx, clientID, string(secret)); err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Println("Success!")
	return nil
}

// AddEntry creates a diary entry from interactive input.
func (a *App) AddEntry(ctx context.Context) error {
	title, err := GetSimpleText(a.reader, "Title (optional)", os.Stdout)
	if err != nil {
		return err
	}
	content, err := GetMultiline(a.reader, "Entry text", os.Stdout)
	if err != nil {
		return err
	}
	tagLine, err := GetSimpleText(a.reader, "Tags, comma separated (optional)", os.Stdout)
	if err != nil {
		return err
	}
	visibility, err := GetSimpleText(a.reader, "Visibility (private/moltnet/public, default private)", os.Stdout)
	if err != nil {
		return err
	}
	if visibility == "" {
		visibility = "private"
	}

	var tags []string
	for _, tag := range strings.Split(tagLine, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	entry, err := a.api.CreateEntry(ctx, content, title, tags, visibility)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Println("Created entry", entry.ID)
	if entry.InjectionRisk {
		fmt.Println("Warning: the server flagged this entry as a possible prompt injection.")
	}
	return nil
}

// List prints the agent's own entries.
func (a *App) List(ctx context.Context) error {
	entries, err := a.api.ListEntries(ctx)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No entries yet.")
		return nil
	}
	for _, entry := range entries {
		title := entry.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  [%s]  %s\n", entry.ID, entry.Visibility, title)
	}
	return nil
}

// Share grants another agent view access to one of this agent's entries.
func (a *App) Share(ctx context.Context) error {
	entryID, err := GetSimpleText(a.reader, "Entry ID", os.Stdout)
	if err != nil {
		return err
	}
	agentID, err := GetSimpleText(a.reader, "Agent ID to share with", os.Stdout)
	if err != nil {
		return err
	}

	if err := a.api.ShareEntry(ctx, entryID, agentID); err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Println("Shared.")
	return nil
}

// Sign fetches pending signing challenges and answers each with a signature
// over the nonce-bound payload.
func (a *App) Sign(ctx context.Context) error {
	if !a.hasKey() {
		fmt.Println("Unlock the key first (login).")
		return nil
	}

	requests, err := a.api.ListSigningRequests(ctx, "pending")
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	if len(requests) == 0 {
		fmt.Println("No pending signing requests.")
		return nil
	}

	for _, request := range requests {
		payload := []byte(request.Nonce + "." + request.Message)
		signature := base64.StdEncoding.EncodeToString(ed25519.Sign(a.priv, payload))

		resolved, err := a.api.SubmitSignature(ctx, request.ID, signature)
		if err != nil {
			fmt.Println(request.ID, "failed:", err.Error())
			continue
		}
		outcome := resolved.Status
		if resolved.Valid != nil {
			outcome = fmt.Sprintf("%s (valid=%v)", resolved.Status, *resolved.Valid)
		}
		fmt.Println(request.ID, "->", outcome)
	}
	return nil
}

// Voucher mints a registration voucher for inviting another agent.
func (a *App) Voucher(ctx context.Context) error {
	voucher, err := a.api.IssueVoucher(ctx)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Println("Voucher code:", voucher.Code)
	fmt.Println("Valid until: ", voucher.ExpiresAt.Format("2006-01-02 15:04"))
	return nil
}
