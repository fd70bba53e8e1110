package admin

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pengine/pengine/internal/cryptox"
	"github.com/pengine/pengine/internal/server/services"
)

// ErrMismatch is returned by verify when the password does not match.
var ErrMismatch = errors.New("password does not match")

func (a *App) newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Print a PBKDF2 digest of a password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := a.password(cmd, "Password: ")
			if err != nil {
				return err
			}
			d, err := a.hasher.Hash(pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hash: %s\nsalt: %s\n", d.Hash, d.Salt)
			return nil
		},
	}
}

func (a *App) newVerifyCmd() *cobra.Command {
	var hash, salt string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a password against a stored digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := a.password(cmd, "Password: ")
			if err != nil {
				return err
			}
			if !a.hasher.Verify(pw, hash, salt) {
				return ErrMismatch
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&hash, "hash", "", "stored hash (base64)")
	cmd.Flags().StringVar(&salt, "salt", "", "stored salt (base64)")
	_ = cmd.MarkFlagRequired("hash")
	_ = cmd.MarkFlagRequired("salt")
	return cmd
}

func (a *App) newStrengthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strength",
		Short: "Check a password against the account password policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := a.password(cmd, "Password: ")
			if err != nil {
				return err
			}
			if err := services.CheckPasswordStrength(pw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func (a *App) newTOTPCmd() *cobra.Command {
	totp := &cobra.Command{
		Use:   "totp",
		Short: "TOTP secret and code utilities",
	}

	var issuer, label, secret string

	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate a new base32 secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := cryptox.NewTOTP().GenerateSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}

	uriCmd := &cobra.Command{
		Use:   "uri",
		Short: "Print the otpauth:// provisioning URI for a secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			iss := issuer
			if iss == "" {
				iss = a.v.GetString("totp.issuer")
			}
			fmt.Fprintln(cmd.OutOrStdout(), cryptox.NewTOTP().ProvisioningURI(secret, label, iss))
			return nil
		},
	}
	uriCmd.Flags().StringVar(&label, "label", "", "account label, usually the username")
	uriCmd.Flags().StringVar(&issuer, "issuer", "", "issuer (default $PENGINE_TOTP_ISSUER or PEngineV)")
	_ = uriCmd.MarkFlagRequired("label")

	codeCmd := &cobra.Command{
		Use:   "code",
		Short: "Print the current code for a secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := cryptox.NewTOTP().CodeAt(secret, a.now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}

	for _, c := range []*cobra.Command{uriCmd, codeCmd} {
		c.Flags().StringVar(&secret, "secret", "", "base32 secret")
		_ = c.MarkFlagRequired("secret")
	}

	totp.AddCommand(secretCmd, uriCmd, codeCmd)
	return totp
}

// payloadJSON is the printable form of a protected payload.
type payloadJSON struct {
	Ciphertext string `json:"ciphertext"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Tag        string `json:"tag"`
}

func (a *App) newProtectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protect",
		Short: "Encrypt standard input under a password and print the payload as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plain, err := readAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			pw, err := a.password(cmd, "Content password: ")
			if err != nil {
				return err
			}
			p, err := a.cipher.Encrypt([]byte(plain), pw)
			if err != nil {
				return err
			}
			e := p.Encode()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(payloadJSON{Ciphertext: e.Ciphertext, Salt: e.Salt, Nonce: e.Nonce, Tag: e.Tag})
		},
	}
}

func (a *App) newUnprotectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unprotect",
		Short: "Decrypt a JSON payload read from standard input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var pj payloadJSON
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&pj); err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			pw, err := a.password(cmd, "Content password: ")
			if err != nil {
				return err
			}
			e := cryptox.EncodedPayload{Ciphertext: pj.Ciphertext, Salt: pj.Salt, Nonce: pj.Nonce, Tag: pj.Tag}
			p, err := e.Decode()
			if err != nil {
				return err
			}
			plain, err := a.cipher.Decrypt(p, pw)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(plain)
			return err
		},
	}
}
