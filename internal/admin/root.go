// Package admin implements pengine-admin, an operator tool for the security
// primitives: password digests, TOTP secrets and protected content payloads.
// Secrets are read from the PENGINE_PASSWORD environment variable or a
// terminal prompt, never from positional arguments.
package admin

import (
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pengine/pengine/internal/common"
	"github.com/pengine/pengine/internal/cryptox"
	"github.com/pengine/pengine/internal/server/services"
)

// App holds the primitives the commands run against.
type App struct {
	hasher services.PasswordHasher
	cipher services.ContentCipher
	now    func() time.Time

	v   *viper.Viper
	in  io.Reader
	out io.Writer
}

// NewApp returns an App using the production parameters.
func NewApp(in io.Reader, out io.Writer) *App {
	return &App{
		hasher: cryptox.NewPasswordHasher(),
		cipher: cryptox.NewContentCipher(),
		now:    time.Now,
		v:      newViper(),
		in:     in,
		out:    out,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetDefault("totp.issuer", common.DefaultTOTPIssuer)
	return v
}

// NewRootCmd builds the command tree.
func (a *App) NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pengine-admin",
		Short:         "Operator tool for PEngine credentials and protected content",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.out)

	root.PersistentFlags().String("password", "", "password (insecure on shared hosts; prefer PENGINE_PASSWORD or the prompt)")
	_ = a.v.BindPFlag("password", root.PersistentFlags().Lookup("password"))

	root.AddCommand(
		a.newHashCmd(),
		a.newVerifyCmd(),
		a.newStrengthCmd(),
		a.newTOTPCmd(),
		a.newProtectCmd(),
		a.newUnprotectCmd(),
	)
	return root
}

// password returns the configured password or prompts for one.
func (a *App) password(cmd *cobra.Command, prompt string) (string, error) {
	if pw := a.v.GetString("password"); pw != "" {
		return pw, nil
	}
	return promptPassword(cmd.ErrOrStderr(), prompt)
}
