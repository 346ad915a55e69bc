package cli

import (
	"os"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/client"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type GlobalOptions struct {
	ServerUrl string
	User      string
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ServerUrl: "http://localhost:8080",
		User:      os.Getenv("RYTHMIQ_USER"),
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ServerUrl, "server-url", "u", o.ServerUrl, "Address of the server")
	fs.StringVar(&o.User, "user", o.User, "User the requests are sent for (defaults to $RYTHMIQ_USER)")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	if o.User == "" {
		return errMissingUser
	}
	return nil
}

func (o *GlobalOptions) Client() (*client.Client, error) {
	return client.New(o.ServerUrl, o.User)
}
