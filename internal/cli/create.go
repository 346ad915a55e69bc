package cli

import (
	"context"
	"fmt"
	"io"

	v1 "github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/handlers/v1"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type CreateJobOptions struct {
	GlobalOptions

	BlobID          string
	SchemaID        string
	SchemaVersion   string
	ClientRequestID string
}

func DefaultCreateJobOptions() *CreateJobOptions {
	return &CreateJobOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdCreate() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a resource",
	}
	cmd.AddCommand(NewCmdCreateJob())
	return cmd
}

func NewCmdCreateJob() *cobra.Command {
	o := DefaultCreateJobOptions()
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit a document for processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *CreateJobOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.BlobID, "blob-id", o.BlobID, "Identifier of the uploaded document")
	fs.StringVar(&o.SchemaID, "schema", o.SchemaID, "Target schema")
	fs.StringVar(&o.SchemaVersion, "schema-version", o.SchemaVersion, "Target schema version")
	fs.StringVar(&o.ClientRequestID, "request-id", o.ClientRequestID, "Idempotency key, generated when empty")
}

func (o *CreateJobOptions) Complete(cmd *cobra.Command, args []string) error {
	if o.ClientRequestID == "" {
		o.ClientRequestID = uuid.NewString()
	}
	return nil
}

func (o *CreateJobOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	switch {
	case o.BlobID == "":
		return fmt.Errorf("--blob-id is required")
	case o.SchemaID == "":
		return fmt.Errorf("--schema is required")
	case o.SchemaVersion == "":
		return fmt.Errorf("--schema-version is required")
	}
	return nil
}

func (o *CreateJobOptions) Run(ctx context.Context, out io.Writer) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	reply, err := c.CreateJob(ctx, v1.CreateJobForm{
		BlobID:          o.BlobID,
		ClientRequestID: o.ClientRequestID,
		SchemaID:        o.SchemaID,
		SchemaVersion:   o.SchemaVersion,
	})
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}

	if reply.IsNewJob {
		_, err = fmt.Fprintf(out, "job/%s created\n", reply.JobID)
	} else {
		_, err = fmt.Fprintf(out, "job/%s already exists for request %s\n", reply.JobID, o.ClientRequestID)
	}
	return err
}
