package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	v1 "github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/handlers/v1"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
)

type GetOptions struct {
	GlobalOptions

	Output string
}

func DefaultGetOptions() *GetOptions {
	return &GetOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdGet() *cobra.Command {
	o := DefaultGetOptions()
	cmd := &cobra.Command{
		Use:   "get (TYPE | TYPE/ID)",
		Short: "Display one or many jobs, or the output of a job.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *GetOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *GetOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}

	if _, _, err := parseAndValidateKindId(args[0]); err != nil {
		return err
	}

	if len(o.Output) > 0 && !funk.ContainsString(legalOutputTypes, o.Output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}

	return nil
}

func (o *GetOptions) Run(ctx context.Context, out io.Writer, args []string) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	kind, id, err := parseAndValidateKindId(args[0])
	if err != nil {
		return err
	}

	var response any
	switch {
	case kind == JobKind && id != "":
		response, err = c.GetJob(ctx, id)
	case kind == JobKind:
		response, err = c.ListJobs(ctx)
	case kind == OutputKind:
		response, err = c.GetJobOutput(ctx, id)
	default:
		return fmt.Errorf("unsupported resource kind: %s", kind)
	}
	if err != nil {
		if id == "" {
			return fmt.Errorf("listing %s: %w", plural(kind), err)
		}
		return fmt.Errorf("reading %s/%s: %w", kind, id, err)
	}

	if kind == OutputKind && o.Output == "" {
		return printStructured(out, response, jsonFormat)
	}
	if o.Output != "" {
		return printStructured(out, response, o.Output)
	}
	return printTable(out, response)
}

func printStructured(out io.Writer, response any, format string) error {
	var (
		marshalled []byte
		err        error
	)
	if format == yamlFormat {
		marshalled, err = yaml.Marshal(response)
	} else {
		marshalled, err = json.MarshalIndent(response, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshalling resource: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s\n", string(marshalled))
	return err
}

func printTable(out io.Writer, response any) error {
	w := tabwriter.NewWriter(out, 0, 8, 1, '\t', 0)
	switch r := response.(type) {
	case *v1.JobReply:
		printJobsTable(w, *r)
	case []v1.JobReply:
		printJobsTable(w, r...)
	default:
		return fmt.Errorf("cannot print %T as a table", response)
	}
	return w.Flush()
}

func printJobsTable(w *tabwriter.Writer, jobs ...v1.JobReply) {
	fmt.Fprintln(w, "ID\tSTATE\tATTEMPT\tSCHEMA\tERROR")
	for _, j := range jobs {
		errCode := ""
		if j.Error != nil {
			errCode = j.Error.Code
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s@%s\t%s\n", j.JobID, j.State, j.Attempt, j.MaxAttempts, j.SchemaID, j.SchemaVersion, errCode)
	}
}
