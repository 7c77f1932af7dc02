package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

type normalizeOptions struct {
	kind   string
	output string
	strict bool
}

// normalizeOutput is the -o json document.
type normalizeOutput struct {
	Samples   []domain.ClassifiedSample `json:"samples,omitempty"`
	Incidents []incidentView            `json:"incidents,omitempty"`
	Errors    []domain.ValidationError  `json:"errors"`
}

type incidentView struct {
	domain.IncidentRecord
	Dispatch bool `json:"dispatch"`
}

func newNormalizeCmd() *cobra.Command {
	opts := normalizeOptions{}
	cmd := &cobra.Command{
		Use:   "normalize <file>",
		Short: "Normalize a feed payload and print the classified records",
		Long: `Run a saved feed payload through the same normalizer trafficd uses.

Telemetry records are printed with their vehicle total and congestion level,
incidents with severity and whether they would trigger a dispatch. Dropped
records are listed with the field and reason. Use "-" to read stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNormalize(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.kind, "kind", "k", string(domain.SourceTelemetry), "payload kind (telemetry, incidents)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "output format (table, json)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit non-zero when any record is dropped")
	return cmd
}

func runNormalize(cmd *cobra.Command, path string, opts normalizeOptions) error {
	kind := domain.SourceKind(opts.kind)
	if kind != domain.SourceTelemetry && kind != domain.SourceIncidents {
		return fmt.Errorf("unknown kind %q: use telemetry or incidents", opts.kind)
	}

	body, err := readInput(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	res := domain.Normalize(domain.RawPayload{
		Source:    path,
		Kind:      kind,
		Body:      body,
		FetchedAt: time.Now().UTC(),
	})

	out := normalizeOutput{Errors: res.Errors}
	for _, s := range res.Samples {
		out.Samples = append(out.Samples, domain.Classify(s))
	}
	for _, rec := range res.Incidents {
		rec.Severity = domain.ClassifySeverity(rec)
		out.Incidents = append(out.Incidents, incidentView{IncidentRecord: rec, Dispatch: domain.QualifiesForDispatch(rec)})
	}
	if out.Errors == nil {
		out.Errors = []domain.ValidationError{}
	}

	switch opts.output {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	case "table":
		printTable(cmd.OutOrStdout(), kind, out)
		for _, verr := range out.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "dropped %s\n", verr.Error())
		}
	default:
		return fmt.Errorf("unknown output format %q", opts.output)
	}

	if opts.strict && len(res.Errors) > 0 {
		return fmt.Errorf("%d record(s) dropped", len(res.Errors))
	}
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("payload file %s does not exist", path)
	}
	return body, err
}

func printTable(w io.Writer, kind domain.SourceKind, out normalizeOutput) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	if kind == domain.SourceTelemetry {
		fmt.Fprintln(tw, "SOURCE\tTIMESTAMP\tCARS\tMOTORCYCLES\tBUSES\tTRUCKS\tTOTAL\tCONGESTION")
		for _, s := range out.Samples {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
				s.SourceID, s.Timestamp.Format(time.RFC3339Nano),
				s.CarCount, s.MotorcycleCount, s.BusCount, s.TruckCount,
				s.TotalVehicles, s.Congestion)
		}
		return
	}

	fmt.Fprintln(tw, "ID\tTYPE\tSEVERITY\tSTATUS\tLOCATION\tDISPATCH")
	for _, inc := range out.Incidents {
		label := string(inc.Type)
		if inc.TypeLabel != "" {
			label = inc.TypeLabel
		}
		where := inc.Location
		if where == "" && inc.Geo != nil {
			where = fmt.Sprintf("%.5f,%.5f", inc.Geo.Lat, inc.Geo.Lon)
		}
		dispatch := "no"
		if inc.Dispatch {
			dispatch = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			inc.ID, label, inc.Severity, inc.Status, where, dispatch)
	}
}
