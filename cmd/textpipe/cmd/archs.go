package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/textpipe/internal/arch"
)

// archsCmd lists the registered architectures.
var archsCmd = &cobra.Command{
	Use:   "archs",
	Short: "List the architectures of the selected backend",
	Long: `List detection and recognition architectures with their default input
shape, normalization and weight URL.

Examples:
  textpipe archs
  textpipe archs --task detection
  textpipe --backend pytorch archs --format yaml`,
	Args: cobra.NoArgs,
	RunE: runArchs,
}

func init() {
	rootCmd.AddCommand(archsCmd)
	archsCmd.Flags().String("task", "", "only list this task (detection, recognition)")
	addOutputFlags(archsCmd, outputFormatText, outputFormatJSON, outputFormatYAML)
}

type archOut struct {
	Name   string      `json:"name"   yaml:"name"`
	Task   string      `json:"task"   yaml:"task"`
	Family string      `json:"family" yaml:"family"`
	Config arch.Config `json:"config" yaml:"config"`
}

func runArchs(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd, outputFormatText, outputFormatJSON, outputFormatYAML)
	if err != nil {
		return err
	}
	tasks := []arch.Task{arch.TaskDetection, arch.TaskRecognition}
	if name, _ := cmd.Flags().GetString("task"); name != "" {
		task, err := arch.ParseTask(name)
		if err != nil {
			return err
		}
		tasks = []arch.Task{task}
	}

	reg := arch.Active()
	var out []archOut
	for _, task := range tasks {
		for _, d := range reg.Descriptors(task) {
			out = append(out, archOut{Name: string(d.Name), Task: d.Task.String(), Family: d.Family.String(), Config: d.Config})
		}
	}

	return withOutput(cmd, func(w io.Writer) error {
		if format != outputFormatText {
			return encode(w, format, out)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(tw, "NAME\tTASK\tFAMILY\tINPUT (HxWxC)\tBATCH\n")
		for _, a := range out {
			s := a.Config.InputShape
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%dx%d\t%d\n", a.Name, a.Task, a.Family, s.H, s.W, s.C, a.Config.BatchSize)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "\nbackend: %s\n", reg.Backend())
		return err
	})
}
