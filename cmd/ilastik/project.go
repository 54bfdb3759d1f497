package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/FynnBe/ilastik/internal/core/project"
)

func newProjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Inspect project files and project stores",
	}
	cmd.AddCommand(newProjectInfoCmd(a), newProjectListCmd(a), newProjectCopyCmd(a), newProjectGetCmd(a))
	return cmd
}

// projectInfo is the printable summary of a project.
type projectInfo struct {
	ID        string           `yaml:"id"`
	Name      string           `yaml:"name"`
	Workflow  string           `yaml:"workflow"`
	Version   string           `yaml:"version"`
	Timestamp time.Time        `yaml:"timestamp"`
	Images    []string         `yaml:"images,omitempty"`
	Drawer    int              `yaml:"selected_drawer"`
	Tags      []string         `yaml:"tags,omitempty"`
	Applets   map[string][]int `yaml:"applets"` // slot count, bytes
}

func summarize(p *project.Project) projectInfo {
	info := projectInfo{
		ID:        p.ID,
		Name:      p.Name,
		Workflow:  p.Workflow,
		Version:   p.Version,
		Timestamp: p.Timestamp,
		Images:    p.Metadata.ImageNames,
		Drawer:    p.Metadata.SelectedDrawer,
		Tags:      p.Metadata.Tags,
		Applets:   map[string][]int{},
	}
	for applet, slots := range p.Applets {
		n := 0
		for _, b := range slots {
			n += len(b)
		}
		info.Applets[applet] = []int{len(slots), n}
	}
	return info
}

func printInfo(out io.Writer, info projectInfo, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(info); err != nil {
			return err
		}
		return enc.Close()
	case "text":
	default:
		return fmt.Errorf("unknown format %q (text or yaml)", format)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", info.ID)
	fmt.Fprintf(tw, "name\t%s\n", info.Name)
	fmt.Fprintf(tw, "workflow\t%s\n", info.Workflow)
	fmt.Fprintf(tw, "version\t%s\n", info.Version)
	fmt.Fprintf(tw, "saved\t%s\n", info.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(tw, "images\t%v\n", info.Images)
	fmt.Fprintf(tw, "drawer\t%d\n", info.Drawer)
	names := make([]string, 0, len(info.Applets))
	for n := range info.Applets {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		fmt.Fprintf(tw, "applet %s\t%d slots, %d bytes\n", n, info.Applets[n][0], info.Applets[n][1])
	}
	return tw.Flush()
}

func newProjectInfoCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Show what a project file contains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p project.Project
			if err := a.ser.ReadFile(args[0], &p); err != nil {
				return err
			}
			return printInfo(cmd.OutOrStdout(), summarize(&p), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "text or yaml")
	return cmd
}

func newProjectListCmd(a *app) *cobra.Command {
	var f project.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore, err := a.openStore(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer closeStore()
			list, err := store.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tWORKFLOW\tSAVED")
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Workflow, p.Timestamp.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.Workflow, "workflow", "", "only projects of this workflow")
	fl.StringVar(&f.Name, "name", "", "only projects with this name")
	fl.StringSliceVar(&f.Tags, "tag", nil, "only projects carrying every tag")
	fl.IntVar(&f.Limit, "limit", 0, "maximum number of projects")
	fl.IntVar(&f.Offset, "offset", 0, "projects to skip")
	return cmd
}

func newProjectCopyCmd(a *app) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "copy <file>",
		Short: "Copy a project file into a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p project.Project
			if err := a.ser.ReadFile(args[0], &p); err != nil {
				return err
			}
			store, closeStore, err := a.openStore(cmd.Context(), to)
			if err != nil {
				return err
			}
			defer closeStore()
			if err := store.Save(cmd.Context(), &p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "copied %s (%s)\n", p.ID, p.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target store (default the configured store)")
	return cmd
}

func newProjectGetCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Write a stored project to a project file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.openStore(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer closeStore()
			p, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			path := out
			if path == "" {
				path = p.ID + ".ilp"
			}
			if err := a.ser.WriteFile(path, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <id>.ilp)")
	return cmd
}
