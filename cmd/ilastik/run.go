package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FynnBe/ilastik/internal/applets/dataselection"
	"github.com/FynnBe/ilastik/internal/applets/pixelclassification"
	"github.com/FynnBe/ilastik/internal/imageio"
	"github.com/FynnBe/ilastik/internal/workflow"
)

type runOptions struct {
	workflow string
	project  string
	snapshot string
	inputs   []string
	labels   string
	drawer   int
	export   string
	slot     string
	save     string
	saveAs   string
}

func newRunCmd(a *app) *cobra.Command {
	o := runOptions{drawer: -1}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build a workflow, load data and optionally export or save the result",
		Example: `  ilastik run --input cells.png --labels labels.png --export seg.png --save cells.ilp
  ilastik run --workflow watershed --input boundaries.png --input "Seed Data=seeds.png" --export sp.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkflow(cmd.Context(), a, o, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.workflow, "workflow", "w", "pixel_classification", "builtin workflow name or path to an .hcl file")
	f.StringVarP(&o.project, "project", "p", "", "project file to open")
	f.StringVar(&o.snapshot, "snapshot", "", "project id to load from the store")
	f.StringArrayVarP(&o.inputs, "input", "i", nil, `image file, optionally "<applet>=<path>" (default applet "Input Data")`)
	f.StringVar(&o.labels, "labels", "", "label image painted into the pixel classification applet")
	f.IntVar(&o.drawer, "drawer", -1, "applet drawer to select")
	f.StringVarP(&o.export, "export", "e", "", "write the export slot as PNG")
	f.StringVar(&o.slot, "export-slot", "", `slot to export as "<applet>.<slot>" (default from the workflow)`)
	f.StringVarP(&o.save, "save", "s", "", "save the project file")
	f.StringVar(&o.saveAs, "save-snapshot", "", "save the project to the store under this name")
	return cmd
}

func runWorkflow(ctx context.Context, a *app, o runOptions, out io.Writer) error {
	log := a.log("ilastik.run")
	spec, err := workflow.Resolve(o.workflow)
	if err != nil {
		return err
	}
	w, err := workflow.Build(spec, workflow.Options{
		MaxWorkers: a.cfg.Graph.MaxWorkers,
		Logger:     a.log,
		Cache:      a.cache(),
		Serializer: a.ser,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	if a.cfg.Graph.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Graph.RequestTimeout)
		defer cancel()
	}

	if o.project != "" {
		if err := w.Shell.OpenProjectFile(ctx, o.project); err != nil {
			return err
		}
	}
	if o.snapshot != "" {
		store, closeStore, err := a.openStore(ctx, "")
		if err != nil {
			return err
		}
		err = w.Shell.LoadSnapshot(ctx, store, o.snapshot)
		closeStore()
		if err != nil {
			return err
		}
	}
	for _, in := range o.inputs {
		if err := addInput(w, in); err != nil {
			return err
		}
	}
	if o.labels != "" {
		if err := paintLabels(w, o.labels); err != nil {
			return err
		}
	}
	if o.drawer >= 0 {
		if err := w.Shell.SetSelectedAppletDrawer(o.drawer); err != nil {
			return err
		}
	}
	if err := w.Shell.Show(); err != nil {
		return err
	}

	fmt.Fprintf(out, "workflow: %s\n", spec.Workflow)
	for i, ap := range w.Shell.Applets() {
		mark := " "
		if i == w.Shell.SelectedAppletDrawer() {
			mark = "*"
		}
		fmt.Fprintf(out, " %s %d %s\n", mark, i, ap.Name())
	}
	if names := w.Shell.ImageNames(); len(names) > 0 {
		fmt.Fprintf(out, "images: %s\n", strings.Join(names, ", "))
	}

	if o.export != "" {
		ref := o.slot
		if ref == "" {
			ref = spec.Export
		}
		if err := export(ctx, w, o.slot, o.export); err != nil {
			return err
		}
		log.Info().Str("slot", ref).Str("path", o.export).Msg("exported")
		fmt.Fprintf(out, "exported %s to %s\n", ref, o.export)
	}
	if o.save != "" {
		if err := w.Shell.SaveProjectFile(ctx, o.save); err != nil {
			return err
		}
		fmt.Fprintf(out, "saved %s\n", o.save)
	}
	if o.saveAs != "" {
		store, closeStore, err := a.openStore(ctx, "")
		if err != nil {
			return err
		}
		defer closeStore()
		id, err := w.Shell.SaveSnapshot(ctx, store, o.saveAs)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "snapshot %s\n", id)
	}
	return nil
}

// addInput adds an image file to a data selection applet. in is a path or
// "<applet>=<path>".
func addInput(w *workflow.Workflow, in string) error {
	name, path := dataselection.Name, in
	if i := strings.Index(in, "="); i > 0 {
		name, path = in[:i], in[i+1:]
	}
	ap, err := w.Applet(name)
	if err != nil {
		return err
	}
	ds, ok := ap.(*dataselection.Applet)
	if !ok {
		return fmt.Errorf("applet %q does not take input images", name)
	}
	return ds.Operator().AddFile(path, "")
}

func paintLabels(w *workflow.Workflow, path string) error {
	for _, ap := range w.Shell.Applets() {
		pc, ok := ap.(*pixelclassification.Applet)
		if !ok {
			continue
		}
		img, err := imageio.Load(path)
		if err != nil {
			return err
		}
		return pc.Operator().PaintLabels(make([]int, len(img.Array.Shape)), img.Array)
	}
	return fmt.Errorf("workflow %s has no pixel classification applet", w.Spec.Workflow)
}

func export(ctx context.Context, w *workflow.Workflow, ref, path string) error {
	arr, err := w.Export(ctx, ref)
	if err != nil {
		return err
	}
	return imageio.SavePNG(path, arr)
}
