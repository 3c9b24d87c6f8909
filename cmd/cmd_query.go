package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/edmongo/edmongo/core"
	"github.com/edmongo/edmongo/mongodriver"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"
)

// queryFlags are the OData options shared by pipeline and explain
type queryFlags struct {
	sel        string
	orderBy    string
	top        int
	skip       int
	filterFile string
}

func (f *queryFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.sel, "select", "", "$select, for example \"Name,Address/City\"")
	c.Flags().StringVar(&f.orderBy, "orderby", "", "$orderby, for example \"Age desc,Name\"")
	c.Flags().IntVar(&f.top, "top", -1, "$top, unset when negative")
	c.Flags().IntVar(&f.skip, "skip", -1, "$skip, unset when negative")
	c.Flags().StringVar(&f.filterFile, "filter-file", "", "JSON or YAML file holding a filter tree")
}

// options parses the flags. The filter file is read from fs.
func (f *queryFlags) options(fs afero.Fs) (core.QueryOptions, error) {
	req := core.QueryRequest{Select: f.sel, OrderBy: f.orderBy}
	if f.top >= 0 {
		top := f.top
		req.Top = &top
	}
	if f.skip >= 0 {
		skip := f.skip
		req.Skip = &skip
	}

	if f.filterFile != "" {
		b, err := afero.ReadFile(fs, f.filterFile)
		if err != nil {
			return core.QueryOptions{}, err
		}
		// YAML is a superset of JSON so one decoder reads both
		if err := yaml.Unmarshal(b, &req.Filter); err != nil {
			return core.QueryOptions{}, fmt.Errorf("filter file %s: %w", f.filterFile, err)
		}
	}
	return req.Options()
}

func resolveCmd() *cobra.Command {
	var asJSON bool

	c := &cobra.Command{
		Use:   "resolve <entity> <edm-path>",
		Short: "Print the mongo path of a logical property path",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			setup(cpath)
			g := newEngine()
			defer g.Close()

			res, err := g.Resolve(context.Background(), args[0], args[1])
			if err != nil {
				log.Fatalf("%s", err)
			}
			if err := printResolution(cmd.OutOrStdout(), res, asJSON); err != nil {
				log.Fatalf("%s", err)
			}
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print the full resolution as JSON")
	return c
}

func pipelineCmd() *cobra.Command {
	var qf queryFlags

	c := &cobra.Command{
		Use:   "pipeline <entity>",
		Short: "Print the aggregation pipeline for OData query options",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setup(cpath)

			opts, err := qf.options(afero.NewOsFs())
			if err != nil {
				log.Fatalf("%s", err)
			}

			g := newEngine()
			defer g.Close()

			p, err := g.BuildPipeline(context.Background(), args[0], opts)
			if err != nil {
				log.Fatalf("%s", err)
			}
			if err := printPipeline(cmd.OutOrStdout(), p); err != nil {
				log.Fatalf("%s", err)
			}
		},
	}
	qf.register(c)
	return c
}

func explainCmd() *cobra.Command {
	var qf queryFlags
	var verbose bool

	c := &cobra.Command{
		Use:   "explain <entity>",
		Short: "Ask MongoDB how it would run the pipeline and classify the plan",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setup(cpath)

			if conf.Mongo.URI == "" {
				log.Fatal("explain requires mongo.uri in the config")
			}

			opts, err := qf.options(afero.NewOsFs())
			if err != nil {
				log.Fatalf("%s", err)
			}

			g := newEngine()
			defer g.Close()

			ctx := context.Background()
			p, err := g.BuildPipeline(ctx, args[0], opts)
			if err != nil {
				log.Fatalf("%s", err)
			}

			timeout := conf.Mongo.ConnectTimeout
			if timeout == 0 {
				timeout = 10 * time.Second
			}
			db, err := mongodriver.Open(ctx, conf.Mongo.URI, conf.Mongo.Database, timeout)
			if err != nil {
				log.Fatalf("%s", err)
			}
			defer db.Close(ctx) //nolint:errcheck

			out, err := db.Explain(ctx, p.Collection, p.Stages)
			if err != nil {
				log.Fatalf("%s", err)
			}

			w := cmd.OutOrStdout()
			if verbose {
				b, err := bson.MarshalExtJSONIndent(out, false, false, "", "  ")
				if err != nil {
					log.Fatalf("%s", err)
				}
				fmt.Fprintf(w, "%s\n\n", b)
			}

			cl, err := g.Classify(ctx, out)
			if err != nil {
				log.Fatalf("%s", err)
			}
			printPlan(w, cl)
		},
	}
	qf.register(c)
	c.Flags().BoolVar(&verbose, "verbose", false, "also print the explain output")
	return c
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <explain.json>",
		Short: "Classify the winning plan of a saved explain output",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cl, err := classifyFile(afero.NewOsFs(), args[0])
			if err != nil {
				log.Fatalf("%s", err)
			}
			printPlan(cmd.OutOrStdout(), cl)
		},
	}
}

func entitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List the configured entities and their collections",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			setup(cpath)
			g := newEngine()
			defer g.Close()

			if err := printEntities(cmd.OutOrStdout(), g); err != nil {
				log.Fatalf("%s", err)
			}
		},
	}
}

// classifyFile reads explain output saved as JSON or extended JSON
func classifyFile(fs afero.Fs, name string) (core.Classification, error) {
	b, err := afero.ReadFile(fs, name)
	if err != nil {
		return core.Classification{}, err
	}

	var doc bson.M
	if err := bson.UnmarshalExtJSON(b, false, &doc); err != nil {
		return core.Classification{}, fmt.Errorf("%s: %w", name, err)
	}
	return core.Classify(doc)
}

func printResolution(w io.Writer, res core.Resolution, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(w, res.MongoPath)
		return err
	}

	b, err := json.MarshalIndent(struct {
		EdmPath   string `json:"edm_path"`
		MongoPath string `json:"mongo_path"`
		Unrolls   int    `json:"unrolls"`
		Key       bool   `json:"key"`
	}{res.EdmPath, res.MongoPath, res.Unrolls, res.Key}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func printPipeline(w io.Writer, p *core.Pipeline) error {
	stages := make([]json.RawMessage, 0, len(p.Stages))
	for _, st := range p.Stages {
		b, err := bson.MarshalExtJSON(st, false, false)
		if err != nil {
			return err
		}
		stages = append(stages, b)
	}

	b, err := json.MarshalIndent(struct {
		Collection     string            `json:"collection"`
		Stages         []json.RawMessage `json:"stages"`
		UsedFields     []string          `json:"used_fields,omitempty"`
		ProducedFields []string          `json:"produced_fields,omitempty"`
	}{p.Collection, stages, p.UsedFields, p.ProducedFields}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func printPlan(w io.Writer, cl core.Classification) {
	fmt.Fprintf(w, "plan:        %s\n", cl.Summary())
	fmt.Fprintf(w, "kind:        %s\n", cl.Underlying().Kind)
	fmt.Fprintf(w, "uses index:  %v\n", cl.UsesIndex())
}

func printEntities(w io.Writer, g *core.Engine) error {
	for _, name := range g.Entities() {
		coll, err := g.Collection(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-24s %s\n", name, coll)
	}
	return nil
}
