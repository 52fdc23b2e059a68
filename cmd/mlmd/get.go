package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	mlmd "github.com/sile/mlmd-go"
	"github.com/sile/mlmd-go/metadata"
)

var getFlags struct {
	typeName   string
	name       string
	limit      int
	offset     int
	artifacts  []int32
	executions []int32
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Read items from the database as JSON",
}

var getArtifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "List artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		req := store.GetArtifacts()
		if getFlags.typeName != "" && getFlags.name != "" {
			req.TypeAndName(getFlags.typeName, getFlags.name)
		} else if getFlags.typeName != "" {
			req.Type(getFlags.typeName)
		}
		applyPaging(func(n int) { req.Limit(n) }, func(n int) { req.Offset(n) })
		artifacts, err := req.Execute(ctx)
		if err != nil {
			return err
		}
		rows := make([]artifactJSON, len(artifacts))
		for i, a := range artifacts {
			rows[i] = artifactToJSON(a)
		}
		return printJSON(cmd.OutOrStdout(), rows)
	},
}

var getExecutionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "List executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		req := store.GetExecutions()
		if getFlags.typeName != "" && getFlags.name != "" {
			req.TypeAndName(getFlags.typeName, getFlags.name)
		} else if getFlags.typeName != "" {
			req.Type(getFlags.typeName)
		}
		applyPaging(func(n int) { req.Limit(n) }, func(n int) { req.Offset(n) })
		executions, err := req.Execute(ctx)
		if err != nil {
			return err
		}
		rows := make([]executionJSON, len(executions))
		for i, e := range executions {
			rows[i] = executionToJSON(e)
		}
		return printJSON(cmd.OutOrStdout(), rows)
	},
}

var getContextsCmd = &cobra.Command{
	Use:   "contexts",
	Short: "List contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		req := store.GetContexts()
		if getFlags.typeName != "" && getFlags.name != "" {
			req.TypeAndName(getFlags.typeName, getFlags.name)
		} else if getFlags.typeName != "" {
			req.Type(getFlags.typeName)
		}
		applyPaging(func(n int) { req.Limit(n) }, func(n int) { req.Offset(n) })
		contexts, err := req.Execute(ctx)
		if err != nil {
			return err
		}
		rows := make([]contextJSON, len(contexts))
		for i, c := range contexts {
			rows[i] = contextToJSON(c)
		}
		return printJSON(cmd.OutOrStdout(), rows)
	},
}

var getTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List registered types of every kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var rows []typeJSON
		for _, req := range []*mlmd.GetTypesRequest{
			store.GetArtifactTypes(),
			store.GetExecutionTypes(),
			store.GetContextTypes(),
		} {
			if getFlags.name != "" {
				req.Name(getFlags.name)
			}
			types, err := req.Execute(ctx)
			if err != nil {
				return err
			}
			for _, ty := range types {
				rows = append(rows, typeToJSON(ty))
			}
		}
		return printJSON(cmd.OutOrStdout(), rows)
	},
}

var getEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		req := store.GetEvents()
		for _, id := range getFlags.artifacts {
			req.Artifact(metadata.ArtifactID(id))
		}
		for _, id := range getFlags.executions {
			req.Execution(metadata.ExecutionID(id))
		}
		applyPaging(func(n int) { req.Limit(n) }, func(n int) { req.Offset(n) })
		events, err := req.Execute(ctx)
		if err != nil {
			return err
		}
		rows := make([]eventJSON, len(events))
		for i, e := range events {
			rows[i] = eventToJSON(e)
		}
		return printJSON(cmd.OutOrStdout(), rows)
	},
}

func applyPaging(limit, offset func(int)) {
	if getFlags.limit > 0 {
		limit(getFlags.limit)
		if getFlags.offset > 0 {
			offset(getFlags.offset)
		}
	}
}

func init() {
	getCmd.PersistentFlags().StringVar(&getFlags.typeName, "type", "", "filter by type name")
	getCmd.PersistentFlags().StringVar(&getFlags.name, "name", "", "filter by item or type name")
	getCmd.PersistentFlags().IntVar(&getFlags.limit, "limit", 0, "cap the number of results")
	getCmd.PersistentFlags().IntVar(&getFlags.offset, "offset", 0, "skip the first N results (needs --limit)")
	getEventsCmd.Flags().Int32SliceVar(&getFlags.artifacts, "artifact", nil, "filter by artifact ids")
	getEventsCmd.Flags().Int32SliceVar(&getFlags.executions, "execution", nil, "filter by execution ids")

	getCmd.AddCommand(getArtifactsCmd, getExecutionsCmd, getContextsCmd, getTypesCmd, getEventsCmd)
	rootCmd.AddCommand(getCmd)
}

// JSON shapes for CLI output.

type artifactJSON struct {
	ID         int32          `json:"id"`
	TypeID     int32          `json:"type_id"`
	Name       *string        `json:"name,omitempty"`
	URI        *string        `json:"uri,omitempty"`
	State      string         `json:"state"`
	Properties map[string]any `json:"properties,omitempty"`
	Custom     map[string]any `json:"custom_properties,omitempty"`
	CreateTime time.Time      `json:"create_time"`
	UpdateTime time.Time      `json:"last_update_time"`
}

type executionJSON struct {
	ID         int32          `json:"id"`
	TypeID     int32          `json:"type_id"`
	Name       *string        `json:"name,omitempty"`
	State      string         `json:"last_known_state"`
	Properties map[string]any `json:"properties,omitempty"`
	Custom     map[string]any `json:"custom_properties,omitempty"`
	CreateTime time.Time      `json:"create_time"`
	UpdateTime time.Time      `json:"last_update_time"`
}

type contextJSON struct {
	ID         int32          `json:"id"`
	TypeID     int32          `json:"type_id"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	Custom     map[string]any `json:"custom_properties,omitempty"`
	CreateTime time.Time      `json:"create_time"`
	UpdateTime time.Time      `json:"last_update_time"`
}

type typeJSON struct {
	ID         int32             `json:"id"`
	Kind       string            `json:"kind"`
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties,omitempty"`
}

type eventJSON struct {
	ArtifactID  int32     `json:"artifact_id"`
	ExecutionID int32     `json:"execution_id"`
	Type        int32     `json:"type"`
	Path        []any     `json:"path,omitempty"`
	CreateTime  time.Time `json:"create_time"`
}

func artifactToJSON(a metadata.Artifact) artifactJSON {
	return artifactJSON{
		ID:         int32(a.ID),
		TypeID:     int32(a.TypeID),
		Name:       a.Name,
		URI:        a.URI,
		State:      stateName(int32(a.State), artifactStateNames),
		Properties: propsToJSON(a.Properties),
		Custom:     propsToJSON(a.CustomProperties),
		CreateTime: a.CreateTime,
		UpdateTime: a.LastUpdateTime,
	}
}

func executionToJSON(e metadata.Execution) executionJSON {
	return executionJSON{
		ID:         int32(e.ID),
		TypeID:     int32(e.TypeID),
		Name:       e.Name,
		State:      stateName(int32(e.LastKnownState), executionStateNames),
		Properties: propsToJSON(e.Properties),
		Custom:     propsToJSON(e.CustomProperties),
		CreateTime: e.CreateTime,
		UpdateTime: e.LastUpdateTime,
	}
}

func contextToJSON(c metadata.Context) contextJSON {
	return contextJSON{
		ID:         int32(c.ID),
		TypeID:     int32(c.TypeID),
		Name:       c.Name,
		Properties: propsToJSON(c.Properties),
		Custom:     propsToJSON(c.CustomProperties),
		CreateTime: c.CreateTime,
		UpdateTime: c.LastUpdateTime,
	}
}

func typeToJSON(t metadata.Type) typeJSON {
	props := make(map[string]string, len(t.Properties))
	for name, pt := range t.Properties {
		props[name] = pt.String()
	}
	return typeJSON{
		ID:         int32(t.ID),
		Kind:       t.Kind.String(),
		Name:       t.Name,
		Properties: props,
	}
}

func eventToJSON(e metadata.Event) eventJSON {
	var path []any
	for _, step := range e.Path {
		if i, ok := step.Index(); ok {
			path = append(path, i)
			continue
		}
		if k, ok := step.Key(); ok {
			path = append(path, k)
		}
	}
	return eventJSON{
		ArtifactID:  int32(e.ArtifactID),
		ExecutionID: int32(e.ExecutionID),
		Type:        int32(e.Type),
		Path:        path,
		CreateTime:  e.CreateTime,
	}
}

func propsToJSON(p metadata.PropertyValues) map[string]any {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]any, len(p))
	for name, v := range p {
		if i, ok := v.AsInt(); ok {
			out[name] = i
		} else if d, ok := v.AsDouble(); ok {
			out[name] = d
		} else if s, ok := v.AsString(); ok {
			out[name] = s
		}
	}
	return out
}

var artifactStateNames = []string{"unknown", "pending", "live", "marked_for_deletion", "deleted"}

var executionStateNames = []string{"unknown", "new", "running", "complete", "failed", "cached", "canceled"}

func stateName(v int32, names []string) string {
	if int(v) < len(names) {
		return names[v]
	}
	return "invalid"
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
