package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/signalqueue/internal/lifecycle"
	"github.com/ppiankov/signalqueue/internal/model"
)

var (
	entityAfter    string
	entityLimit    int
	entityName     string
	entityType     string
	entityPersona  string
	entityAliases  []string
	entityFields   map[string]string
	entitySources  int
	entityHalfLife float64
)

// entityCmd groups entity lifecycle commands
var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Inspect tracked entities",
}

var entityShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an entity state with its current completeness",
	Long: `Show prints the stored entity state and a fresh completeness assessment.

Example:
  signalqueue entity show company:acme-therapeutics`,
	Args: cobra.ExactArgs(1),
	RunE: runEntityShow,
}

var entityUpsertCmd = &cobra.Command{
	Use:   "upsert",
	Short: "Create an entity or record new information about it",
	Long: `Upsert merges the given fields into the entity, refreshes its decay clock
and reassesses completeness.

Example:
  signalqueue entity upsert --type company --name "Acme Therapeutics" \
    --field industry=biotech --field website=acme.example --persona startup_banker`,
	Args: cobra.NoArgs,
	RunE: runEntityUpsert,
}

var entityContradictCmd = &cobra.Command{
	Use:   "contradict <id>",
	Short: "Record a contradiction found in an entity's information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEntity(cmd, args[0], func(a *app, ctx context.Context) (model.EntityState, error) {
			return a.orch.Lifecycle().RecordContradiction(ctx, args[0])
		})
	},
}

func newEngagementCmd(use, short string, action model.EngagementAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEntity(cmd, args[0], func(a *app, ctx context.Context) (model.EntityState, error) {
				return a.orch.Lifecycle().RecordEngagement(ctx, args[0], action)
			})
		},
	}
}

// withEntity runs one entity mutation and prints a one-line summary
func withEntity(cmd *cobra.Command, id string, fn func(a *app, ctx context.Context) (model.EntityState, error)) (err error) {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	st, err := fn(a, cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: views %d, watchlists %d, contradictions %d\n",
		id, st.Engagement.ViewCount, st.Engagement.WatchlistCount, st.Quality.ContradictionCount)
	return nil
}

type entityList func(m *lifecycle.Manager, ctx context.Context, after string, limit int) ([]model.EntityState, error)

func newEntityListCmd(use, short string, list entityList) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()

			states, err := list(a.orch.Lifecycle(), cmd.Context(), entityAfter, entityLimit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENTITY\tTYPE\tDECAY\tSTALE DAYS\tCOMPLETENESS\tCONTRADICTIONS")
			for _, st := range states {
				fmt.Fprintf(w, "%s\t%s\t%.3f\t%d\t%d\t%d\n",
					st.EntityID, st.EntityType,
					st.Freshness.DecayScore, st.Freshness.StaleDays,
					st.Completeness.Score, st.Quality.ContradictionCount)
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			if len(states) > 0 && len(states) == entityLimit {
				fmt.Fprintf(cmd.ErrOrStderr(), "\nMore results: --after %s\n", states[len(states)-1].EntityID)
			}
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(entityCmd)
	entityCmd.AddCommand(entityShowCmd)
	entityCmd.AddCommand(entityUpsertCmd)
	entityCmd.AddCommand(entityContradictCmd)
	entityCmd.AddCommand(newEngagementCmd("view", "Record that an entity was viewed", model.ActionView))
	entityCmd.AddCommand(newEngagementCmd("watch", "Add an entity to a watchlist", model.ActionWatchlistAdd))
	entityCmd.AddCommand(newEngagementCmd("unwatch", "Remove an entity from a watchlist", model.ActionWatchlistRemove))

	entityUpsertCmd.Flags().StringVar(&entityName, "name", "", "canonical entity name")
	entityUpsertCmd.Flags().StringVar(&entityType, "type", string(model.EntityCompany), "entity type (company, person, topic, product, event)")
	entityUpsertCmd.Flags().StringVar(&entityPersona, "persona", "", "primary persona id")
	entityUpsertCmd.Flags().StringSliceVar(&entityAliases, "alias", nil, "alternative names (repeatable)")
	entityUpsertCmd.Flags().StringToStringVar(&entityFields, "field", nil, "data field as key=value (repeatable)")
	entityUpsertCmd.Flags().IntVar(&entitySources, "sources", 0, "number of sources behind this update")
	entityUpsertCmd.Flags().Float64Var(&entityHalfLife, "half-life", 0, "decay half-life override in days")
	_ = entityUpsertCmd.MarkFlagRequired("name")

	lists := []*cobra.Command{
		newEntityListCmd("stale", "List entities below the stale decay threshold", (*lifecycle.Manager).Stale),
		newEntityListCmd("critical", "List entities below the critical decay threshold", (*lifecycle.Manager).Critical),
		newEntityListCmd("incomplete", "List entities below the completeness threshold", (*lifecycle.Manager).Incomplete),
		newEntityListCmd("contradicted", "List entities with recorded contradictions", (*lifecycle.Manager).Contradicted),
	}
	for _, c := range lists {
		c.Flags().StringVar(&entityAfter, "after", "", "return entities after this id")
		c.Flags().IntVar(&entityLimit, "limit", 50, "page size")
		entityCmd.AddCommand(c)
	}
}

func runEntityUpsert(cmd *cobra.Command, args []string) (err error) {
	typ := model.EntityType(entityType)
	if !typ.Valid() {
		return fmt.Errorf("invalid entity type %q", entityType)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	data := model.EntityData{Version: model.EntityDataVersion, Fields: make(map[string]any, len(entityFields))}
	for k, v := range entityFields {
		data.Fields[k] = v
	}

	st, err := a.orch.Lifecycle().Upsert(cmd.Context(), lifecycle.UpsertInput{
		Name:           entityName,
		Type:           typ,
		Aliases:        entityAliases,
		PrimaryPersona: entityPersona,
		Data:           data,
		HalfLifeDays:   entityHalfLife,
		SourceCount:    entitySources,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s (completeness %d/100)\n", st.EntityID, st.Completeness.Score)
	for _, op := range st.Completeness.EnrichmentOpportunities {
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", op)
	}
	return nil
}

func runEntityShow(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	st, err := a.store.GetEntity(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get entity %s: %w", args[0], err)
	}
	st.Completeness = a.orch.Lifecycle().Assess(st, time.Now().UTC())
	return printJSON(cmd, st)
}
