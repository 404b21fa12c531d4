package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/EdvardGK/sprucelab-sub000/internal/cache"
	"github.com/EdvardGK/sprucelab-sub000/internal/compress"
	"github.com/EdvardGK/sprucelab-sub000/internal/config"
	"github.com/EdvardGK/sprucelab-sub000/internal/geometry"
	"github.com/EdvardGK/sprucelab-sub000/internal/jobs"
	"github.com/EdvardGK/sprucelab-sub000/internal/reader"
	"github.com/EdvardGK/sprucelab-sub000/internal/service"
	"github.com/EdvardGK/sprucelab-sub000/internal/store"
	"github.com/EdvardGK/sprucelab-sub000/internal/validation"
)

func init() {
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(unpublishCmd())
	rootCmd.AddCommand(entitiesCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(diffCmd())
	rootCmd.AddCommand(workerCmd())

	rootCmd.AddCommand(versionCmd)
	versionCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	versionCmd.AddCommand(createVersionCmd())
	versionCmd.AddCommand(listVersionsCmd())
	versionCmd.AddCommand(deleteVersionCmd())
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "model version commands",
}

func newService() (*service.Service, store.Store, *config.Config) {
	cnf := config.LoadConfig()
	st := store.NewGormStore(config.GetDb(cnf))

	codec, err := compress.FromName(cnf.Compression)
	if err != nil {
		logrus.Fatalf("invalid compression config: %v", err)
	}

	var kv cache.KV = cache.NewMemory()
	if cnf.RedisAddr != "" {
		kv, err = cache.NewRedis(cnf.RedisAddr)
		if err != nil {
			logrus.Fatalf("connecting to redis: %v", err)
		}
	}

	geo := geometry.NewManager(st, codec, cnf.GeometryWorkers)
	return service.NewService(st, kv, geo, cnf.BatchSize), st, cnf
}

func createVersionCmd() *cobra.Command {
	var projectID string
	var name string

	command := &cobra.Command{
		Use:   "create",
		Short: "create a new model version",
		Run: func(cmd *cobra.Command, args []string) {
			pid, err := uuid.Parse(projectID)
			if err != nil {
				logrus.Fatalf("invalid project id: %v", err)
			}

			svc, _, _ := newService()
			version, err := svc.CreateVersion(context.Background(), pid, name)
			if err != nil {
				logrus.Fatalf("creating version: %v", err)
			}

			fmt.Printf("created version %s (number %d)\n", version.ID, version.VersionNumber)
		},
	}

	command.Flags().StringVarP(&projectID, "project-id", "p", "", "project id")
	command.Flags().StringVarP(&name, "name", "n", "", "model name")
	_ = command.MarkFlagRequired("project-id")
	_ = command.MarkFlagRequired("name")

	return command
}

func ingestCmd() *cobra.Command {
	var versionID string
	var filePath string
	var meshPath string

	command := &cobra.Command{
		Use:   "ingest",
		Short: "ingest a pre-parsed model dump into a version",
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(versionID)
			if err != nil {
				logrus.Fatalf("invalid version id: %v", err)
			}

			r, err := reader.FromJSONFile(filePath)
			if err != nil {
				logrus.Fatalf("opening model dump: %v", err)
			}

			var ex geometry.Extractor
			if meshPath != "" {
				ex, err = geometry.FromJSONFile(meshPath)
				if err != nil {
					logrus.Fatalf("opening mesh dump: %v", err)
				}
			}

			svc, _, cnf := newService()

			var rules *validation.RuleSet
			if cnf.RuleSetPath != "" {
				rules, err = validation.LoadRuleSet(cnf.RuleSetPath)
				if err != nil {
					logrus.Fatalf("loading rule set: %v", err)
				}
			}

			result, err := svc.Ingest(context.Background(), &service.IngestRequest{
				VersionID: id,
				Reader:    r,
				Extractor: ex,
				Rules:     rules,
			})
			if err != nil {
				logrus.Fatalf("ingestion failed: %v", err)
			}

			fmt.Printf("ingested %d elements (%d skipped, %d relationships)\n",
				result.Elements, result.Skipped, result.Relationships)
			if result.OlderSource {
				fmt.Println("warning: the uploaded file is older than the previous version's source")
			}
		},
	}

	command.Flags().StringVarP(&versionID, "version-id", "v", "", "model version id")
	command.Flags().StringVarP(&filePath, "file", "f", "", "path to the model dump json")
	command.Flags().StringVarP(&meshPath, "geometry", "g", "", "path to the mesh dump json (optional)")
	_ = command.MarkFlagRequired("version-id")
	_ = command.MarkFlagRequired("file")

	return command
}

func statusCmd() *cobra.Command {
	var versionID string

	command := &cobra.Command{
		Use:   "status",
		Short: "show the layer statuses of a version",
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(versionID)
			if err != nil {
				logrus.Fatalf("invalid version id: %v", err)
			}

			svc, _, _ := newService()
			status, err := svc.GetStatus(context.Background(), id)
			if err != nil {
				logrus.Fatalf("reading status: %v", err)
			}

			out, _ := json.MarshalIndent(status, "", "  ")
			fmt.Fprintln(os.Stdout, string(out))
		},
	}

	command.Flags().StringVarP(&versionID, "version-id", "v", "", "model version id")
	_ = command.MarkFlagRequired("version-id")

	return command
}

func publishCmd() *cobra.Command {
	var versionID string

	command := &cobra.Command{
		Use:   "publish",
		Short: "publish a version, unpublishing its siblings",
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(versionID)
			if err != nil {
				logrus.Fatalf("invalid version id: %v", err)
			}

			svc, _, _ := newService()
			if err := svc.Publish(context.Background(), id); err != nil {
				logrus.Fatalf("publishing: %v", err)
			}

			fmt.Printf("published version %s\n", versionID)
		},
	}

	command.Flags().StringVarP(&versionID, "version-id", "v", "", "model version id")
	_ = command.MarkFlagRequired("version-id")

	return command
}

func unpublishCmd() *cobra.Command {
	var versionID string

	command := &cobra.Command{
		Use:   "unpublish",
		Short: "clear the published flag of a version",
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(versionID)
			if err != nil {
				logrus.Fatalf("invalid version id: %v", err)
			}

			svc, _, _ := newService()
			if err := svc.Unpublish(context.Background(), id); err != nil {
				logrus.Fatalf("unpublishing: %v", err)
			}

			fmt.Printf("unpublished version %s\n", versionID)
		},
	}

	command.Flags().StringVarP(&versionID, "version-id", "v", "", "model version id")
	_ = command.MarkFlagRequired("version-id")

	return command
}

func listVersionsCmd() *cobra.Command {
	var projectID string
	var name string

	command := &cobra.Command{
		Use:   "list",
		Short: "list the versions of a named model",
		Run: func(cmd *cobra.Command, args []string) {
			pid, err := uuid.Parse(projectID)
			if err != nil {
				logrus.Fatalf("invalid project id: %v", err)
			}

			_, st, _ := newService()
			versions, err := st.ListModelVersions(context.Background(), pid, name)
			if err != nil {
				logrus.Fatalf("listing versions: %v", err)
			}

			for _, v := range versions {
				published := ""
				if v.IsPublished {
					published = " (published)"
				}
				fmt.Printf("%d\t%s\t%s%s\n", v.VersionNumber, v.ID, v.Overall(), published)
			}
		},
	}

	command.Flags().StringVarP(&projectID, "project-id", "p", "", "project id")
	command.Flags().StringVarP(&name, "name", "n", "", "model name")
	_ = command.MarkFlagRequired("project-id")
	_ = command.MarkFlagRequired("name")

	return command
}

func entitiesCmd() *cobra.Command {
	var versionID string
	var filter store.EntityFilter
	var withProperties bool

	command := &cobra.Command{
		Use:   "entities",
		Short: "query the entities of a version",
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(versionID)
			if err != nil {
				logrus.Fatalf("invalid version id: %v", err)
			}

			svc, st, _ := newService()
			entities, err := svc.QueryEntities(context.Background(), id, filter)
			if err != nil {
				logrus.Fatalf("querying entities: %v", err)
			}

			for _, e := range entities {
				removed := ""
				if e.IsRemoved {
					removed = " (removed)"
				}
				fmt.Printf("%s\t%s\t%s%s\n", e.GUID, e.Kind, e.Name, removed)

				if !withProperties {
					continue
				}
				props, err := st.ListEntityProperties(context.Background(), e.ID)
				if err != nil {
					logrus.Fatalf("reading properties: %v", err)
				}
				for _, p := range props {
					fmt.Printf("\t%s.%s = %s\n", p.GroupName, p.Name, p.Value)
				}
			}
		},
	}

	command.Flags().StringVarP(&versionID, "version-id", "v", "", "model version id")
	command.Flags().StringVarP(&filter.Kind, "kind", "k", "", "filter by entity kind")
	command.Flags().StringVar(&filter.StoreyGUID, "storey", "", "filter by storey guid")
	command.Flags().StringVar(&filter.SystemGUID, "system", "", "filter by system guid")
	command.Flags().BoolVar(&filter.IncludeRemoved, "include-removed", false, "include soft-deleted entities")
	command.Flags().BoolVar(&withProperties, "properties", false, "print property rows per entity")
	_ = command.MarkFlagRequired("version-id")

	return command
}

func reportCmd() *cobra.Command {
	var versionID string

	command := &cobra.Command{
		Use:   "report",
		Short: "show the validation report of a version",
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(versionID)
			if err != nil {
				logrus.Fatalf("invalid version id: %v", err)
			}

			svc, _, _ := newService()
			report, err := svc.GetValidationReport(context.Background(), id)
			if err != nil {
				logrus.Fatalf("reading report: %v", err)
			}

			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Fprintln(os.Stdout, string(out))
		},
	}

	command.Flags().StringVarP(&versionID, "version-id", "v", "", "model version id")
	_ = command.MarkFlagRequired("version-id")

	return command
}

func diffCmd() *cobra.Command {
	var versionID string

	command := &cobra.Command{
		Use:   "diff",
		Short: "list the diff entries of a version against its parent",
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(versionID)
			if err != nil {
				logrus.Fatalf("invalid version id: %v", err)
			}

			svc, _, _ := newService()
			entries, err := svc.ListVersionDiffs(context.Background(), id)
			if err != nil {
				logrus.Fatalf("reading diff: %v", err)
			}

			for _, entry := range entries {
				fmt.Printf("%s\t%s\t%s\n", entry.ChangeKind, entry.GUID, entry.Detail)
			}
		},
	}

	command.Flags().StringVarP(&versionID, "version-id", "v", "", "model version id")
	_ = command.MarkFlagRequired("version-id")

	return command
}

func workerCmd() *cobra.Command {
	var schedule string
	var meshDir string

	command := &cobra.Command{
		Use:   "worker",
		Short: "run the background geometry retry worker",
		Run: func(cmd *cobra.Command, args []string) {
			svc, st, _ := newService()

			provider := func(ctx context.Context, versionID uuid.UUID) (geometry.Extractor, error) {
				return geometry.FromJSONFile(filepath.Join(meshDir, versionID.String()+".json"))
			}

			retry := jobs.NewGeometryRetry(schedule, svc, st, provider)
			executor := jobs.NewTaskExecutor(nil, []jobs.CronJob{retry})
			executor.Run()
			defer executor.Stop()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
		},
	}

	command.Flags().StringVar(&schedule, "schedule", "@every 5m", "retry schedule in cron syntax")
	command.Flags().StringVar(&meshDir, "geometry-dir", ".", "directory holding per-version mesh dumps")

	return command
}

func deleteVersionCmd() *cobra.Command {
	var versionID string

	command := &cobra.Command{
		Use:   "delete",
		Short: "delete a version and its child versions",
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(versionID)
			if err != nil {
				logrus.Fatalf("invalid version id: %v", err)
			}

			svc, _, _ := newService()
			if err := svc.DeleteVersion(context.Background(), id); err != nil {
				logrus.Fatalf("deleting version: %v", err)
			}

			fmt.Printf("deleted version %s\n", versionID)
		},
	}

	command.Flags().StringVarP(&versionID, "version-id", "v", "", "model version id")
	_ = command.MarkFlagRequired("version-id")

	return command
}
