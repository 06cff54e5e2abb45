// Command matchengine is the operator CLI for the match engine: search,
// upsert, delete and rebuild against a configured store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/vyaamik/matchengine"
	"github.com/vyaamik/matchengine/blobstore"
	"github.com/vyaamik/matchengine/cache"
	"github.com/vyaamik/matchengine/cache/dynamo"
	"github.com/vyaamik/matchengine/config"
	"github.com/vyaamik/matchengine/embedding"
	"github.com/vyaamik/matchengine/index/hnsw"
	"github.com/vyaamik/matchengine/ranking"
	"github.com/vyaamik/matchengine/vectorstore"
	"github.com/vyaamik/matchengine/vectorstore/badgerstore"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "matchengine",
		Short: "Hybrid similarity-search and ranking engine",
		Long: `matchengine turns a text query into a ranked list of entity ids:
embed, retrieve approximate neighbors, build features, optionally re-rank.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(searchCmd(), upsertCmd(), deleteCmd(), rebuildCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildEngine wires an Engine from the loaded configuration.
func buildEngine(ctx context.Context) (*matchengine.Engine, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := matchengine.NewJSONLogger(level)

	var store vectorstore.Store
	if cfg.Store.BadgerPath != "" || cfg.Store.InMemory {
		store, err = badgerstore.Open(badgerstore.Options{
			Path:     cfg.Store.BadgerPath,
			InMemory: cfg.Store.InMemory,
			Logger:   logger.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
	} else {
		store = vectorstore.NewMemoryStore()
	}

	var remote cache.Remote
	if cfg.Cache.DynamoTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		remote = dynamo.New(dynamodb.NewFromConfig(awsCfg), cfg.Cache.DynamoTable)
	}

	tiered := cache.NewTiered(cache.TieredOptions{
		Remote:            remote,
		LocalBudget:       cfg.Cache.LocalBudgetBytes,
		Algo:              compressionAlgo(cfg.Cache.Compression),
		CompressThreshold: cfg.Cache.CompressThreshold,
		Logger:            logger.Logger,
	})

	gateway := embedding.NewGateway(cfg.Embedding.BaseURL, embedding.Options{
		Timeout:   cfg.Embedding.Timeout.Std(),
		RateLimit: cfg.Embedding.RateLimit,
		Logger:    logger.Logger,
	})

	opts := []matchengine.Option{
		matchengine.WithStore(store),
		matchengine.WithCache(tiered),
		matchengine.WithDims(cfg.Dims),
		matchengine.WithOverfetch(cfg.Overfetch),
		matchengine.WithEmbeddingTTL(cfg.Cache.EmbeddingTTL.Std()),
		matchengine.WithHNSWConfig(hnsw.Config{
			M:              cfg.Index.M,
			EfConstruction: cfg.Index.EfConstruction,
			EfSearch:       cfg.Index.EfSearch,
			LevelMult:      cfg.Index.LevelMult,
		}),
		matchengine.WithLogger(logger),
	}
	if cfg.Ranking.Enabled {
		opts = append(opts, matchengine.WithRanker(ranking.NewClient(cfg.Ranking.BaseURL, ranking.Options{
			Timeout: cfg.Ranking.Timeout.Std(),
			Logger:  logger.Logger,
		})))
	}
	if cfg.Snapshots.Path != "" {
		blobs, err := blobstore.NewLocalStore(cfg.Snapshots.Path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, matchengine.WithBlobStore(blobs))
	}

	return matchengine.New(gateway, opts...)
}

func compressionAlgo(name string) cache.Compression {
	switch name {
	case "lz4":
		return cache.CompressionLZ4
	case "none":
		return cache.CompressionNone
	default:
		return cache.CompressionZSTD
	}
}

func searchCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <type> <query>",
		Short: "Run a ranked similarity search",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Rebuild(ctx, args[0]); err != nil {
				return err
			}
			results, err := eng.Search(ctx, args[0], args[1], topK)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(map[string]any{"results": results})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 10, "number of results")
	return cmd
}

func upsertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upsert <type> <id> <vector-json>",
		Short: "Store an entity vector",
		Long:  "Store an entity vector. The vector is a JSON array, e.g. '[0.1, 0.2, ...]'.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var vec []float32
			if err := json.Unmarshal([]byte(args[2]), &vec); err != nil {
				return fmt.Errorf("parse vector: %w", err)
			}

			ctx := cmd.Context()
			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			return eng.Upsert(ctx, args[0], args[1], vec)
		},
	}
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Remove an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			return eng.Delete(ctx, args[0], args[1])
		},
	}
}

func rebuildCmd() *cobra.Command {
	var snapshot bool
	cmd := &cobra.Command{
		Use:   "rebuild <type>",
		Short: "Rebuild the proximity index from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Rebuild(ctx, args[0]); err != nil {
				return err
			}
			if snapshot {
				return eng.SaveSnapshot(ctx, args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "save an index snapshot after rebuilding")
	return cmd
}
