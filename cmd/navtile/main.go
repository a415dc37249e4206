// Command navtile inspects navigation mesh sets and moves compressed tile
// layers in and out of the PostgreSQL archive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gorustyt/navtile/config"
	"github.com/gorustyt/navtile/logger"
	"github.com/gorustyt/navtile/navmesh"
	"github.com/gorustyt/navtile/tilecache"
	"github.com/gorustyt/navtile/tilestore"
)

const defaultConfigPath = "navtile.yaml"

// archiveWorkers bounds the concurrency of archive transfers.
const archiveWorkers = 8

func usage() {
	fmt.Fprintf(os.Stderr, `usage: navtile <command> [flags] [args]

commands:
  info <set-file>               print the layout and contents of a mesh set
  migrate                       apply tile archive migrations
  archive-push <layer-file>...  upload compressed layer files to the archive
  archive-pull <out-dir>        download every archived layer into a directory

flags:
  -config path   config file (default %s)
`, defaultConfigPath)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "navtile:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	switch command {
	case "info":
		if len(args) != 1 {
			return errors.New("info: expected one set file")
		}
		return runInfo(log, args[0])
	case "migrate":
		if err := tilestore.Migrate(ctx, cfg.Store.DSN()); err != nil {
			return err
		}
		log.Info("tile archive migrations applied")
		return nil
	case "archive-push":
		if len(args) == 0 {
			return errors.New("archive-push: expected layer files")
		}
		return runArchivePush(ctx, log, cfg, args)
	case "archive-pull":
		if len(args) != 1 {
			return errors.New("archive-pull: expected an output directory")
		}
		return runArchivePull(ctx, log, cfg, args[0])
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runInfo(log *zap.Logger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading mesh set: %w", err)
	}
	m, err := navmesh.LoadMeshSet(data)
	if err != nil {
		return err
	}

	params := m.GetParams()
	tiles, polys, verts := 0, 0, 0
	for i := 0; i < int(m.GetMaxTiles()); i++ {
		tile := m.GetTile(i)
		if tile.Header == nil {
			continue
		}
		tiles++
		polys += int(tile.Header.PolyCount)
		verts += int(tile.Header.VertCount)
	}
	log.Info("mesh set",
		zap.String("file", path),
		zap.Float32("tile_width", params.TileWidth),
		zap.Float32("tile_height", params.TileHeight),
		zap.Int32("max_tiles", params.MaxTiles),
		zap.Int32("max_polys", params.MaxPolys),
		zap.Int("tiles", tiles),
		zap.Int("polys", polys),
		zap.Int("verts", verts),
	)
	return nil
}

func runArchivePush(ctx context.Context, log *zap.Logger, cfg config.Config, files []string) error {
	store, err := tilestore.Open(ctx, cfg.Store.DSN())
	if err != nil {
		return err
	}
	defer store.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveWorkers)
	for _, path := range files {
		path := path
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading layer %s: %w", path, err)
			}
			header, status := tilecache.PeekLayerHeader(data)
			if status.Failed() {
				return fmt.Errorf("layer %s: %v", path, status)
			}
			key := tilestore.TileKey{TX: header.TX, TY: header.TY, TLayer: header.TLayer}
			if err := store.Put(ctx, key, data); err != nil {
				return err
			}
			log.Info("layer pushed",
				zap.String("file", path),
				zap.Int32("tx", key.TX),
				zap.Int32("ty", key.TY),
				zap.Int32("tlayer", key.TLayer),
			)
			return nil
		})
	}
	return g.Wait()
}

func runArchivePull(ctx context.Context, log *zap.Logger, cfg config.Config, outDir string) error {
	store, err := tilestore.Open(ctx, cfg.Store.DSN())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	keys, err := store.List(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveWorkers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			data, err := store.Get(ctx, key)
			if err != nil {
				return err
			}
			path := filepath.Join(outDir, fmt.Sprintf("tile_%d_%d_%d.bin", key.TX, key.TY, key.TLayer))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("writing layer %s: %w", path, err)
			}
			log.Info("layer pulled",
				zap.String("file", path),
				zap.Int32("tx", key.TX),
				zap.Int32("ty", key.TY),
				zap.Int32("tlayer", key.TLayer),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("archive pulled", zap.Int("tiles", len(keys)))
	return nil
}
