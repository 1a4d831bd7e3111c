package main

import (
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/mit-pdos/go-simplefs/bcache"
	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/fd"
	"github.com/mit-pdos/go-simplefs/fs"
	"github.com/mit-pdos/go-simplefs/util"
)

func main() {
	app := cli.App{
		Name:        appName,
		Description: "inspect and modify simplefs disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "yaml configuration file",
				EnvVars: []string{envVarPrefix + "_CONFIG_FILE"},
			},
		},
		Commands: []*cli.Command{{
			Name:        "mkfs",
			Aliases:     []string{"format"},
			ArgsUsage:   "IMAGE [HOSTFILE...]",
			Description: "create a fresh image, seeding it with host files",
			Flags: []cli.Flag{
				&cli.Uint64Flag{
					Name:  "blocks",
					Usage: "image size in blocks",
					Value: common.DEFAULTBLOCKS,
				},
				&cli.Uint64Flag{
					Name:  "inodes",
					Usage: "number of inodes",
					Value: common.MAXINODES,
				},
				&cli.StringFlag{
					Name:  "volume",
					Usage: "volume name",
				},
			},
			Action: mkfs,
		}, {
			Name:        "ls",
			ArgsUsage:   "IMAGE",
			Description: "list the root directory",
			Action: withFS(1, func(fsys *fs.FileSystem, ctx *cli.Context) error {
				ents, err := fsys.ListRoot()
				if err != nil {
					return err
				}
				for _, de := range ents {
					ip, err := fsys.Stat(de.Inum)
					if err != nil {
						return err
					}
					fmt.Printf("%4d %-4s %8d %s\n", de.Inum, de.Type, ip.Size, de.Name)
				}
				return nil
			}),
		}, {
			Name:        "cat",
			ArgsUsage:   "IMAGE NAME",
			Description: "copy a file to stdout",
			Action: withFiles(func(files *fd.Table, ctx *cli.Context) error {
				f, err := files.Open("/"+ctx.Args().Get(1), fd.O_RD)
				if err != nil {
					return err
				}
				buf := make([]byte, common.BlockSize)
				for {
					n, err := files.Read(f, buf)
					if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
						return fmt.Errorf("writing to stdout: %w", werr)
					}
					if err != nil {
						return err
					}
					if n == 0 {
						return nil
					}
				}
			}),
		}, {
			Name:        "write",
			ArgsUsage:   "IMAGE NAME",
			Description: "replace a file's contents with stdin or a host file",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "file",
					Usage: "read the contents from this host file",
				},
			},
			Action: withFiles(func(files *fd.Table, ctx *cli.Context) error {
				var data []byte
				var err error
				if path := ctx.String("file"); path != "" {
					data, err = ioutil.ReadFile(path)
				} else {
					data, err = ioutil.ReadAll(os.Stdin)
				}
				if err != nil {
					return fmt.Errorf("reading contents: %w", err)
				}
				f, err := files.Open("/"+ctx.Args().Get(1), fd.O_WR)
				if err != nil {
					return err
				}
				if _, err := files.Write(f, data); err != nil {
					files.Close(f)
					return err
				}
				return files.Close(f)
			}),
		}, {
			Name:        "create",
			Aliases:     []string{"touch"},
			ArgsUsage:   "IMAGE NAME",
			Description: "create an empty file in the root directory",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "dir",
					Usage: "create a directory entry instead of a file",
				},
			},
			Action: withFS(2, func(fsys *fs.FileSystem, ctx *cli.Context) error {
				t := common.FtReg
				if ctx.Bool("dir") {
					t = common.FtDir
				}
				_, err := fsys.Create(ctx.Args().Get(1), t)
				return err
			}),
		}, {
			Name:        "rm",
			Aliases:     []string{"remove", "delete"},
			ArgsUsage:   "IMAGE NAME",
			Description: "remove a file from the root directory",
			Action: withFS(2, func(fsys *fs.FileSystem, ctx *cli.Context) error {
				return fsys.Remove(ctx.Args().Get(1))
			}),
		}, {
			Name:        "stat",
			ArgsUsage:   "IMAGE",
			Description: "print superblock and cache statistics as yaml",
			Action: withFS(1, func(fsys *fs.FileSystem, ctx *cli.Context) error {
				// walk the root so the cache numbers mean something
				if _, err := fsys.ListRoot(); err != nil {
					return err
				}
				data, err := yaml.Marshal(struct {
					Super fs.SuperInfo `yaml:"super"`
					Cache bcache.Stats `yaml:"cache"`
				}{fsys.Super(), fsys.CacheStats()})
				if err != nil {
					return fmt.Errorf("marshaling stats to yaml: %w", err)
				}
				if _, err := os.Stdout.Write(data); err != nil {
					return fmt.Errorf("writing yaml to stdout: %w", err)
				}
				return nil
			}),
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var errUsage = errors.New("missing arguments")

func loadConfig(ctx *cli.Context) (*Config, error) {
	c, err := LoadConfig(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	util.SetDebug(c.Debug)
	return c, nil
}

func mkfs(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("mkfs IMAGE: %w", errUsage)
	}
	if _, err := loadConfig(ctx); err != nil {
		return err
	}
	var seeds []fs.SeedFile
	for _, path := range ctx.Args().Slice()[1:] {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		seeds = append(seeds, fs.SeedFile{Name: filepath.Base(path), Data: data})
	}
	return fs.FormatFile(ctx.Args().First(), ctx.Uint64("blocks"), fs.FormatOptions{
		Inodes: ctx.Uint64("inodes"),
		Volume: ctx.String("volume"),
		Files:  seeds,
	})
}

// withFS mounts the image named by the first of at least nargs arguments
// around f, and unmounts it afterwards, which persists any changes f made.
func withFS(nargs int, f func(*fs.FileSystem, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		if ctx.NArg() < nargs {
			return fmt.Errorf("%s %s: %w", ctx.Command.Name, ctx.Command.ArgsUsage, errUsage)
		}
		c, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		fsys, err := fs.MountFile(ctx.Args().First(), c.FsConfig())
		if err != nil {
			return err
		}
		err = f(fsys, ctx)
		if uerr := fsys.Unmount(); err == nil {
			err = uerr
		}
		return err
	}
}

func withFiles(f func(*fd.Table, *cli.Context) error) cli.ActionFunc {
	return withFS(2, func(fsys *fs.FileSystem, ctx *cli.Context) error {
		files := fd.MkTable(fsys)
		err := f(files, ctx)
		if cerr := files.CloseAll(); err == nil {
			err = cerr
		}
		return err
	})
}
