package commands

import "fmt"

type DirectoryCmd struct {
	Dump DirectoryDumpCmd `cmd:"" help:"Harvest the directory's employee pages into the harvest file"`
}

type DirectoryDumpCmd struct {
	MaxRecords int `help:"Stop after this many employee pages (0 for no limit); overrides the config file" default:"-1"`
}

func (c *DirectoryDumpCmd) Run(ctx *cliCtx) error {
	if c.MaxRecords >= 0 {
		ctx.Config.Directory.MaxRecords = c.MaxRecords
	}
	s, err := openSyncer(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.DumpDirectory(ctx)
	pushMetrics(ctx, s, "directory")
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d employee pages\n", n)
	return nil
}
