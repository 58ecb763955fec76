package commands

import (
	"errors"
	"fmt"

	"github.com/mscno/staffsync"
	"github.com/mscno/staffsync/pkg/updater"
)

var errAborted = errors.New("update aborted")

type HarvestCmd struct{}

func (c *HarvestCmd) Run(ctx *cliCtx) error {
	s, err := openSyncer(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.Harvest(ctx)
	pushMetrics(ctx, s, "harvest")
	if err != nil {
		return err
	}
	printHarvest(res)
	fmt.Printf("Snapshot written to %s\n", s.RecordsPath())
	return nil
}

// UpdateFlags are shared by update and sync.
type UpdateFlags struct {
	EmployeeID string `help:"Only update the person with this employee id" short:"e"`
	Yes        bool   `help:"Update all persons without asking for confirmation" short:"y"`
	DryRun     bool   `help:"Merge and export the documents without writing them back" short:"d"`
}

func (f UpdateFlags) options() staffsync.UpdateOptions {
	return staffsync.UpdateOptions{EmployeeID: f.EmployeeID, DryRun: f.DryRun}
}

// confirmed asks before writing to every person in the registry.
func (f UpdateFlags) confirmed(ctx *cliCtx) bool {
	if f.Yes || f.DryRun || f.EmployeeID != "" {
		return true
	}
	return confirm(ctx.In, "Update the profiles of all persons in the registry?")
}

type UpdateCmd struct {
	UpdateFlags `embed:""`
}

func (c *UpdateCmd) Run(ctx *cliCtx) error {
	if !c.confirmed(ctx) {
		return errAborted
	}
	s, err := openSyncer(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := s.UpdateFromSnapshot(ctx, c.options())
	pushMetrics(ctx, s, "update")
	if err != nil {
		return err
	}
	return printReport(report, c.DryRun)
}

type SyncCmd struct {
	UpdateFlags `embed:""`
}

func (c *SyncCmd) Run(ctx *cliCtx) error {
	if !c.confirmed(ctx) {
		return errAborted
	}
	s, err := openSyncer(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.Sync(ctx, c.options())
	pushMetrics(ctx, s, "sync")
	if err != nil {
		return err
	}
	printHarvest(res.Harvest)
	return printReport(res.Update, c.DryRun)
}

func printHarvest(res *staffsync.HarvestResult) {
	fmt.Printf("Harvested %d identities into %d records\n", len(res.Identities), len(res.Records))
	fmt.Printf("Stored %d of %d photos (%d warnings)\n", res.Photos.Stored, res.Photos.Eligible, len(res.Photos.Warnings))
}

// printReport prints the update report and fails when any write-back failed.
func printReport(r *updater.Report, dryRun bool) error {
	if r.Records == 0 {
		fmt.Println("No records to update")
		return nil
	}
	if dryRun {
		fmt.Printf("Dry run: merged %d documents for %d records (%d warnings)\n", r.Merged, r.Records, len(r.Warnings))
		return nil
	}
	fmt.Printf("Updated %d of %d documents (%d failed, %d warnings)\n", r.Succeeded, r.Attempted, r.Failed(), len(r.Warnings))
	for _, f := range r.Failures {
		fmt.Printf("  %s: %v\n", f.UUID, f.Err)
	}
	if r.Failed() > 0 {
		return fmt.Errorf("%d write-backs failed", r.Failed())
	}
	return nil
}
