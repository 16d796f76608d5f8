// Package syncer reconciles snapshot sets produced independently on multiple
// machines. Each machine exports its full store tagged with a stable
// identity; foreign rows are combined by summation, the only sound way to
// merge disjoint partial totals without a conflict-resolution authority.
package syncer

import (
	"fmt"
	"time"

	"github.com/hildvein/usagevault/internal/store"
)

// Package is the full exported state of one machine's store.
type Package struct {
	MachineID  string                `json:"machine_id"`
	ExportedAt time.Time             `json:"exported_at"`
	Snapshots  []store.DailySnapshot `json:"snapshots"`
	ModelUsage []store.ModelUsage    `json:"model_usage"`
}

// MergeResult reports what an import did.
type MergeResult struct {
	Imported int // rows inserted for dates/models the local store had never seen
	Merged   int // rows added into existing local rows
}

// Export snapshots the full local store tagged with the machine identity.
func Export(st *store.Store) (*Package, error) {
	machineID, err := st.MachineID()
	if err != nil {
		return nil, err
	}

	snaps, err := st.AllDailySnapshots()
	if err != nil {
		return nil, fmt.Errorf("exporting snapshots: %w", err)
	}
	usage, err := st.AllModelUsage()
	if err != nil {
		return nil, fmt.Errorf("exporting model usage: %w", err)
	}

	// Rows that predate the machine tag belong to this installation.
	for i := range snaps {
		if snaps[i].Machine == "" {
			snaps[i].Machine = machineID
		}
	}

	return &Package{
		MachineID:  machineID,
		ExportedAt: time.Now().UTC(),
		Snapshots:  snaps,
		ModelUsage: usage,
	}, nil
}

// ImportAndMerge folds a remote package into the local store. Rows tagged
// with the local machine identity are skipped unconditionally: a machine
// never re-absorbs its own previously exported data. Everything else is
// additive, so re-merging the same remote package double-counts; that
// tradeoff is deliberate and covered by tests rather than guarded against.
func ImportAndMerge(st *store.Store, pkg *Package) (MergeResult, error) {
	var res MergeResult

	machineID, err := st.MachineID()
	if err != nil {
		return res, err
	}
	if pkg.MachineID == machineID {
		return res, nil
	}

	batch, err := st.Begin()
	if err != nil {
		return res, err
	}
	defer func() { _ = batch.Rollback() }()

	for _, snap := range pkg.Snapshots {
		owner := snap.Machine
		if owner == "" {
			owner = pkg.MachineID
		}
		if owner == machineID {
			continue
		}

		snap.Machine = owner
		imported, err := batch.MergeDailySnapshot(snap)
		if err != nil {
			return MergeResult{}, fmt.Errorf("merging snapshot %s: %w", snap.Date, err)
		}
		if imported {
			res.Imported++
		} else {
			res.Merged++
		}
	}

	for _, mu := range pkg.ModelUsage {
		imported, err := batch.MergeModelUsage(mu)
		if err != nil {
			return MergeResult{}, fmt.Errorf("merging model usage %s/%s: %w", mu.Date, mu.Model, err)
		}
		if imported {
			res.Imported++
		} else {
			res.Merged++
		}
	}

	if err := batch.Commit(); err != nil {
		return MergeResult{}, fmt.Errorf("committing merge: %w", err)
	}
	return res, nil
}
