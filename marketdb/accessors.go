// Copyright 2026 The hookmarket Authors
// This file is part of the hookmarket library.
//
// The hookmarket library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hookmarket library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hookmarket library. If not, see <http://www.gnu.org/licenses/>.

package marketdb

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
)

// InsertWorkOrder writes a new work order together with its status index
// entry in one atomic batch.
func (d *Database) InsertWorkOrder(wo *types.WorkOrder) error {
	enc, err := json.Marshal(wo)
	if err != nil {
		return fmt.Errorf("marketdb: encode work order: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(workOrderKey(wo.ID), enc)
	batch.Put(workOrderStatusKey(string(wo.Status), wo.CreatedAt, wo.ID), []byte(wo.ID))
	return d.writeBatch(batch)
}

// UpdateWorkOrder replaces the whole row by id and moves the status index
// entry when the status changed.
func (d *Database) UpdateWorkOrder(wo *types.WorkOrder) error {
	old := new(types.WorkOrder)
	if err := d.get(workOrderKey(wo.ID), old); err != nil {
		return err
	}
	enc, err := json.Marshal(wo)
	if err != nil {
		return fmt.Errorf("marketdb: encode work order: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(workOrderKey(wo.ID), enc)
	if old.Status != wo.Status {
		batch.Delete(workOrderStatusKey(string(old.Status), old.CreatedAt, old.ID))
		batch.Put(workOrderStatusKey(string(wo.Status), wo.CreatedAt, wo.ID), []byte(wo.ID))
	}
	return d.writeBatch(batch)
}

// GetWorkOrder fetches a work order by id, or ErrNotFound.
func (d *Database) GetWorkOrder(id string) (*types.WorkOrder, error) {
	wo := new(types.WorkOrder)
	if err := d.get(workOrderKey(id), wo); err != nil {
		return nil, err
	}
	return wo, nil
}

// ListWorkOrders returns work orders newest-first, optionally filtered by
// status. The status filter is served from the secondary index.
func (d *Database) ListWorkOrders(status string) ([]*types.WorkOrder, error) {
	if status != "" {
		ids, err := d.scanValues(workOrderStatusScanPrefix(status))
		if err != nil {
			return nil, err
		}
		out := make([]*types.WorkOrder, 0, len(ids))
		for _, id := range ids {
			wo, err := d.GetWorkOrder(string(id))
			if err != nil {
				return nil, err
			}
			out = append(out, wo)
		}
		return out, nil
	}
	out, err := scan[types.WorkOrder](d, workOrderPrefix)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// InsertQuote writes an immutable quote row plus its id lookup entry.
func (d *Database) InsertQuote(q *types.Quote) error {
	enc, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marketdb: encode quote: %w", err)
	}
	key := quoteKey(q.WorkOrderID, q.CreatedAt, q.ID)
	batch := new(leveldb.Batch)
	batch.Put(key, enc)
	batch.Put(quoteIDKey(q.ID), key)
	return d.writeBatch(batch)
}

// GetQuote fetches a quote by id via the id lookup entry.
func (d *Database) GetQuote(id string) (*types.Quote, error) {
	var rowKey []byte
	if err := d.getRaw(quoteIDKey(id), &rowKey); err != nil {
		return nil, err
	}
	q := new(types.Quote)
	if err := d.get(rowKey, q); err != nil {
		return nil, err
	}
	return q, nil
}

// ListQuotes returns the quotes of a work order, oldest first.
func (d *Database) ListQuotes(workOrderID string) ([]*types.Quote, error) {
	return scan[types.Quote](d, quoteScanPrefix(workOrderID))
}

// InsertSubmission writes an immutable submission row plus its id lookup.
func (d *Database) InsertSubmission(s *types.Submission) error {
	enc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marketdb: encode submission: %w", err)
	}
	key := submissionKey(s.WorkOrderID, s.CreatedAt, s.ID)
	batch := new(leveldb.Batch)
	batch.Put(key, enc)
	batch.Put(submissionIDKey(s.ID), key)
	return d.writeBatch(batch)
}

// GetSubmission fetches a submission by id.
func (d *Database) GetSubmission(id string) (*types.Submission, error) {
	var rowKey []byte
	if err := d.getRaw(submissionIDKey(id), &rowKey); err != nil {
		return nil, err
	}
	s := new(types.Submission)
	if err := d.get(rowKey, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ListSubmissions returns the submissions of a work order, oldest first.
func (d *Database) ListSubmissions(workOrderID string) ([]*types.Submission, error) {
	return scan[types.Submission](d, submissionScanPrefix(workOrderID))
}

// InsertVerificationReport writes a report and its by-submission lookup.
func (d *Database) InsertVerificationReport(r *types.VerificationReport) error {
	enc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marketdb: encode report: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(reportKey(r.ID), enc)
	batch.Put(reportBySubKey(r.SubmissionID), []byte(r.ID))
	return d.writeBatch(batch)
}

// GetVerificationReport fetches a report by id.
func (d *Database) GetVerificationReport(id string) (*types.VerificationReport, error) {
	r := new(types.VerificationReport)
	if err := d.get(reportKey(id), r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetReportBySubmission fetches the report produced for a submission.
func (d *Database) GetReportBySubmission(submissionID string) (*types.VerificationReport, error) {
	var id []byte
	if err := d.getRaw(reportBySubKey(submissionID), &id); err != nil {
		return nil, err
	}
	return d.GetVerificationReport(string(id))
}

// InsertPaymentEvent appends a payment event. Rows are keyed oldest-first.
func (d *Database) InsertPaymentEvent(p *types.PaymentEvent) error {
	return d.put(paymentKey(p.WorkOrderID, p.CreatedAt, p.ID), p)
}

// ListPaymentEvents returns the payment events of a work order, oldest first.
func (d *Database) ListPaymentEvents(workOrderID string) ([]*types.PaymentEvent, error) {
	return scan[types.PaymentEvent](d, paymentScanPrefix(workOrderID))
}

// UpsertSolverStats writes the whole stats row, keyed by lowercase address.
func (d *Database) UpsertSolverStats(s *types.SolverStats) error {
	s.Address = types.NormalizeAddress(s.Address)
	return d.put(solverKey(s.Address), s)
}

// GetSolverStats returns the stats for an address, or a zeroed row when the
// solver was never seen.
func (d *Database) GetSolverStats(address string) (*types.SolverStats, error) {
	addr := types.NormalizeAddress(address)
	s := new(types.SolverStats)
	err := d.get(solverKey(addr), s)
	if err == ErrNotFound {
		return &types.SolverStats{Address: addr}, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// HasSolverStats reports whether a stats row exists for the address.
func (d *Database) HasSolverStats(address string) (bool, error) {
	ok, err := d.ldb.Has(solverKey(types.NormalizeAddress(address)), nil)
	if err != nil {
		return false, fmt.Errorf("marketdb: has solver stats: %w", err)
	}
	return ok, nil
}

// ListSolverStats returns all solver stats rows, ordered by address.
func (d *Database) ListSolverStats() ([]*types.SolverStats, error) {
	return scan[types.SolverStats](d, solverPrefix)
}

// getRaw reads an index row holding a raw key (not JSON).
func (d *Database) getRaw(key []byte, out *[]byte) error {
	getCounter.Inc(1)
	data, err := d.ldb.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("marketdb: get %s: %w", string(key), err)
	}
	*out = data
	return nil
}
