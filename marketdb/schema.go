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

// Package marketdb is the durable store of the marketplace: a collection of
// low level key/value accessors with prefix-scanned secondary indexes.
package marketdb

import (
	"fmt"
	"math"
	"time"
)

// The fields below define the low level database schema prefixing.
var (
	workOrderPrefix       = []byte("wo:") // wo:<id> -> work order
	workOrderStatusPrefix = []byte("wx:") // wx:<status>:<invNano>:<id> -> id (newest first)

	quotePrefix   = []byte("qt:") // qt:<woId>:<nano>:<id> -> quote (oldest first)
	quoteIDPrefix = []byte("qi:") // qi:<id> -> qt row key

	submissionPrefix   = []byte("sb:") // sb:<woId>:<nano>:<id> -> submission (oldest first)
	submissionIDPrefix = []byte("si:") // si:<id> -> sb row key

	reportPrefix      = []byte("vr:") // vr:<id> -> verification report
	reportBySubPrefix = []byte("vs:") // vs:<submissionId> -> report id

	paymentPrefix = []byte("pe:") // pe:<woId>:<nano>:<id> -> payment event (oldest first)

	solverPrefix = []byte("ss:") // ss:<lowercase address> -> solver stats
)

func workOrderKey(id string) []byte {
	return append(workOrderPrefix, id...)
}

// workOrderStatusKey orders work orders newest-first within a status by
// encoding an inverted creation timestamp.
func workOrderStatusKey(status string, createdAt time.Time, id string) []byte {
	inv := uint64(math.MaxInt64) - uint64(createdAt.UnixNano())
	return append(workOrderStatusPrefix, fmt.Sprintf("%s:%020d:%s", status, inv, id)...)
}

func workOrderStatusScanPrefix(status string) []byte {
	return append(workOrderStatusPrefix, status+":"...)
}

func quoteKey(workOrderID string, createdAt time.Time, id string) []byte {
	return append(quotePrefix, fmt.Sprintf("%s:%020d:%s", workOrderID, createdAt.UnixNano(), id)...)
}

func quoteIDKey(id string) []byte {
	return append(quoteIDPrefix, id...)
}

func quoteScanPrefix(workOrderID string) []byte {
	return append(quotePrefix, workOrderID+":"...)
}

func submissionKey(workOrderID string, createdAt time.Time, id string) []byte {
	return append(submissionPrefix, fmt.Sprintf("%s:%020d:%s", workOrderID, createdAt.UnixNano(), id)...)
}

func submissionIDKey(id string) []byte {
	return append(submissionIDPrefix, id...)
}

func submissionScanPrefix(workOrderID string) []byte {
	return append(submissionPrefix, workOrderID+":"...)
}

func reportKey(id string) []byte {
	return append(reportPrefix, id...)
}

func reportBySubKey(submissionID string) []byte {
	return append(reportBySubPrefix, submissionID...)
}

func paymentKey(workOrderID string, createdAt time.Time, id string) []byte {
	return append(paymentPrefix, fmt.Sprintf("%s:%020d:%s", workOrderID, createdAt.UnixNano(), id)...)
}

func paymentScanPrefix(workOrderID string) []byte {
	return append(paymentPrefix, workOrderID+":"...)
}

func solverKey(address string) []byte {
	return append(solverPrefix, address...)
}
