package marketdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
)

func newWorkOrder(id string, status types.WorkOrderStatus, createdAt time.Time) *types.WorkOrder {
	return &types.WorkOrder{
		ID:           id,
		CreatedAt:    createdAt,
		Title:        "cap hook",
		TemplateType: "SWAP_CAP_HOOK",
		Bounty:       types.Bounty{Currency: "u", Amount: "10.00"},
		Status:       status,
		Challenge:    types.Challenge{Status: types.ChallengeNone},
	}
}

func TestWorkOrderRoundTrip(t *testing.T) {
	db := OpenMemory()
	defer db.Close()

	wo := newWorkOrder("wo-1", types.StatusBidding, time.Now())
	require.NoError(t, db.InsertWorkOrder(wo))

	got, err := db.GetWorkOrder("wo-1")
	require.NoError(t, err)
	require.Equal(t, wo.Title, got.Title)
	require.Equal(t, types.StatusBidding, got.Status)

	_, err = db.GetWorkOrder("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWorkOrderStatusIndexMoves(t *testing.T) {
	db := OpenMemory()
	defer db.Close()

	wo := newWorkOrder("wo-1", types.StatusBidding, time.Now())
	require.NoError(t, db.InsertWorkOrder(wo))

	bidding, err := db.ListWorkOrders(string(types.StatusBidding))
	require.NoError(t, err)
	require.Len(t, bidding, 1)

	wo.Status = types.StatusSelected
	require.NoError(t, db.UpdateWorkOrder(wo))

	bidding, err = db.ListWorkOrders(string(types.StatusBidding))
	require.NoError(t, err)
	require.Empty(t, bidding)

	selected, err := db.ListWorkOrders(string(types.StatusSelected))
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.Equal(t, "wo-1", selected[0].ID)
}

func TestListWorkOrdersNewestFirst(t *testing.T) {
	db := OpenMemory()
	defer db.Close()

	base := time.Now()
	for i, id := range []string{"wo-a", "wo-b", "wo-c"} {
		wo := newWorkOrder(id, types.StatusBidding, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, db.InsertWorkOrder(wo))
	}

	all, err := db.ListWorkOrders("")
	require.NoError(t, err)
	require.Equal(t, []string{"wo-c", "wo-b", "wo-a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	filtered, err := db.ListWorkOrders(string(types.StatusBidding))
	require.NoError(t, err)
	require.Equal(t, "wo-c", filtered[0].ID)
	require.Equal(t, "wo-a", filtered[2].ID)
}

func TestQuotesOldestFirst(t *testing.T) {
	db := OpenMemory()
	defer db.Close()

	base := time.Now()
	for i, id := range []string{"q-1", "q-2", "q-3"} {
		q := &types.Quote{
			ID:            id,
			WorkOrderID:   "wo-1",
			SolverAddress: "0xabc",
			Price:         "9",
			CreatedAt:     base.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, db.InsertQuote(q))
	}
	// A quote on another work order must not leak into the listing.
	require.NoError(t, db.InsertQuote(&types.Quote{ID: "q-x", WorkOrderID: "wo-2", CreatedAt: base}))

	quotes, err := db.ListQuotes("wo-1")
	require.NoError(t, err)
	require.Len(t, quotes, 3)
	require.Equal(t, "q-1", quotes[0].ID)
	require.Equal(t, "q-3", quotes[2].ID)

	q, err := db.GetQuote("q-2")
	require.NoError(t, err)
	require.Equal(t, "wo-1", q.WorkOrderID)
}

func TestSubmissionAndReportLookups(t *testing.T) {
	db := OpenMemory()
	defer db.Close()

	sub := &types.Submission{
		ID:          "sub-1",
		WorkOrderID: "wo-1",
		Artifact:    types.Artifact{Kind: types.ArtifactKindGitCommit, RepoURL: "r", CommitSha: "c"},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, db.InsertSubmission(sub))

	got, err := db.GetSubmission("sub-1")
	require.NoError(t, err)
	require.Equal(t, "wo-1", got.WorkOrderID)

	report := &types.VerificationReport{ID: "vr-1", SubmissionID: "sub-1", Status: types.ReportPass, ProducedAt: time.Now()}
	require.NoError(t, db.InsertVerificationReport(report))

	byID, err := db.GetVerificationReport("vr-1")
	require.NoError(t, err)
	require.Equal(t, types.ReportPass, byID.Status)

	bySub, err := db.GetReportBySubmission("sub-1")
	require.NoError(t, err)
	require.Equal(t, "vr-1", bySub.ID)

	_, err = db.GetReportBySubmission("sub-2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPaymentEventsOldestFirst(t *testing.T) {
	db := OpenMemory()
	defer db.Close()

	base := time.Now()
	for i, id := range []string{"p-1", "p-2"} {
		p := &types.PaymentEvent{
			ID:          id,
			WorkOrderID: "wo-1",
			Type:        types.PaymentQuoteReward,
			Amount:      "0.01",
			CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, db.InsertPaymentEvent(p))
	}

	events, err := db.ListPaymentEvents("wo-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "p-1", events[0].ID)
}

func TestSolverStatsUpsert(t *testing.T) {
	db := OpenMemory()
	defer db.Close()

	s, err := db.GetSolverStats("0xABCdef")
	require.NoError(t, err)
	require.Equal(t, "0xabcdef", s.Address)
	require.Zero(t, s.QuotesSubmitted)

	s.QuotesSubmitted++
	require.NoError(t, db.UpsertSolverStats(s))

	// Mixed case lookups hit the same row.
	again, err := db.GetSolverStats("0xAbCdEf")
	require.NoError(t, err)
	require.Equal(t, int64(1), again.QuotesSubmitted)

	all, err := db.ListSolverStats()
	require.NoError(t, err)
	require.Len(t, all, 1)
}
