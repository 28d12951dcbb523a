package routes

import (
	"encoding/hex"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trusttoken/contracts-pre22-sub001/native/loans"
)

// loanRoutes exposes read access to the fixed-term loan book.
type loanRoutes struct {
	node Node
}

func (lr *loanRoutes) mount(r chi.Router) {
	r.Get("/", lr.list)
	r.Get("/{id}", lr.get)
	r.Get("/{id}/value", lr.value)
	r.Get("/{id}/rating", lr.rating)
}

type loanView struct {
	ID          string `json:"id"`
	Pool        string `json:"pool"`
	Borrower    string `json:"borrower"`
	Principal   string `json:"principal"`
	APY         uint64 `json:"apy"`
	Duration    int64  `json:"duration"`
	Debt        string `json:"debt"`
	Status      string `json:"status"`
	Start       int64  `json:"start"`
	Returned    string `json:"returned"`
	TotalShares string `json:"totalShares"`
}

func newLoanView(loan *loans.Loan) loanView {
	return loanView{
		ID:          hex.EncodeToString(loan.ID[:]),
		Pool:        loan.Pool.String(),
		Borrower:    loan.Borrower.String(),
		Principal:   bigString(loan.Principal),
		APY:         loan.APY,
		Duration:    loan.Duration,
		Debt:        bigString(loan.Debt),
		Status:      loan.Status.String(),
		Start:       loan.Start,
		Returned:    bigString(loan.Returned),
		TotalShares: bigString(loan.TotalShares),
	}
}

func (lr *loanRoutes) list(w http.ResponseWriter, r *http.Request) {
	all, err := lr.node.State.Loans()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]loanView, 0, len(all))
	for _, loan := range all {
		views = append(views, newLoanView(loan))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loans": views})
}

func (lr *loanRoutes) get(w http.ResponseWriter, r *http.Request) {
	loan, ok := lr.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(loan))
}

func (lr *loanRoutes) value(w http.ResponseWriter, r *http.Request) {
	loan, ok := lr.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    hex.EncodeToString(loan.ID[:]),
		"value": bigString(lr.node.Loans.CurrentValue(loan)),
	})
}

func (lr *loanRoutes) rating(w http.ResponseWriter, r *http.Request) {
	loan, ok := lr.lookup(w, r)
	if !ok {
		return
	}
	record, err := lr.node.State.Rating(loan.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if record == nil {
		writeNotFound(w, "rating")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loanId":    hex.EncodeToString(record.LoanID[:]),
		"creator":   record.Creator.String(),
		"createdAt": record.CreatedAt,
		"retracted": record.Retracted,
		"totalYes":  bigString(record.TotalYes),
		"totalNo":   bigString(record.TotalNo),
		"reserved":  bigString(record.Reserved),
	})
}

func (lr *loanRoutes) lookup(w http.ResponseWriter, r *http.Request) (*loans.Loan, bool) {
	id, err := loanIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	loan, err := lr.node.State.Loan(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if loan == nil {
		writeNotFound(w, "loan")
		return nil, false
	}
	return loan, true
}
