package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	"github.com/trusttoken/contracts-pre22-sub001/gateway/middleware"
	"github.com/trusttoken/contracts-pre22-sub001/native/oracle"
	"github.com/trusttoken/contracts-pre22-sub001/observability"
)

var errOracleUnavailable = errors.New("credit oracle not configured")

// creditRoutes exposes the revolving line-of-credit ledger. Mutating
// maintenance endpoints require the credit admin scope.
type creditRoutes struct {
	node Node
	auth *middleware.Authenticator
}

func (cr *creditRoutes) mount(r chi.Router) {
	r.Get("/{pool}/buckets/{score}", cr.bucket)
	r.Get("/{pool}/positions/{borrower}", cr.position)
	r.Get("/{pool}/interest-paid", cr.interestPaid)

	r.Group(func(gr chi.Router) {
		if cr.auth != nil {
			gr.Use(cr.auth.Middleware(ScopeCreditAdmin))
		}
		gr.Post("/{pool}/poke", cr.poke)
		gr.Post("/{pool}/positions/{borrower}/refresh", cr.refreshScore)
		gr.Post("/borrowers/{borrower}/allow", cr.allowBorrower)
		gr.Post("/borrowers/{borrower}/disallow", cr.disallowBorrower)
		gr.Put("/oracle/{borrower}", cr.setOracleRecord)
	})
}

type bucketView struct {
	Pool                       string `json:"pool"`
	Score                      uint8  `json:"score"`
	BorrowersCount             uint16 `json:"borrowersCount"`
	TotalBorrowed              string `json:"totalBorrowed"`
	Rate                       uint64 `json:"rate"`
	CumulativeInterestPerShare string `json:"cumulativeInterestPerShare"`
	UpdatedAt                  int64  `json:"updatedAt"`
}

func (cr *creditRoutes) bucket(w http.ResponseWriter, r *http.Request) {
	poolAddr, err := addrParam(r, "pool")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	score, err := scoreParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bucket, err := cr.node.Credit.Bucket(poolAddr, score)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bucketView{
		Pool:                       poolAddr.String(),
		Score:                      score,
		BorrowersCount:             bucket.BorrowersCount,
		TotalBorrowed:              bigString(bucket.TotalBorrowed),
		Rate:                       bucket.Rate,
		CumulativeInterestPerShare: bigString(bucket.CumulativeInterestPerShare),
		UpdatedAt:                  bucket.UpdatedAt,
	})
}

type positionView struct {
	Pool                  string `json:"pool"`
	Borrower              string `json:"borrower"`
	Principal             string `json:"principal"`
	Score                 uint8  `json:"score"`
	Interest              string `json:"interest"`
	NextInterestRepayTime int64  `json:"nextInterestRepayTime"`
	TotalInterestPaid     string `json:"totalInterestPaid"`
}

func (cr *creditRoutes) position(w http.ResponseWriter, r *http.Request) {
	poolAddr, borrower, ok := cr.params(w, r)
	if !ok {
		return
	}
	position, err := cr.node.Credit.Position(poolAddr, borrower)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	interest, err := cr.node.Credit.Interest(poolAddr, borrower)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView{
		Pool:                  poolAddr.String(),
		Borrower:              borrower.String(),
		Principal:             bigString(position.Principal),
		Score:                 position.Score,
		Interest:              bigString(interest),
		NextInterestRepayTime: position.NextInterestRepayTime,
		TotalInterestPaid:     bigString(position.TotalInterestPaid),
	})
}

func (cr *creditRoutes) interestPaid(w http.ResponseWriter, r *http.Request) {
	poolAddr, err := addrParam(r, "pool")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	total, err := cr.node.Credit.PoolInterestPaid(poolAddr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	observability.CreditLines().RecordInterestPaid(poolAddr.String(), total)
	writeJSON(w, http.StatusOK, map[string]string{
		"pool":         poolAddr.String(),
		"interestPaid": bigString(total),
	})
}

func (cr *creditRoutes) poke(w http.ResponseWriter, r *http.Request) {
	poolAddr, err := addrParam(r, "pool")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := cr.node.Credit.Poke(poolAddr); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pool": poolAddr.String(), "status": "poked"})
}

func (cr *creditRoutes) refreshScore(w http.ResponseWriter, r *http.Request) {
	poolAddr, borrower, ok := cr.params(w, r)
	if !ok {
		return
	}
	if err := cr.node.Credit.UpdateCreditScore(poolAddr, borrower); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"pool":     poolAddr.String(),
		"borrower": borrower.String(),
		"status":   "refreshed",
	})
}

// allowBorrower is the single admission point: the borrower is admitted to the
// credit line, to the fixed-term product, and as a rating submitter.
func (cr *creditRoutes) allowBorrower(w http.ResponseWriter, r *http.Request) {
	borrower, err := addrParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cr.node.Credit.AllowBorrower(borrower)
	cr.node.Lender.AllowBorrower(borrower)
	if cr.node.Rating != nil {
		cr.node.Rating.AllowSubmitter(borrower)
	}
	writeJSON(w, http.StatusOK, map[string]string{"borrower": borrower.String(), "status": "allowed"})
}

func (cr *creditRoutes) disallowBorrower(w http.ResponseWriter, r *http.Request) {
	borrower, err := addrParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cr.node.Credit.DisallowBorrower(borrower)
	cr.node.Lender.DisallowBorrower(borrower)
	if cr.node.Rating != nil {
		cr.node.Rating.DisallowSubmitter(borrower)
	}
	writeJSON(w, http.StatusOK, map[string]string{"borrower": borrower.String(), "status": "disallowed"})
}

type oracleRecordRequest struct {
	Score    uint8  `json:"score"`
	MaxLimit string `json:"maxLimit"`
	Status   string `json:"status"`
}

func (cr *creditRoutes) setOracleRecord(w http.ResponseWriter, r *http.Request) {
	if cr.node.Oracle == nil {
		writeError(w, http.StatusServiceUnavailable, errOracleUnavailable)
		return
	}
	borrower, err := addrParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req oracleRecordRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	limit, ok := new(big.Int).SetString(req.MaxLimit, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid maxLimit %q", req.MaxLimit))
		return
	}
	status, err := oracleStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := cr.node.Oracle.SetScore(borrower, req.Score, limit, status); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"borrower": borrower.String(), "status": "updated"})
}

func oracleStatus(raw string) (oracle.Status, error) {
	switch raw {
	case "eligible":
		return oracle.StatusEligible, nil
	case "onHold":
		return oracle.StatusOnHold, nil
	case "ineligible":
		return oracle.StatusIneligible, nil
	default:
		return 0, fmt.Errorf("unknown oracle status %q", raw)
	}
}

func (cr *creditRoutes) params(w http.ResponseWriter, r *http.Request) (crypto.Address, crypto.Address, bool) {
	poolAddr, err := addrParam(r, "pool")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return crypto.Address{}, crypto.Address{}, false
	}
	borrower, err := addrParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return crypto.Address{}, crypto.Address{}, false
	}
	return poolAddr, borrower, true
}
